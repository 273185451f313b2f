// Package main provides the entry point for the bibliofed library server.
//
// Usage: bibserver [flags] <library-name> <record-basename> <W>
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/di"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/server"
)

func main() {
	cfg, positional, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	args, err := config.ParseServerArgs(positional)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\nUsage: bibserver <library-name> <record-basename> <W>\n", err)
		os.Exit(1)
	}

	injector := di.NewContainer(cfg, args)
	log := do.MustInvoke[*logger.Logger](injector)

	log.Info("starting library server",
		"library", args.LibraryName,
		"record", cfg.RecordPath(args.RecordBase),
		"workers", args.Workers,
		"environment", cfg.App.Environment,
	)

	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		log.Fatal("startup failed", "error", err)
	}

	// The signal handler only wakes the acceptor; all teardown happens on
	// the main goroutine when Run returns.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("signal received, shutting down", "signal", sig.String())
		srv.Wake()
	}()

	if err := srv.Run(); err != nil {
		os.Exit(1)
	}
}
