// Package main provides the entry point for the bibliofed aggregation client.
//
// Usage: bibclient --field1="v1" [--field2="v2" ...] [-p]
package main

import (
	"fmt"
	"os"

	"github.com/bibliofed/bibliofed/internal/client"
	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/logger"
)

func main() {
	cfg, err := config.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})

	c := client.New(cfg, log, os.Stdout)
	if err := c.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bibclient: %v\n", err)
		os.Exit(1)
	}
}
