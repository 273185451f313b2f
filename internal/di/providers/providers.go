// Package providers holds the constructor functions wired into the DI container.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/logger"
	"github.com/bibliofed/bibliofed/internal/server"
)

// ProvideLogger builds the diagnostics logger from the configuration.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	}), nil
}

// ProvideServer assembles the server context: catalogue, queue, acceptor,
// operation log and registry registration.
func ProvideServer(i do.Injector) (*server.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	args := do.MustInvoke[config.ServerArgs](i)
	log := do.MustInvoke[*logger.Logger](i)
	return server.New(cfg, args, log)
}
