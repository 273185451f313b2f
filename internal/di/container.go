// Package di provides dependency injection configuration for the bibliofed server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/bibliofed/bibliofed/internal/config"
	"github.com/bibliofed/bibliofed/internal/di/providers"
)

// NewContainer creates the DI container for one server process. The
// configuration and the parsed CLI arguments are injected as values;
// everything else is constructed lazily by its provider.
func NewContainer(cfg *config.Config, args config.ServerArgs) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, args)

	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideServer)

	return injector
}
