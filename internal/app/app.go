package app

import (
	"io"
	"log/slog"

	"github.com/vk/patchflow/internal/config"
	"github.com/vk/patchflow/internal/operator"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *operator.Registry
	config   *config.Config
	health   *healthServer
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// With no modules given, the core modules are registered.
func NewApp(outW io.Writer, cfg *config.Config, modules ...operator.Module) *App {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	reg := operator.NewWith(modules...)
	logger.Debug("All operator modules registered.", "modules", len(modules), "operators", len(reg.Names()))

	if err := reg.Validate(); err != nil {
		// A module that declares an inconsistent operator is a programmer error.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		config:   cfg,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *operator.Registry {
	return a.registry
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config {
	return a.config
}
