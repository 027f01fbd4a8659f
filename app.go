// Package fieldq assembles the offline debrief outbox for in-process use.
//
// UI code embeds one App per device profile: Open wires configuration,
// logging, the durable store, connectivity monitoring, and the submission
// engine together; the App's Engine carries the operations the screens call
// (Enqueue, RetryFailed, Items, PendingCount, Subscribe).
package fieldq

import (
	"context"
	"fmt"
	"log/slog"

	"fieldq/internal/config"
	"fieldq/internal/connectivity"
	"fieldq/internal/delivery"
	"fieldq/internal/engine"
	"fieldq/internal/logging"
	"fieldq/internal/notify"
	"fieldq/internal/outbox"
)

// App owns the assembled outbox stack.
type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *outbox.Store
	connectivity *connectivity.Service
	engine       *engine.Engine
}

// Open loads configuration from path (empty means the default search order)
// and assembles the stack. Nothing runs until Start.
func Open(configPath string) (*App, error) {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig assembles the stack around an already validated config.
func OpenWithConfig(cfg *config.Config) (*App, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := outbox.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	conn := connectivity.NewService(cfg.Connectivity, logger)
	client := delivery.NewHTTPClient(cfg.Delivery)

	eng, err := engine.New(cfg, store, client, conn, notify.NewHub(), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		connectivity: conn,
		engine:       eng,
	}, nil
}

// Start launches connectivity monitoring and the submission engine.
func (a *App) Start(ctx context.Context) error {
	a.connectivity.Start(ctx)
	if err := a.engine.Start(ctx); err != nil {
		a.connectivity.Stop()
		return err
	}
	return nil
}

// Stop drains in-flight work and shuts the stack down. The store stays open
// until Close so read-only access keeps working during teardown.
func (a *App) Stop() {
	a.engine.Stop()
	a.connectivity.Stop()
}

// Close stops everything and releases the database.
func (a *App) Close() error {
	a.Stop()
	return a.store.Close()
}

// Engine exposes the queue operations consumed by UI code.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}
