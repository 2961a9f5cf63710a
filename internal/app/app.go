package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomcast/roomcast-server/internal/config"
	"github.com/roomcast/roomcast-server/internal/core"
	"github.com/roomcast/roomcast-server/internal/mutes"
)

// App wires together the mute store, the registry, and the TCP listener.
type App struct {
	registry        *core.Registry
	addr            string
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) *App {
	store := mutes.NewStore(cfg.MutesDir, logger)
	registry := core.NewRegistry(store, logger)

	return &App{
		registry:        registry,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}
}

// Run binds the listener and serves until context cancellation or a fatal
// accept error. Cancellation closes the listener, which unblocks the accept
// loop; the registry shutdown then closes every client socket, which unblocks
// every actor's pending read.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", a.addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.registry.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		a.log.Info().Msg("shutting down server")
		if err := listener.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close listener")
		}
		select {
		case err := <-serveErr:
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		case <-time.After(a.shutdownTimeout):
			a.registry.Shutdown()
			return errors.New("shutdown timed out")
		}
	}
}
