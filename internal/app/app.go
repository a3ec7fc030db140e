// Package app assembles the watcher, index and query servers into one
// service and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/CageChen/markkeep/internal/config"
	mfs "github.com/CageChen/markkeep/internal/fs"
	"github.com/CageChen/markkeep/internal/handler"
	"github.com/CageChen/markkeep/internal/index"
	"github.com/CageChen/markkeep/internal/query"
	"github.com/CageChen/markkeep/internal/sock"
	"github.com/CageChen/markkeep/internal/watcher"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// App is a running MarkKeep instance
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *index.Store
	updater *index.Updater
	watcher *watcher.Watcher
	ws      *handler.WSHandler

	server   *http.Server
	listener net.Listener
	sock     *sock.Server
}

// New subscribes to the root, builds the initial index and binds the
// listeners. Traffic is only served once Run is called, so a client never
// sees a partial startup index.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	w, err := watcher.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	store := index.NewStore()
	updater := index.NewUpdater(store, mfs.NewLocalFS(cfg.Root), cfg, logger)
	updater.Resync()

	ws := handler.NewWSHandler(logger)
	store.OnChange(ws.OnChange)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		_ = w.Stop()
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		updater: updater,
		watcher: w,
		ws:      ws,
		server: &http.Server{
			Handler:           handler.NewRouter(store, ws, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
	}

	if cfg.Socket != "" {
		s, err := sock.Listen(cfg.Socket, query.NewEngine(store), logger)
		if err != nil {
			_ = ln.Close()
			_ = w.Stop()
			return nil, err
		}
		a.sock = s
	}

	return a, nil
}

// Addr returns the HTTP listen address
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Store returns the index queried by the servers
func (a *App) Store() *index.Store {
	return a.store
}

// Flush waits until every file event observed so far is applied to the
// store
func (a *App) Flush(ctx context.Context) error {
	return a.watcher.Flush(ctx)
}

// Run serves until ctx is cancelled or a component fails, then shuts down:
// network servers first, then the watcher, then the updater after its
// current batch.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	updaterCtx, stopUpdater := context.WithCancel(context.Background())
	defer stopUpdater()

	a.watcher.Start()

	g.Go(func() error {
		return a.updater.Run(updaterCtx, a.watcher.Batches())
	})

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.listener.Addr().String())
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.sock != nil {
		g.Go(a.sock.Serve)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		a.ws.Close()
		if a.sock != nil {
			if err := a.sock.Close(); err != nil {
				errs = append(errs, fmt.Errorf("socket shutdown: %w", err))
			}
		}
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("watcher shutdown: %w", err))
		}
		stopUpdater()
		return errors.Join(errs...)
	})

	return g.Wait()
}
