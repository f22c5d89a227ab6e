// Package app wires the engine components in dependency order and owns
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/database"
	"rollcall/internal/messaging"
	"rollcall/internal/notify"
	"rollcall/internal/session"
	"rollcall/internal/stream"
)

// Application coordinates all system components.
type Application struct {
	config     *config.Config
	archive    *database.Manager
	registry   *stream.Registry
	feed       *stream.Feed
	notifier   *notify.Fanout
	sessions   *session.Manager
	channel    *messaging.Channel
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds the component graph:
// archive → feed → fan-out → session manager → messaging → API → HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	archive, err := database.NewManager(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}

	registry := stream.NewRegistry()
	feed := stream.NewFeed(registry)
	notifier := notify.NewFanout(feed, archive)
	sessions := session.NewManager(notifier, archive, cfg.Session.SingleLivePerOwner)
	channel := messaging.NewChannel(sessions, notifier, archive)
	apiServer := api.NewServer(sessions, notifier, channel, archive, archive)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/feed", feed.HandleFeed)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		archive:    archive,
		registry:   registry,
		feed:       feed,
		notifier:   notifier,
		sessions:   sessions,
		channel:    channel,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP listener is up or fails.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting rollcall on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Rollcall started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order:
// HTTP → session manager → archive.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down rollcall")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	app.sessions.Close()
	if err := app.archive.Close(); err != nil {
		log.Printf("Archive shutdown error: %v", err)
	}

	log.Printf("Rollcall shutdown complete")
	return nil
}

// Addr returns the server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
