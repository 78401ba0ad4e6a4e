// ABOUTME: Gateway orchestrator wiring the store, broker, proxy and HTTP server
// ABOUTME: Manages listener setup, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/inbox-gateway/internal/backend"
	"github.com/2389/inbox-gateway/internal/broker"
	"github.com/2389/inbox-gateway/internal/config"
	"github.com/2389/inbox-gateway/internal/mailstore"
	"github.com/2389/inbox-gateway/internal/profile"
	"github.com/2389/inbox-gateway/internal/proxy"
)

// Gateway orchestrates the inbox-gateway server components: the email store,
// the session broker, the failover proxy, the profile watcher and the HTTP
// server carrying the WebSocket endpoint.
type Gateway struct {
	config     *config.Config
	store      *mailstore.Store
	proxy      *proxy.Proxy
	broker     *broker.Broker
	profile    *profile.Watcher
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore opens the email database from config, honoring the
// INBOX_DB_PATH environment override.
func initStore(cfg *config.Config, logger *slog.Logger) (*mailstore.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("INBOX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := mailstore.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// loadSystemPrompt returns the prompt override from config, or empty to use
// the built-in one.
func loadSystemPrompt(cfg *config.Config) (string, error) {
	if cfg.Backend.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.Backend.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("reading system prompt file: %w", err)
	}
	return string(data), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := loadSystemPrompt(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	var prx *proxy.Proxy
	if cfg.Failover.Enabled {
		prx = proxy.New(proxy.Config{
			URL:         cfg.Failover.URL,
			DialTimeout: cfg.Failover.DialTimeout,
			RetryDelay:  cfg.Failover.RetryDelay,
		}, logger)
	}

	newBackend := func() backend.Backend {
		return backend.NewAnthropic(backend.AnthropicConfig{
			APIKey:       cfg.Backend.APIKey,
			BaseURL:      cfg.Backend.BaseURL,
			Model:        cfg.Backend.Model,
			MaxTokens:    cfg.Backend.MaxTokens,
			SystemPrompt: systemPrompt,
		}, logger)
	}

	b := broker.New(s, prx, newBackend, broker.Config{
		ReclamationGrace: cfg.Sessions.ReclamationGrace,
		SnapshotInterval: cfg.Inbox.SnapshotInterval,
		InboxLimit:       cfg.Inbox.Limit,
	}, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		proxy:    prx,
		broker:   b,
		logger:   logger.With("component", "gateway"),
		serverID: generateServerID(),
	}

	if cfg.Profile.Path != "" {
		gw.profile = profile.NewWatcher(cfg.Profile.Path, cfg.Profile.Debounce, b.BroadcastProfile, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mux.HandleFunc("/api/profile", gw.handleProfile)
	mux.HandleFunc("/ws", gw.handleWS)
	gw.mux = mux

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	g.startBackground(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startBackground launches the inbox snapshot loop, the profile watcher and
// the initial failover connection attempt.
func (g *Gateway) startBackground(ctx context.Context) {
	go g.broker.Run(ctx)

	if g.profile != nil {
		if err := g.profile.Start(ctx); err != nil {
			g.logger.Warn("profile watcher disabled", "error", err)
		}
	}

	if g.proxy != nil {
		go func() {
			if err := g.proxy.Connect(); err != nil {
				g.logger.Warn("initial backend connection failed, using local backend", "error", err)
			}
		}()
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.broker.Shutdown()
	if g.proxy != nil {
		g.proxy.Disconnect()
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness with current client and session counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d clients, %d sessions)", g.broker.ClientCount(), g.broker.SessionCount())
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("inbox-gateway-%d", time.Now().UnixNano()%1000000)
}
