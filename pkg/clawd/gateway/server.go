package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config holds gateway server settings.
type Config struct {
	// Address is the listen address (default "127.0.0.1:8790").
	Address string `yaml:"address"`

	// AuthToken is required from clients at handshake when non-empty.
	// Resolution (keyring, env, config) happens in the config package.
	AuthToken string `yaml:"auth_token"`

	// AllowedOrigins lists Origin headers accepted for browser WebSocket
	// connections. Empty means same-origin only; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxQueuedEvents bounds the pre-connection event buffer.
	MaxQueuedEvents int `yaml:"max_queued_events"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		Address:         "127.0.0.1:8790",
		MaxQueuedEvents: defaultMaxQueued,
	}
}

// Server owns the listening socket, creates one Connection per accepted
// control session, and coordinates shutdown of all of them.
type Server struct {
	cfg         Config
	info        ServerInfo
	methods     map[string]HandlerFunc
	features    map[string]bool
	snapshot    SnapshotFunc
	broadcaster *Broadcaster
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	httpServer *http.Server
	startedAt  time.Time

	mu    sync.Mutex
	conns map[string]*Connection
}

// New creates a gateway server. The method table is a plain map built by
// the caller at startup; the server never registers methods on its own
// beyond the in-protocol connect/ping handling.
func New(cfg Config, info ServerInfo, methods map[string]HandlerFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	logger = logger.With("component", "gateway")

	s := &Server{
		cfg:         cfg,
		info:        info,
		methods:     methods,
		features:    map[string]bool{},
		broadcaster: NewBroadcaster(cfg.MaxQueuedEvents, logger),
		logger:      logger,
		conns:       make(map[string]*Connection),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetSnapshotFunc wires the provider for the hello payload's initial state
// snapshot.
func (s *Server) SetSnapshotFunc(fn SnapshotFunc) { s.snapshot = fn }

// SetMethods replaces the method table. For callers whose handlers need the
// server's broadcaster, which only exists after New.
func (s *Server) SetMethods(methods map[string]HandlerFunc) {
	if methods != nil {
		s.methods = methods
	}
}

// SetFeatures declares the feature flag map advertised at handshake.
func (s *Server) SetFeatures(features map[string]bool) {
	if features != nil {
		s.features = features
	}
}

// Broadcaster returns the event broadcaster for this server.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Handler returns the HTTP handler serving /ws and /health. Exposed for
// tests and for embedding under an existing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start binds the listener and begins serving. A failure to bind is the one
// fatal condition in this package and is returned to the operator.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", s.cfg.Address, err)
	}

	// Warn when the gateway has no auth token and is bound to a
	// non-loopback address.
	if s.cfg.AuthToken == "" {
		host, _, _ := net.SplitHostPort(s.cfg.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			s.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address — anyone on the network can connect",
				"address", s.cfg.Address)
		}
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	s.logger.Info("gateway started", "address", s.cfg.Address)
	return nil
}

// Stop closes every live connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("gateway stopping...")

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(ws, s)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.logger.Debug("connection accepted", "conn", c.id, "remote", r.RemoteAddr)
	c.run()
}

// detach releases a connection from the live set. Called from Close before
// the transport goes away so no further broadcast targets it.
func (s *Server) detach(c *Connection) {
	s.broadcaster.detach(c)
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d,"connections":%d}`+"\n",
		int(time.Since(s.startedAt).Seconds()), conns)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients (CLI, TUI) send no Origin.
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		// Same-origin only: fall back to the library's default check.
		return equalASCIIHost(origin, r.Host)
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// equalASCIIHost reports whether the origin URL's host matches the request
// host, which is the same-origin policy gorilla applies by default.
func equalASCIIHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
