package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlorvoice/parlor/internal/config"
	"github.com/parlorvoice/parlor/internal/origin"
	"github.com/parlorvoice/parlor/internal/util"
)

// Server is the relay's HTTP front: the WebSocket signaling endpoint plus a
// readiness probe. It owns the shared Registry and Directory that all
// sessions operate on.
type Server struct {
	cfg       config.Config
	registry  *Registry
	directory *Directory
	upgrader  websocket.Upgrader
	srv       *http.Server
}

// NewServer wires a relay server from its configuration.
func NewServer(cfg config.Config) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  NewRegistry(),
		directory: NewDirectory(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ice", s.handleICE)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Registry exposes the room registry, e.g. for the stats reporter.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe blocks serving HTTP until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	util.LogInfo("relay: listening on %s (env=%s)", s.cfg.ListenAddr, s.cfg.Environment)
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for in-flight requests
// up to the configured grace period. Live WebSocket sessions are closed by
// the server teardown; clients observe a transport drop and surface it.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// handleWS upgrades the HTTP request and runs a session for the life of the
// connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("relay: upgrade rejected: %v", err)
		return
	}

	session := NewSession(s.registry, s.directory, conn)
	go session.Run()
}

// healthPayload is the readiness probe body. It reflects process liveness
// and deployment identity, not room state.
type healthPayload struct {
	Status      string `json:"status"`
	Time        string `json:"time"`
	Environment string `json:"environment"`
}

// icePayload carries the ICE hints clients fetch before dialing peers.
type icePayload struct {
	StunServers []string `json:"stunServers"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(icePayload{StunServers: s.cfg.StunServers})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthPayload{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339),
		Environment: s.cfg.Environment,
	})
}
