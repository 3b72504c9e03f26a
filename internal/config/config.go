// Package config loads relay configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/parlorvoice/parlor/internal/origin"
)

const (
	envListenAddr     = "PARLOR_LISTEN_ADDR"
	envAllowedOrigins = "PARLOR_ALLOWED_ORIGINS"
	envEnvironment    = "PARLOR_ENV"
	envStunServers    = "PARLOR_STUN_SERVERS"
	envShutdownGrace  = "PARLOR_SHUTDOWN_TIMEOUT"

	DefaultListenAddr    = ":8080"
	DefaultEnvironment   = "development"
	DefaultShutdownGrace = 10 * time.Second
)

// DefaultStunServers is used for ICE gathering when PARLOR_STUN_SERVERS is
// unset. No TURN — the relay only brokers signaling; media flows directly
// between peers.
var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds all relay server settings.
type Config struct {
	// ListenAddr is the host:port the HTTP/WebSocket server binds to.
	ListenAddr string

	// AllowedOrigins restricts which browser origins may open a signaling
	// session. Empty means every origin is admitted.
	AllowedOrigins []string

	// Environment is an operator-supplied tag echoed by the health endpoint.
	Environment string

	// StunServers are served to clients on the /ice endpoint.
	StunServers []string

	// ShutdownGrace bounds how long a graceful shutdown may take.
	ShutdownGrace time.Duration
}

// FromEnv builds a Config from environment variables, applying defaults for
// anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:    DefaultListenAddr,
		Environment:   DefaultEnvironment,
		StunServers:   DefaultStunServers,
		ShutdownGrace: DefaultShutdownGrace,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envEnvironment); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv(envAllowedOrigins); v != "" {
		cfg.AllowedOrigins = origin.NormalizeList(splitList(v))
	}
	if v := os.Getenv(envStunServers); v != "" {
		cfg.StunServers = splitList(v)
	}
	if v := os.Getenv(envShutdownGrace); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envShutdownGrace, err)
		}
		cfg.ShutdownGrace = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownGrace)
	}
	for _, s := range c.StunServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("invalid STUN server URL %q", s)
		}
	}
	return nil
}

// splitList splits a comma-separated env value, trimming whitespace and
// dropping empty entries.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
