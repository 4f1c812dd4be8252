package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Default configuration values
const (
	DefaultServerURL = "ws://localhost:5000/ws"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultMedia     = "silence"
)

// Config holds the peer's configuration
type Config struct {
	// ServerURL is the relay's websocket endpoint
	ServerURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	// Media selects the local media source
	Media string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ServerURL   string
	STUNServers string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	Media       string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	serverURL := firstNonEmpty(opts.ServerURL, os.Getenv("SERVER_URL"), DefaultServerURL)
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	stun := splitList(firstNonEmpty(opts.STUNServers, os.Getenv("STUN_SERVERS"), DefaultSTUN))

	cfg := &Config{
		ServerURL:   u.String(),
		STUNServers: stun,
		TURNServer:  firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER")),
		TURNUser:    firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME")),
		TURNPass:    firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD")),
		ForceRelay:  opts.ForceRelay,
		Media:       firstNonEmpty(opts.Media, os.Getenv("MEDIA_SOURCE"), DefaultMedia),
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	if strings.Contains(host, ":") {
		return []string{
			fmt.Sprintf("turn:%s?transport=udp", host),
			fmt.Sprintf("turn:%s?transport=tcp", host),
		}
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetSTUNServers returns the configured STUN server URLs
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}
