package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func clearPeerEnv(t *testing.T) {
	for _, k := range []string{"SERVER_URL", "STUN_SERVERS", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD", "MEDIA_SOURCE"} {
		t.Setenv(k, "")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PWD", dir)
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	clearPeerEnv(t)

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, DefaultServerURL)
	}
	if !reflect.DeepEqual(cfg.STUNServers, []string{DefaultSTUN}) {
		t.Errorf("STUNServers = %v", cfg.STUNServers)
	}
	if cfg.GetTURNServers() != nil {
		t.Errorf("expected no TURN servers, got %v", cfg.GetTURNServers())
	}
	if cfg.Media != DefaultMedia {
		t.Errorf("Media = %q", cfg.Media)
	}
}

func TestLoadPriority(t *testing.T) {
	clearPeerEnv(t)
	t.Setenv("SERVER_URL", "ws://env.example:9000/ws")
	t.Setenv("STUN_SERVERS", "stun:a:1, stun:b:2")

	cfg, err := Load(Options{ServerURL: "https://flag.example"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "wss://flag.example/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if !reflect.DeepEqual(cfg.STUNServers, []string{"stun:a:1", "stun:b:2"}) {
		t.Errorf("STUNServers = %v", cfg.STUNServers)
	}
}

func TestLoadRejectsBadScheme(t *testing.T) {
	clearPeerEnv(t)
	if _, err := Load(Options{ServerURL: "ftp://x"}); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestForceRelayNeedsTURN(t *testing.T) {
	clearPeerEnv(t)
	if _, err := Load(Options{ForceRelay: true}); err == nil {
		t.Fatal("expected error without TURN server")
	}

	cfg, err := Load(Options{ForceRelay: true, TURNServer: "turn.example", TURNUser: "u", TURNPass: "p"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"turn:turn.example:3478?transport=udp", "turn:turn.example:3478?transport=tcp"}
	if !reflect.DeepEqual(cfg.GetTURNServers(), want) {
		t.Errorf("GetTURNServers = %v", cfg.GetTURNServers())
	}
	if u, p := cfg.GetTURNCredentials(); u != "u" || p != "p" {
		t.Errorf("credentials = %q/%q", u, p)
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadServerDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAX_USERS_PER_ROOM", "")
	t.Setenv("MESHCALL_ROOM_CAPACITY", "")

	cfg, err := LoadServer(discard(), "meshcall-server", nil)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Server.Address != ":5000" {
		t.Errorf("Address = %q", cfg.Server.Address)
	}
	if cfg.Room.Capacity != 4 {
		t.Errorf("Capacity = %d", cfg.Room.Capacity)
	}
	if cfg.TURN.Enabled || cfg.TURN.Realm != "meshcall" {
		t.Errorf("TURN = %+v", cfg.TURN)
	}
}

func TestLoadServerFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshcall-server.yaml")
	yaml := "server:\n  address: \":7000\"\nroom:\n  capacity: 6\nturn:\n  realm: office\n  users:\n    alice: secret\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESHCALL_ROOM_CAPACITY", "")
	t.Setenv("MAX_USERS_PER_ROOM", "8")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", ":5000", "")
	flags.Int("capacity", 4, "")
	flags.StringSlice("origins", nil, "")
	flags.Bool("turn", false, "")
	if err := flags.Parse([]string{"--addr", ":9000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadServer(discard(), path, flags)
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("flag should win: Address = %q", cfg.Server.Address)
	}
	if cfg.Room.Capacity != 8 {
		t.Errorf("env should beat file: Capacity = %d", cfg.Room.Capacity)
	}
	if cfg.TURN.Realm != "office" || cfg.TURN.Users["alice"] != "secret" {
		t.Errorf("TURN = %+v", cfg.TURN)
	}
}

func TestLoadServerRejectsZeroCapacity(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAX_USERS_PER_ROOM", "0")
	t.Setenv("MESHCALL_ROOM_CAPACITY", "")

	if _, err := LoadServer(discard(), "meshcall-server", nil); err == nil {
		t.Fatal("expected capacity error")
	}
}

func TestLoadServerTURNNeedsUsers(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MESHCALL_TURN_ENABLED", "true")

	if _, err := LoadServer(discard(), "meshcall-server", nil); err == nil {
		t.Fatal("expected error for TURN without users")
	}
}
