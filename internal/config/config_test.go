package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDialConfig(t *testing.T) {
	path := writeConfig(t, `
name = "bench-remote"
admin_addr = ":9100"
cors_origins = ["http://localhost:3000"]

[radio]
addr = "02:11:22:33:44:01"
bind = "127.0.0.1:7701"
fallback_peer = "02:11:22:33:44:99"
fallback_name = "legacy-unit"

[[radio.peers]]
addr = "02:11:22:33:44:02"
endpoint = "127.0.0.1:7702"

[store]
path = "/tmp/peers.bin"
`)
	cfg, err := LoadDialConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "bench-remote" || cfg.AdminAddr != ":9100" {
		t.Fatalf("top-level fields: %+v", cfg)
	}
	if cfg.LocalAddr().String() != "02:11:22:33:44:01" {
		t.Fatalf("local addr = %s", cfg.LocalAddr())
	}
	if cfg.FallbackAddr().IsZero() {
		t.Fatalf("fallback addr not parsed")
	}
	if len(cfg.Radio.Peers) != 1 || cfg.Radio.Peers[0].Endpoint != "127.0.0.1:7702" {
		t.Fatalf("peers: %+v", cfg.Radio.Peers)
	}
}

func TestLoadDialConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[radio]
addr = "02:11:22:33:44:01"
bind = "127.0.0.1:7701"
`)
	cfg, err := LoadDialConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "dialctl" || cfg.AdminAddr != ":9000" || cfg.Store.Path != "data/peers.bin" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.FallbackAddr().IsZero() {
		t.Fatalf("fallback should be zero when unset")
	}
}

func TestLoadDialConfigMissingFile(t *testing.T) {
	if _, err := LoadDialConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestValidateDialConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing bind", `
[radio]
addr = "02:11:22:33:44:01"
`},
		{"bad radio addr", `
[radio]
addr = "nope"
bind = "127.0.0.1:7701"
`},
		{"zero radio addr", `
[radio]
addr = "00:00:00:00:00:00"
bind = "127.0.0.1:7701"
`},
		{"bad fallback", `
[radio]
addr = "02:11:22:33:44:01"
bind = "127.0.0.1:7701"
fallback_peer = "garbage"
`},
		{"peer missing endpoint", `
[radio]
addr = "02:11:22:33:44:01"
bind = "127.0.0.1:7701"

[[radio.peers]]
addr = "02:11:22:33:44:02"
`},
		{"bad toml", `this is not toml = = =`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.body)
		if _, err := LoadDialConfig(path); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
