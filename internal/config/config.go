package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/fatiguelab/dialctl/internal/protocol"
)

// DialConfig configures the dial-remote daemon.
type DialConfig struct {
	Name        string      `toml:"name"`
	AdminAddr   string      `toml:"admin_addr"`
	CorsOrigins []string    `toml:"cors_origins"`
	Radio       RadioConfig `toml:"radio"`
	Store       StoreConfig `toml:"store"`
}

// RadioConfig describes the UDP stand-in for the radio link.
type RadioConfig struct {
	Addr         string       `toml:"addr"`
	Bind         string       `toml:"bind"`
	FallbackPeer string       `toml:"fallback_peer"`
	FallbackName string       `toml:"fallback_name"`
	Peers        []PeerConfig `toml:"peers"`
}

// PeerConfig is one address-book entry mapping a device address to a UDP
// endpoint.
type PeerConfig struct {
	Addr     string `toml:"addr"`
	Endpoint string `toml:"endpoint"`
}

// StoreConfig locates the persisted peer table.
type StoreConfig struct {
	Path string `toml:"path"`
}

func LoadDialConfig(path string) (DialConfig, error) {
	var cfg DialConfig
	if err := loadToml(path, &cfg); err != nil {
		return DialConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "dialctl"
	}
	if cfg.AdminAddr == "" {
		cfg.AdminAddr = ":9000"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/peers.bin"
	}
	if err := ValidateDialConfig(cfg); err != nil {
		return DialConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDialConfig(cfg DialConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("config missing name")
	}
	if strings.TrimSpace(cfg.Radio.Bind) == "" {
		return fmt.Errorf("radio config missing bind")
	}
	addr, err := protocol.ParseAddr(cfg.Radio.Addr)
	if err != nil {
		return fmt.Errorf("radio addr invalid: %w", err)
	}
	if addr.IsZero() {
		return fmt.Errorf("radio addr must be non-zero")
	}
	if cfg.Radio.FallbackPeer != "" {
		if _, err := protocol.ParseAddr(cfg.Radio.FallbackPeer); err != nil {
			return fmt.Errorf("fallback peer invalid: %w", err)
		}
	}
	for i, peer := range cfg.Radio.Peers {
		if err := validatePeerEntry(peer); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
	}
	return nil
}

func validatePeerEntry(peer PeerConfig) error {
	if _, err := protocol.ParseAddr(peer.Addr); err != nil {
		return err
	}
	if strings.TrimSpace(peer.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	return nil
}

// LocalAddr returns the parsed radio address. Call after validation.
func (c DialConfig) LocalAddr() protocol.Addr {
	addr, _ := protocol.ParseAddr(c.Radio.Addr)
	return addr
}

// FallbackAddr returns the parsed legacy fallback peer, zero when unset.
func (c DialConfig) FallbackAddr() protocol.Addr {
	if c.Radio.FallbackPeer == "" {
		return protocol.Addr{}
	}
	addr, _ := protocol.ParseAddr(c.Radio.FallbackPeer)
	return addr
}
