package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds netstackd's complete configuration: interface addressing,
// DHCP enable/disable, the SSH administration bind port and host-key
// persistence path, and the diagnostics metrics endpoint. Fields mirror
// the layered YAML+env scheme dantte-lp-gobfd's internal/config uses.
type Config struct {
	Iface    IfaceConfig   `koanf:"iface"`
	DHCP     DHCPConfig    `koanf:"dhcp"`
	SSH      SSHConfig     `koanf:"ssh"`
	Metrics  MetricsConfig `koanf:"metrics"`
	Log      LogConfig     `koanf:"log"`
}

// IfaceConfig configures the Ethernet driver and static IPv4 addressing
// used when DHCP is disabled (or before a lease is acquired).
type IfaceConfig struct {
	// Name is the TAP device name on Linux (e.g. "tap0"). Ignored on
	// platforms without a TAP driver.
	Name string `koanf:"name"`
	// Addr, Netmask and Gateway are the static IPv4 configuration. They
	// seed Stack.Init and are overwritten once DHCP completes if DHCP
	// is enabled.
	Addr    string `koanf:"addr"`
	Netmask string `koanf:"netmask"`
	Gateway string `koanf:"gateway"`
}

// DHCPConfig controls the DHCPv4 client.
type DHCPConfig struct {
	Enabled bool `koanf:"enabled"`
}

// SSHConfig controls the administration SSH server.
type SSHConfig struct {
	Port     uint16 `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	// HostKeyPath, if set, persists the generated Ed25519 host key
	// seed so restarts keep the same host-key fingerprint.
	HostKeyPath string `koanf:"host_key_path"`
}

// MetricsConfig controls the loopback-only Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`
}

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// pollInterval is how often the main loop checks the driver for pending
// frames when nothing is ready, matching the cooperative, non-blocking
// poll loop examples/httpserver drives by hand.
const pollInterval = 2 * time.Millisecond

// agingTick is the 1 Hz period driving ARP cache aging and DHCP lease
// bookkeeping.
const agingTick = 1 * time.Second

// DefaultConfig returns a Config populated with sensible defaults for a
// development TAP interface.
func DefaultConfig() *Config {
	return &Config{
		Iface: IfaceConfig{
			Name:    "tap0",
			Addr:    "192.168.10.1",
			Netmask: "255.255.255.0",
			Gateway: "192.168.10.1",
		},
		DHCP: DHCPConfig{Enabled: false},
		SSH: SSHConfig{
			Port:     2222,
			Username: "admin",
			Password: "admin",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9273",
			Path:    "/metrics",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// envPrefix is the environment variable prefix for netstackd configuration.
// Variables are named NETSTACKD_<section>_<key>, e.g. NETSTACKD_SSH_PORT.
const envPrefix = "NETSTACKD_"

// LoadConfig reads configuration from a YAML file at path (if non-empty),
// overlays NETSTACKD_-prefixed environment variables, and merges on top
// of DefaultConfig. Missing fields inherit defaults, the same layering
// dantte-lp-gobfd's config.Load implements with koanf/v2.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// envKeyMapper transforms NETSTACKD_SSH_PORT -> ssh.port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"iface.name":       d.Iface.Name,
		"iface.addr":       d.Iface.Addr,
		"iface.netmask":    d.Iface.Netmask,
		"iface.gateway":    d.Iface.Gateway,
		"dhcp.enabled":     d.DHCP.Enabled,
		"ssh.port":         d.SSH.Port,
		"ssh.username":     d.SSH.Username,
		"ssh.password":     d.SSH.Password,
		"ssh.host_key_path": d.SSH.HostKeyPath,
		"metrics.enabled":  d.Metrics.Enabled,
		"metrics.addr":     d.Metrics.Addr,
		"metrics.path":     d.Metrics.Path,
		"log.level":        d.Log.Level,
		"log.format":       d.Log.Format,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var (
	errEmptySSHUsername = errors.New("ssh.username must not be empty")
	errEmptySSHPassword = errors.New("ssh.password must not be empty")
	errZeroSSHPort      = errors.New("ssh.port must be nonzero")
)

func validateConfig(cfg *Config) error {
	if cfg.SSH.Port == 0 {
		return errZeroSSHPort
	}
	if cfg.SSH.Username == "" {
		return errEmptySSHUsername
	}
	if cfg.SSH.Password == "" {
		return errEmptySSHPassword
	}
	return nil
}
