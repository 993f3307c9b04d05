// Package config loads the runtime's JSON configuration file, following
// cppla-moto's config/setting.go: a package-global current config plus
// a Reload(path) that validates before swapping it in.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Listener describes one address a manager accepts raw connections on.
type Listener struct {
	Name      string `json:"name"`
	Transport string `json:"transport"` // "tcp", "unix", "pipe", or "quic"
	Address   string `json:"address"`
}

// AuthMethod configures one authentication method available to accept.
type AuthMethod struct {
	Name      string `json:"name"` // "static_key", "reauthentication", "none"
	StaticKey string `json:"static_key,omitempty"`
}

// LogConfig controls the shared logger.
type LogConfig struct {
	Level      string `json:"level"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ManagerConfig controls the manager's keychain and connect throttling.
// KeychainPath and KeychainKeyHex are either both empty (no keychain,
// reauthentication unavailable) or both set.
type ManagerConfig struct {
	KeychainPath      string `json:"keychain_path"`
	KeychainKeyHex    string `json:"keychain_key_hex"`
	ThrottleWindowSec int    `json:"throttle_window_sec"`
	ThrottleMax       int    `json:"throttle_max"`
}

// RuntimeConfig is the top-level configuration document.
type RuntimeConfig struct {
	Log       LogConfig     `json:"log"`
	Listeners []Listener    `json:"listeners"`
	Auth      []AuthMethod  `json:"auth"`
	Manager   ManagerConfig `json:"manager"`
}

// Current points at the config the process was started with, or last
// reloaded. Nil until Load or Reload succeeds.
var Current *RuntimeConfig

// Load reads and validates path, populating Current on success. The
// config path normally comes from the DISTANT_CONFIG environment
// variable or an explicit -config flag in cmd/.
func Load(path string) error {
	cfg, err := parse(path)
	if err != nil {
		return err
	}
	Current = cfg
	return nil
}

// Reload re-reads path and, if it validates, atomically replaces
// Current. A malformed reload leaves the previous config in place.
func Reload(path string) error {
	cfg, err := parse(path)
	if err != nil {
		return err
	}
	Current = cfg
	return nil
}

func parse(path string) (*RuntimeConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg RuntimeConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.verify(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *RuntimeConfig) verify() error {
	if len(c.Listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}
	seen := make(map[string]bool, len(c.Listeners))
	for i, l := range c.Listeners {
		if l.Name == "" {
			return fmt.Errorf("listener %d: empty name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("listener %d: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true
		switch l.Transport {
		case "tcp", "unix", "pipe", "quic":
		default:
			return fmt.Errorf("listener %q: unknown transport %q", l.Name, l.Transport)
		}
		if l.Address == "" {
			return fmt.Errorf("listener %q: empty address", l.Name)
		}
	}
	for i, a := range c.Auth {
		switch a.Name {
		case "static_key":
			if a.StaticKey == "" {
				return fmt.Errorf("auth %d: static_key method requires static_key", i)
			}
		case "reauthentication", "none":
		default:
			return fmt.Errorf("auth %d: unknown method %q", i, a.Name)
		}
	}
	if c.Manager.ThrottleMax < 0 {
		return fmt.Errorf("manager: negative throttle_max")
	}
	if (c.Manager.KeychainPath == "") != (c.Manager.KeychainKeyHex == "") {
		return fmt.Errorf("manager: keychain_path and keychain_key_hex must be set together")
	}
	if c.Manager.KeychainKeyHex != "" {
		key, err := hex.DecodeString(c.Manager.KeychainKeyHex)
		if err != nil {
			return fmt.Errorf("manager: keychain_key_hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("manager: keychain_key_hex must decode to 32 bytes, got %d", len(key))
		}
	}
	return nil
}
