// Package config implements the layered configuration the two binaries
// share: built-in default, then YAML file, then environment variable,
// then command-line flag — each layer overriding the one before it only
// where it actually sets a value.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/termbroker/core/internal/broker/channels"
)

// BrokerConfig configures cmd/termd.
type BrokerConfig struct {
	Addr               string `yaml:"addr"`
	TokenPath          string `yaml:"token_path"`
	QueueCapacity      int    `yaml:"queue_capacity"`
	SubscriberCapacity int    `yaml:"subscriber_capacity"`
	// DebugWebAddr, if non-empty, starts internal/debugweb's loopback-only
	// troubleshooting surface on this address.
	DebugWebAddr string `yaml:"debug_web_addr"`
}

// RuntimeConfig configures cmd/termrun.
type RuntimeConfig struct {
	ServerAddr  string `yaml:"server_addr"`
	Token       string `yaml:"token"`
	SessionName string `yaml:"session_name"`
	PaneName    string `yaml:"pane_name"`
	Cols        int    `yaml:"cols"`
	Rows        int    `yaml:"rows"`
	Shell       string `yaml:"shell"`
	QuantumMS   int    `yaml:"quantum_ms"`
}

// DefaultBrokerConfig is the lowest-precedence layer for BrokerConfig.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Addr:               "127.0.0.1:6379",
		TokenPath:          defaultTokenPath(),
		QueueCapacity:      channels.DefaultQueueCapacity,
		SubscriberCapacity: channels.DefaultSubscriberCapacity,
		DebugWebAddr:       "",
	}
}

// DefaultRuntimeConfig is the lowest-precedence layer for RuntimeConfig.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ServerAddr: "127.0.0.1:6379",
		Cols:       80,
		Rows:       24,
		QuantumMS:  10,
	}
}

func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termd/token"
	}
	return home + "/.termd/token"
}

// Quantum returns QuantumMS as a time.Duration.
func (c RuntimeConfig) Quantum() time.Duration {
	return time.Duration(c.QuantumMS) * time.Millisecond
}

// RegisterBrokerFlags adds cmd/termd's flags to flags, seeded with
// BrokerConfig's defaults so an unset flag reports its default value
// rather than a Go zero value.
func RegisterBrokerFlags(flags *pflag.FlagSet) {
	d := DefaultBrokerConfig()
	flags.String("config", "", "path to a YAML config file")
	flags.String("addr", d.Addr, "broker listen address")
	flags.String("token-path", d.TokenPath, "path to the shared auth token file")
	flags.Int("queue-capacity", d.QueueCapacity, "per-channel queue capacity")
	flags.Int("subscriber-capacity", d.SubscriberCapacity, "per-subscriber receive queue capacity")
	flags.String("debug-web-addr", d.DebugWebAddr, "loopback debug web address, empty to disable")
}

// RegisterRuntimeFlags adds cmd/termrun's flags to flags.
func RegisterRuntimeFlags(flags *pflag.FlagSet) {
	d := DefaultRuntimeConfig()
	flags.String("config", "", "path to a YAML config file")
	flags.String("server-addr", d.ServerAddr, "broker address to connect to")
	flags.String("token", "", "auth token (overrides TERMD_TOKEN)")
	flags.String("session-name", "", "explicit session name, empty to auto-generate")
	flags.String("pane-name", "", "explicit pane name, empty to auto-generate")
	flags.Int("cols", d.Cols, "terminal columns")
	flags.Int("rows", d.Rows, "terminal rows")
	flags.String("shell", "", "shell to spawn, empty to auto-detect")
	flags.Int("quantum-ms", d.QuantumMS, "event loop quantum in milliseconds")
}

// LoadBroker resolves a BrokerConfig from flags, applying the file, env,
// then flag layers on top of the defaults flags was registered with.
func LoadBroker(flags *pflag.FlagSet) (BrokerConfig, error) {
	cfg := DefaultBrokerConfig()

	if path, _ := flags.GetString("config"); path != "" {
		if err := mergeYAMLFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("TERMD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TERMD_TOKEN_PATH"); v != "" {
		cfg.TokenPath = v
	}

	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("token-path") {
		cfg.TokenPath, _ = flags.GetString("token-path")
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity, _ = flags.GetInt("queue-capacity")
	}
	if flags.Changed("subscriber-capacity") {
		cfg.SubscriberCapacity, _ = flags.GetInt("subscriber-capacity")
	}
	if flags.Changed("debug-web-addr") {
		cfg.DebugWebAddr, _ = flags.GetString("debug-web-addr")
	}

	return cfg, nil
}

// LoadRuntime resolves a RuntimeConfig from flags, same layering as
// LoadBroker. Token is not sourced from TERMD_TOKEN here; cmd/termrun
// itself falls back to TERMD_TOKEN when Token is left empty.
func LoadRuntime(flags *pflag.FlagSet) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	if path, _ := flags.GetString("config"); path != "" {
		if err := mergeYAMLFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("TERMRUN_SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv("TERMRUN_SESSION_NAME"); v != "" {
		cfg.SessionName = v
	}

	if flags.Changed("server-addr") {
		cfg.ServerAddr, _ = flags.GetString("server-addr")
	}
	if flags.Changed("token") {
		cfg.Token, _ = flags.GetString("token")
	}
	if flags.Changed("session-name") {
		cfg.SessionName, _ = flags.GetString("session-name")
	}
	if flags.Changed("pane-name") {
		cfg.PaneName, _ = flags.GetString("pane-name")
	}
	if flags.Changed("cols") {
		cfg.Cols, _ = flags.GetInt("cols")
	}
	if flags.Changed("rows") {
		cfg.Rows, _ = flags.GetInt("rows")
	}
	if flags.Changed("shell") {
		cfg.Shell, _ = flags.GetString("shell")
	}
	if flags.Changed("quantum-ms") {
		cfg.QuantumMS, _ = flags.GetInt("quantum-ms")
	}

	return cfg, nil
}

// mergeYAMLFile unmarshals path's YAML document over whatever dst already
// holds, so only the keys the file actually sets change.
func mergeYAMLFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
