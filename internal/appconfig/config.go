package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/tabsync/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int              `mapstructure:"config_version" yaml:"config_version"`
	Workspaces    WorkspacesConfig `mapstructure:"workspaces" yaml:"workspaces"`
	HTTP          HTTPConfig       `mapstructure:"http" yaml:"http"`
	Watch         WatchConfig      `mapstructure:"watch" yaml:"watch"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// WorkspacesConfig lists the directories mirrored as workspaces.
type WorkspacesConfig struct {
	Roots []string `mapstructure:"roots" yaml:"roots"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	BasePath   string `mapstructure:"base_path" yaml:"base_path"`
	HubHistory int    `mapstructure:"hub_history" yaml:"hub_history"`
}

// WatchConfig tunes filesystem watching and echo suppression.
type WatchConfig struct {
	DebounceMS   int `mapstructure:"debounce_ms" yaml:"debounce_ms"`
	EchoWindowMS int `mapstructure:"echo_window_ms" yaml:"echo_window_ms"`
}

// ServiceConfig maps the file config onto the coordinator config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		Roots:         append([]string(nil), c.Workspaces.Roots...),
		WatchDebounce: time.Duration(c.Watch.DebounceMS) * time.Millisecond,
		EchoWindow:    time.Duration(c.Watch.EchoWindowMS) * time.Millisecond,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Workspaces: WorkspacesConfig{
			Roots: []string{filepath.Join(home, ".tabsync", "workspaces", "default")},
		},
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1:27490",
			BasePath:   "",
			HubHistory: 1000,
		},
		Watch: WatchConfig{
			DebounceMS:   int(schema.DefaultWatchDebounce / time.Millisecond),
			EchoWindowMS: int(schema.DefaultEchoWindow / time.Millisecond),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabsync", "config.yaml"), nil
}
