package schema

import (
	"errors"
	"time"
)

// ServiceConfig defines defaults and limits for the sync coordinator.
type ServiceConfig struct {
	// Roots lists the workspace root directories, one workspace per root.
	Roots []string
	// WatchDebounce coalesces bursts of raw filesystem events into one rescan.
	WatchDebounce time.Duration
	// EchoWindow bounds how long an applied action waits for its echo.
	EchoWindow time.Duration
}

const (
	// DefaultWatchDebounce is the default coalescing delay for watcher rescans.
	DefaultWatchDebounce = 75 * time.Millisecond
	// DefaultEchoWindow is the default lifetime of a pending echo.
	DefaultEchoWindow = 5 * time.Second
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.WatchDebounce < 0 || cfg.EchoWindow < 0 {
		return ServiceConfig{}, errors.New("durations must not be negative")
	}
	if cfg.WatchDebounce == 0 {
		cfg.WatchDebounce = DefaultWatchDebounce
	}
	if cfg.EchoWindow == 0 {
		cfg.EchoWindow = DefaultEchoWindow
	}
	if cfg.EchoWindow <= cfg.WatchDebounce {
		return ServiceConfig{}, errors.New("echo window must exceed watch debounce")
	}
	roots := make([]string, 0, len(cfg.Roots))
	seen := make(map[string]struct{}, len(cfg.Roots))
	for _, root := range cfg.Roots {
		if root == "" {
			continue
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	cfg.Roots = roots
	return cfg, nil
}
