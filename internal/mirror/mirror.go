// Package mirror stores workspaces as directory trees. Each tab is a
// subdirectory of the workspace root holding two marker files: url.txt with
// the tab URL and is_open with "true" or "false".
package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/internal/persist"
	"pkt.systems/tabsync/schema"
)

const (
	// URLFile holds the tab URL.
	URLFile = "url.txt"
	// OpenFile holds the tab open state.
	OpenFile = "is_open"
)

// Options configures the filesystem mirror.
type Options struct {
	// Debounce coalesces bursts of filesystem events into one rescan.
	Debounce time.Duration
}

// FS reads, writes and watches workspaces on the local filesystem.
type FS struct {
	debounce time.Duration
}

// New constructs a filesystem mirror.
func New(opts Options) *FS {
	if opts.Debounce <= 0 {
		opts.Debounce = schema.DefaultWatchDebounce
	}
	return &FS{debounce: opts.Debounce}
}

// Discover scans root into a workspace. The workspace is named after the
// root directory; its id is left for the caller to assign.
func (m *FS) Discover(ctx context.Context, root string) (schema.Workspace, error) {
	tabs, err := scan(pslog.Ctx(ctx), root)
	if err != nil {
		return schema.Workspace{}, fmt.Errorf("%w: %s: %v", schema.ErrDiscovery, root, err)
	}
	pslog.Ctx(ctx).Debug("mirror discover", "root", root, "tabs", len(tabs))
	return schema.Workspace{
		Name: filepath.Base(root),
		Path: root,
		Tabs: tabs,
	}, nil
}

// Apply writes action below root.
func (m *FS) Apply(ctx context.Context, root string, action schema.WorkspaceAction) error {
	action, err := schema.NormalizeAction(action)
	if err != nil {
		return err
	}
	dir := filepath.Join(root, action.Name)
	log := pslog.Ctx(ctx).With("root", root, "tab", action.Name)
	switch action.Type {
	case schema.ActionCreateTab:
		err = createTab(root, action.Name)
	case schema.ActionRemoveTab:
		err = removeTab(root, action.Name)
	case schema.ActionOpenTab, schema.ActionCloseTab:
		if err = requireTab(dir, action.Name); err == nil {
			err = persist.WriteFile(filepath.Join(dir, OpenFile), []byte(strconv.FormatBool(action.Type == schema.ActionOpenTab)), 0o644)
		}
	case schema.ActionChangeTabURL:
		if err = requireTab(dir, action.Name); err == nil {
			err = persist.WriteFile(filepath.Join(dir, URLFile), []byte(action.URL), 0o644)
		}
	}
	if err != nil {
		log.Debug("mirror apply failed", "action", action.Type, "err", err)
		return err
	}
	log.Trace("mirror apply ok", "action", action.Type)
	return nil
}

func createTab(root, name string) error {
	dir := filepath.Join(root, name)
	if _, err := os.Lstat(dir); err == nil {
		return fmt.Errorf("%w: %s", schema.ErrTabExists, name)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	staging, err := os.MkdirTemp(root, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return cleanup(err)
	}
	if err := persist.WriteFile(filepath.Join(staging, URLFile), nil, 0o644); err != nil {
		return cleanup(err)
	}
	if err := persist.WriteFile(filepath.Join(staging, OpenFile), []byte("false"), 0o644); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return cleanup(err)
	}
	return nil
}

// removeTab moves the tab out of sight in one rename before deleting it, so
// a concurrent scan never sees a half-deleted tab.
func removeTab(root, name string) error {
	dir := filepath.Join(root, name)
	if err := requireTab(dir, name); err != nil {
		return err
	}
	trash, err := os.MkdirTemp(root, "."+name+".*.trash")
	if err != nil {
		return err
	}
	target := filepath.Join(trash, name)
	if err := os.Rename(dir, target); err != nil {
		_ = os.RemoveAll(trash)
		return err
	}
	return os.RemoveAll(trash)
}

func requireTab(dir, name string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", schema.ErrTabNotFound, name)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", schema.ErrTabNotFound, name)
	}
	return nil
}

// scan reads every tab below root, ordered by name. Dot entries, plain files
// and directories whose names are not valid tab names are skipped. A tab
// whose files cannot be read is logged and left out until it reads cleanly.
func scan(log pslog.Logger, root string) ([]schema.Tab, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	tabs := make([]schema.Tab, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || !entry.IsDir() {
			continue
		}
		if schema.ValidateTabName(name) != nil {
			continue
		}
		tab, ok, err := readTab(filepath.Join(root, name), name)
		if err != nil {
			log.Warn("mirror tab unreadable", "root", root, "tab", name, "err", err)
			continue
		}
		if ok {
			tabs = append(tabs, tab)
		}
	}
	schema.SortTabs(tabs)
	return tabs, nil
}

// readTab reports ok=false when the tab directory disappeared while it was
// being read.
func readTab(dir, name string) (schema.Tab, bool, error) {
	url, err := persist.ReadTrimmed(filepath.Join(dir, URLFile))
	if err != nil {
		return schema.Tab{}, false, err
	}
	open, err := persist.ReadTrimmed(filepath.Join(dir, OpenFile))
	if err != nil {
		return schema.Tab{}, false, err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return schema.Tab{}, false, nil
		}
		return schema.Tab{}, false, err
	}
	isOpen, err := strconv.ParseBool(open)
	return schema.Tab{Name: name, URL: url, IsOpen: err == nil && isOpen}, true, nil
}
