package mirror

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/core"
	"pkt.systems/tabsync/schema"
)

type stream struct {
	actions chan schema.WorkspaceAction
	err     error
}

func (s *stream) Actions() <-chan schema.WorkspaceAction { return s.actions }

func (s *stream) Err() error { return s.err }

type rootWatch struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	dirs     map[string]struct{}
	log      pslog.Logger
}

// Watch follows changes below root. Raw events are debounced; each quiet
// period triggers a rescan whose difference to the previous scan is emitted
// as actions. The first rescan is compared against baseline, so changes made
// between the caller's snapshot and the watch start are reported too.
func (m *FS) Watch(ctx context.Context, root string, baseline []schema.Tab) (core.ChangeStream, error) {
	current, err := scan(pslog.Ctx(ctx), root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrWatchStopped, root, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrWatchStopped, err)
	}
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrWatchStopped, root, err)
	}
	w := &rootWatch{
		root:     root,
		debounce: m.debounce,
		watcher:  watcher,
		dirs:     make(map[string]struct{}),
		log:      pslog.Ctx(ctx).With("root", root),
	}
	w.syncDirs(current)
	last := schema.CloneTabs(baseline)
	schema.SortTabs(last)
	s := &stream{actions: make(chan schema.WorkspaceAction, 64)}
	go w.run(ctx, s, last)
	w.log.Debug("mirror watch start", "dirs", len(w.dirs))
	return s, nil
}

func (w *rootWatch) run(ctx context.Context, s *stream, last []schema.Tab) {
	defer close(s.actions)
	defer func() { _ = w.watcher.Close() }()

	timer := time.NewTimer(w.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("mirror watch stop")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				s.err = fmt.Errorf("%w: event stream closed", schema.ErrWatchStopped)
				return
			}
			if w.ignored(event) {
				continue
			}
			w.log.Trace("mirror event", "op", event.Op.String(), "path", event.Name)
			resetTimer(timer, w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				s.err = fmt.Errorf("%w: error stream closed", schema.ErrWatchStopped)
				return
			}
			w.log.Warn("mirror watch error", "err", err)
			s.err = fmt.Errorf("%w: %v", schema.ErrWatchStopped, err)
			return
		case <-timer.C:
			current, err := scan(w.log, w.root)
			if err != nil {
				w.log.Warn("mirror rescan failed", "err", err)
				s.err = fmt.Errorf("%w: %s: %v", schema.ErrWatchStopped, w.root, err)
				return
			}
			if w.syncDirs(current) {
				resetTimer(timer, w.debounce)
			}
			actions := schema.DiffTabs(last, current)
			if len(actions) > 0 {
				w.log.Debug("mirror changes detected", "actions", len(actions))
			}
			for _, action := range actions {
				select {
				case s.actions <- action:
				case <-ctx.Done():
					return
				}
			}
			last = current
		}
	}
}

// ignored filters events that cannot change a scan: attribute-only changes
// and the staging entries written by Apply.
func (w *rootWatch) ignored(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	if event.Name == w.root {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), ".")
}

// syncDirs watches every tab directory in tabs and forgets the rest. It
// reports whether new directories were added, since writes that landed
// before the watch was in place are only seen by another rescan.
func (w *rootWatch) syncDirs(tabs []schema.Tab) bool {
	seen := make(map[string]struct{}, len(tabs))
	added := false
	for _, tab := range tabs {
		dir := filepath.Join(w.root, tab.Name)
		seen[dir] = struct{}{}
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Debug("mirror watch add failed", "dir", dir, "err", err)
			continue
		}
		w.dirs[dir] = struct{}{}
		added = true
	}
	for dir := range w.dirs {
		if _, ok := seen[dir]; ok {
			continue
		}
		if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.log.Trace("mirror watch remove failed", "dir", dir, "err", err)
		}
		delete(w.dirs, dir)
	}
	return added
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
