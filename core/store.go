package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/schema"
)

// Store is the in-memory workspace registry. Readers get deep copies; every
// mutation happens under the write lock.
type Store struct {
	mu         sync.RWMutex
	roots      []string
	workspaces []schema.Workspace
	discoverer Discoverer
	logger     pslog.Logger
	newID      func() schema.WorkspaceID
}

// NewStore constructs an empty store for the given roots. Call Load to scan them.
func NewStore(roots []string, discoverer Discoverer, logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &Store{
		roots:      cleaned,
		discoverer: discoverer,
		logger:     logger,
		newID:      newWorkspaceID,
	}
}

// Load scans every configured root and replaces the registry. Roots that fail
// discovery are logged and skipped. Ids are kept for roots that were already
// loaded. It returns the number of workspaces loaded.
func (s *Store) Load(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.RLock()
	roots := append([]string(nil), s.roots...)
	s.mu.RUnlock()

	scanned := make([]schema.Workspace, 0, len(roots))
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("store load interrupted", "err", err)
			break
		}
		ws, err := s.discoverer.Discover(ctx, root)
		if err != nil {
			s.logger.Warn("store root skipped", "root", root, "err", err)
			continue
		}
		ws.Path = root
		scanned = append(scanned, ws)
	}

	s.mu.Lock()
	ids := make(map[string]schema.WorkspaceID, len(s.workspaces))
	for _, ws := range s.workspaces {
		ids[ws.Path] = ws.ID
	}
	for i := range scanned {
		if id, ok := ids[scanned[i].Path]; ok {
			scanned[i].ID = id
		} else {
			scanned[i].ID = s.newID()
		}
	}
	s.workspaces = scanned
	s.mu.Unlock()

	s.logger.Info("store load complete", "roots", len(roots), "workspaces", len(scanned))
	return len(scanned)
}

// List returns a deep copy of every workspace in root order.
func (s *Store) List() []schema.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		out = append(out, ws.Clone())
	}
	return out
}

// Find returns a deep copy of the workspace with the given id.
func (s *Store) Find(id schema.WorkspaceID) (schema.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return schema.Workspace{}, fmt.Errorf("%w: %s", schema.ErrWorkspaceNotFound, id)
	}
	return s.workspaces[idx].Clone(), nil
}

// Roots returns the configured workspace roots.
func (s *Store) Roots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.roots...)
}

// Add discovers root and registers it. Adding a root that is already
// registered refreshes its tabs and keeps its id.
func (s *Store) Add(ctx context.Context, root string) (schema.Workspace, error) {
	if root == "" {
		return schema.Workspace{}, errors.New("workspace root is required")
	}
	root = filepath.Clean(root)
	ws, err := s.discoverer.Discover(ctx, root)
	if err != nil {
		return schema.Workspace{}, err
	}
	ws.Path = root

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.workspaces {
		if s.workspaces[i].Path == root {
			ws.ID = s.workspaces[i].ID
			s.workspaces[i] = ws
			s.logger.Info("store workspace refreshed", "workspace", ws.ID, "root", root)
			return ws.Clone(), nil
		}
	}
	ws.ID = s.newID()
	s.workspaces = append(s.workspaces, ws)
	if !containsString(s.roots, root) {
		s.roots = append(s.roots, root)
	}
	s.logger.Info("store workspace added", "workspace", ws.ID, "root", root, "tabs", len(ws.Tabs))
	return ws.Clone(), nil
}

// Remove drops a workspace and its root from the registry.
func (s *Store) Remove(id schema.WorkspaceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", schema.ErrWorkspaceNotFound, id)
	}
	root := s.workspaces[idx].Path
	s.workspaces = append(s.workspaces[:idx], s.workspaces[idx+1:]...)
	roots := s.roots[:0]
	for _, r := range s.roots {
		if r != root {
			roots = append(roots, r)
		}
	}
	s.roots = roots
	s.logger.Info("store workspace removed", "workspace", id, "root", root)
	return nil
}

// Apply records a detected action against the registry's copy of the
// workspace's tabs.
func (s *Store) Apply(id schema.WorkspaceID, action schema.WorkspaceAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", schema.ErrWorkspaceNotFound, id)
	}
	tabs, err := schema.ApplyAction(s.workspaces[idx].Tabs, action)
	if err != nil {
		return err
	}
	s.workspaces[idx].Tabs = tabs
	return nil
}

func (s *Store) indexLocked(id schema.WorkspaceID) int {
	for i := range s.workspaces {
		if s.workspaces[i].ID == id {
			return i
		}
	}
	return -1
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
