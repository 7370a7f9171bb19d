package core

import (
	"sync"
	"time"

	"pkt.systems/tabsync/schema"
)

// EchoSuppressor remembers actions the coordinator wrote to disk so the
// watcher's detection of that same write is not sent back to the client.
// Each expectation matches one detected action with equal content and lapses
// after the window.
type EchoSuppressor struct {
	mu      sync.Mutex
	window  time.Duration
	pending []pendingEcho
	now     func() time.Time
}

type pendingEcho struct {
	action schema.WorkspaceAction
	field  tabField
	// before is the field's value prior to the first write of a chain.
	before   string
	deadline time.Time
}

// tabField names the part of a tab an action changes.
type tabField int

const (
	fieldExists tabField = iota
	fieldURL
	fieldOpen
)

// NewEchoSuppressor constructs a suppressor with the given expiry window.
func NewEchoSuppressor(window time.Duration) *EchoSuppressor {
	if window <= 0 {
		window = schema.DefaultEchoWindow
	}
	return &EchoSuppressor{window: window, now: time.Now}
}

// Expect registers an action about to be written to disk, given the tabs as
// they are before the write. It reports whether an echo is expected. Writes
// that leave tabs unchanged produce no echo, and neither does a write that
// returns a field to the value it had before earlier still-pending writes,
// since the watcher may see the whole chain as a single no-op.
func (s *EchoSuppressor) Expect(tabs []schema.Tab, action schema.WorkspaceAction) bool {
	if next, err := schema.ApplyAction(tabs, action); err == nil && len(schema.DiffTabs(tabs, next)) == 0 {
		return false
	}
	field, target := fieldTarget(action)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.pruneLocked(now)
	for _, p := range s.pending {
		if p.action.Name != action.Name || p.field != field {
			continue
		}
		if p.before == target {
			s.dropLocked(len(s.pending), action.Name, field)
			return false
		}
		break
	}
	s.pending = append(s.pending, pendingEcho{
		action:   action,
		field:    field,
		before:   fieldValue(tabs, action.Name, field),
		deadline: now.Add(s.window),
	})
	return true
}

// Consume reports whether action is the echo of an expected write and, if
// so, forgets that expectation. A matching URL or open-state echo also
// retires older writes to the same field, which the watcher folded into it.
func (s *EchoSuppressor) Consume(action schema.WorkspaceAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	for i, p := range s.pending {
		if p.action != action {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		if p.field != fieldExists {
			s.dropLocked(i, action.Name, p.field)
		}
		return true
	}
	return false
}

// Cancel forgets the newest expectation for action, used when the write
// never reached disk.
func (s *EchoSuppressor) Cancel(action schema.WorkspaceAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].action == action {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the number of unexpired expectations.
func (s *EchoSuppressor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.pending)
}

// dropLocked removes the expectations before index end that touch field of
// the named tab. Dropping existence drops every expectation for the tab.
func (s *EchoSuppressor) dropLocked(end int, name string, field tabField) {
	kept := make([]pendingEcho, 0, len(s.pending))
	for i, p := range s.pending {
		if i < end && p.action.Name == name && (field == fieldExists || p.field == field) {
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
}

func (s *EchoSuppressor) pruneLocked(now time.Time) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if now.Before(p.deadline) {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = pendingEcho{}
	}
	s.pending = kept
}

func fieldTarget(action schema.WorkspaceAction) (tabField, string) {
	switch action.Type {
	case schema.ActionChangeTabURL:
		return fieldURL, action.URL
	case schema.ActionOpenTab:
		return fieldOpen, "true"
	case schema.ActionCloseTab:
		return fieldOpen, "false"
	case schema.ActionRemoveTab:
		return fieldExists, "false"
	default:
		return fieldExists, "true"
	}
}

func fieldValue(tabs []schema.Tab, name string, field tabField) string {
	for _, tab := range tabs {
		if tab.Name != name {
			continue
		}
		switch field {
		case fieldURL:
			return tab.URL
		case fieldOpen:
			if tab.IsOpen {
				return "true"
			}
			return "false"
		default:
			return "true"
		}
	}
	if field == fieldExists {
		return "false"
	}
	return ""
}
