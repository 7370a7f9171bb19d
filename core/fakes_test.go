package core

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/tabsync/schema"
)

// fakeMirror keeps workspaces in memory and reports every change, including
// its own writes, to the active watchers of the affected root.
type fakeMirror struct {
	mu       sync.Mutex
	tabs     map[string][]schema.Tab
	streams  map[string][]*fakeStream
	applied  []schema.WorkspaceAction
	held     map[string][]schema.Tab
	applyErr error
	watchErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		tabs:    make(map[string][]schema.Tab),
		streams: make(map[string][]*fakeStream),
		held:    make(map[string][]schema.Tab),
	}
}

func (m *fakeMirror) seed(root string, tabs ...schema.Tab) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tabs[root] = append([]schema.Tab(nil), tabs...)
}

func (m *fakeMirror) Discover(_ context.Context, root string) (schema.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tabs, ok := m.tabs[root]
	if !ok {
		return schema.Workspace{}, schema.ErrDiscovery
	}
	return schema.Workspace{Name: root, Path: root, Tabs: schema.CloneTabs(tabs)}, nil
}

func (m *fakeMirror) Apply(_ context.Context, root string, action schema.WorkspaceAction) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	return m.change(root, action, true)
}

// external simulates a change made on disk by another program.
func (m *fakeMirror) external(root string, action schema.WorkspaceAction) error {
	return m.change(root, action, false)
}

func (m *fakeMirror) change(root string, action schema.WorkspaceAction, record bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.tabs[root]
	next, err := schema.ApplyAction(prev, action)
	if err != nil {
		return err
	}
	m.tabs[root] = next
	if record {
		m.applied = append(m.applied, action)
	}
	if _, ok := m.held[root]; ok {
		return nil
	}
	m.emitLocked(root, prev, next)
	return nil
}

// hold batches changes on root until release, like a debounced rescan.
func (m *fakeMirror) hold(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[root] = schema.CloneTabs(m.tabs[root])
}

// release reports the net difference since hold as one batch.
func (m *fakeMirror) release(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.held[root]
	if !ok {
		return
	}
	delete(m.held, root)
	m.emitLocked(root, prev, m.tabs[root])
}

func (m *fakeMirror) emitLocked(root string, prev, next []schema.Tab) {
	for _, detected := range schema.DiffTabs(prev, next) {
		for _, stream := range m.streams[root] {
			stream.ch <- detected
		}
	}
}

func (m *fakeMirror) Watch(ctx context.Context, root string, _ []schema.Tab) (ChangeStream, error) {
	if m.watchErr != nil {
		return nil, m.watchErr
	}
	stream := &fakeStream{ch: make(chan schema.WorkspaceAction, 64)}
	m.mu.Lock()
	m.streams[root] = append(m.streams[root], stream)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.end(root, stream, nil)
	}()
	return stream, nil
}

// fail ends every watch on root with err.
func (m *fakeMirror) fail(root string, err error) {
	m.mu.Lock()
	streams := append([]*fakeStream(nil), m.streams[root]...)
	m.mu.Unlock()
	for _, stream := range streams {
		m.end(root, stream, err)
	}
}

func (m *fakeMirror) end(root string, stream *fakeStream, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := m.streams[root]
	for i, s := range streams {
		if s == stream {
			m.streams[root] = append(streams[:i], streams[i+1:]...)
			stream.err = err
			close(stream.ch)
			return
		}
	}
}

func (m *fakeMirror) watchers(root string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[root])
}

func (m *fakeMirror) appliedActions() []schema.WorkspaceAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schema.WorkspaceAction(nil), m.applied...)
}

type fakeStream struct {
	ch  chan schema.WorkspaceAction
	err error
}

func (s *fakeStream) Actions() <-chan schema.WorkspaceAction { return s.ch }

func (s *fakeStream) Err() error { return s.err }

type recordingSink struct {
	mu      sync.Mutex
	traffic []schema.TrafficEvent
	events  []schema.WorkspaceEvent
}

func (r *recordingSink) OnTraffic(event schema.TrafficEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traffic = append(r.traffic, event)
}

func (r *recordingSink) OnWorkspaceEvent(event schema.WorkspaceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) eventTypes() []schema.WorkspaceEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.WorkspaceEventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

var errBoom = errors.New("boom")
