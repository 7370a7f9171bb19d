package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTraffic carries a message that crossed a session channel.
	EventTraffic EventType = "traffic"
	// EventWorkspace carries coordinator activity for a workspace.
	EventWorkspace EventType = "workspace"
)

// Event is a trace event for one session.
type Event struct {
	Type      EventType              `json:"type"`
	Traffic   *schema.TrafficEvent   `json:"traffic,omitempty"`
	Workspace *schema.WorkspaceEvent `json:"workspace,omitempty"`
}

// Bus fans out events to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			close(ch)
			b.mu.Unlock()
			b.log.With("session", sessionID).Debug("eventbus unsubscribe")
		})
	}
}

// OnTraffic publishes a traffic event.
func (b *Bus) OnTraffic(event schema.TrafficEvent) {
	b.publish(event.SessionID, Event{Type: EventTraffic, Traffic: &event})
}

// OnWorkspaceEvent publishes a workspace event.
func (b *Bus) OnWorkspaceEvent(event schema.WorkspaceEvent) {
	b.publish(event.SessionID, Event{Type: EventWorkspace, Workspace: &event})
}

func (b *Bus) publish(sessionID schema.SessionID, event Event) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs[sessionID] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("session", sessionID).Trace("eventbus dropped", "count", dropped)
	}
}
