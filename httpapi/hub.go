package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/schema"
)

// StreamEvent is sent to SSE clients following a workspace.
type StreamEvent struct {
	Seq         uint64                    `json:"seq"`
	Type        schema.WorkspaceEventType `json:"type"`
	SessionID   schema.SessionID          `json:"session_id,omitempty"`
	WorkspaceID schema.WorkspaceID        `json:"workspace_id"`
	Action      *schema.WorkspaceAction   `json:"action,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// Hub keeps a bounded event history per workspace and broadcasts new events
// to subscribers.
type Hub struct {
	mu          sync.Mutex
	workspaces  map[schema.WorkspaceID]*workspaceHub
	historySize int
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		workspaces:  make(map[schema.WorkspaceID]*workspaceHub),
		historySize: historySize,
		log:         logger,
	}
}

// OnTraffic implements core.EventSink. Raw traffic is traced per session by
// the event bus, not kept in workspace history.
func (h *Hub) OnTraffic(schema.TrafficEvent) {}

// OnWorkspaceEvent implements core.EventSink.
func (h *Hub) OnWorkspaceEvent(event schema.WorkspaceEvent) {
	h.log.With("workspace", event.WorkspaceID).Trace("hub workspace event", "type", event.Type, "session", event.SessionID)
	h.publish(event.WorkspaceID, StreamEvent{
		Type:        event.Type,
		SessionID:   event.SessionID,
		WorkspaceID: event.WorkspaceID,
		Action:      event.Action,
		Error:       event.Error,
		Timestamp:   time.Now().UTC(),
	})
}

// Subscribe registers a subscriber for a workspace. It returns the event
// channel, the unsubscribe func, the last sequence number, and the history.
// A workspace that never published anything is forgotten again once its last
// subscriber leaves.
func (h *Hub) Subscribe(workspaceID schema.WorkspaceID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	wh := h.getOrCreateLocked(workspaceID)
	ch := make(chan StreamEvent, 256)
	wh.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), wh.history...)
	seq := wh.seq
	log := h.log.With("workspace", workspaceID)
	log.Info("hub subscribe", "subs", len(wh.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(wh.subs, ch)
			close(ch)
			remaining := len(wh.subs)
			if remaining == 0 && wh.seq == 0 && h.workspaces[workspaceID] == wh {
				delete(h.workspaces, workspaceID)
			}
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(workspaceID schema.WorkspaceID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	wh := h.workspaces[workspaceID]
	if wh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(wh.history))
	for _, event := range wh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.log.With("workspace", workspaceID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(workspaceID schema.WorkspaceID, event StreamEvent) {
	h.mu.Lock()
	wh := h.getOrCreateLocked(workspaceID)
	wh.seq++
	event.Seq = wh.seq
	wh.history = append(wh.history, event)
	if len(wh.history) > h.historySize {
		wh.history = wh.history[len(wh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range wh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.log.With("workspace", workspaceID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateLocked(workspaceID schema.WorkspaceID) *workspaceHub {
	wh := h.workspaces[workspaceID]
	if wh == nil {
		wh = &workspaceHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.workspaces[workspaceID] = wh
	}
	return wh
}

type workspaceHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
