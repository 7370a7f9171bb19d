package schema

import "time"

// Direction marks which way a message crossed the session boundary.
type Direction string

const (
	// DirectionInbound is client to coordinator.
	DirectionInbound Direction = "in"
	// DirectionOutbound is coordinator to client.
	DirectionOutbound Direction = "out"
)

// TrafficEvent reports one message crossing a session channel.
type TrafficEvent struct {
	SessionID SessionID      `json:"session_id"`
	Direction Direction      `json:"direction"`
	Inbound   *ClientMessage `json:"inbound,omitempty"`
	Outbound  *ServerMessage `json:"outbound,omitempty"`
	Time      time.Time      `json:"time"`
}

// WorkspaceEventType describes what happened to a workspace within a session.
type WorkspaceEventType string

const (
	// WorkspaceEventStarted indicates a session started a workspace.
	WorkspaceEventStarted WorkspaceEventType = "started"
	// WorkspaceEventStopped indicates a session stopped a workspace.
	WorkspaceEventStopped WorkspaceEventType = "stopped"
	// WorkspaceEventApplied indicates a client action reached disk.
	WorkspaceEventApplied WorkspaceEventType = "applied"
	// WorkspaceEventApplyFailed indicates a client action could not be applied.
	WorkspaceEventApplyFailed WorkspaceEventType = "apply_failed"
	// WorkspaceEventDetected indicates a change on disk was forwarded.
	WorkspaceEventDetected WorkspaceEventType = "detected"
	// WorkspaceEventSuppressed indicates a detected change was recognized as an echo.
	WorkspaceEventSuppressed WorkspaceEventType = "suppressed"
	// WorkspaceEventWatchFailed indicates the workspace watch ended with an error.
	WorkspaceEventWatchFailed WorkspaceEventType = "watch_failed"
)

// WorkspaceEvent reports coordinator activity for a workspace.
type WorkspaceEvent struct {
	SessionID   SessionID          `json:"session_id"`
	WorkspaceID WorkspaceID        `json:"workspace_id"`
	Type        WorkspaceEventType `json:"type"`
	Action      *WorkspaceAction   `json:"action,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// SessionInfo summarizes a connected session.
type SessionInfo struct {
	ID          SessionID     `json:"id"`
	Active      []WorkspaceID `json:"active"`
	ConnectedAt time.Time     `json:"connected_at"`
}
