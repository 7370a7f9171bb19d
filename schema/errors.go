package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed client message.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAction indicates an unknown or malformed workspace action.
	ErrInvalidAction = errors.New("invalid workspace action")
	// ErrInvalidTabName indicates a tab name that cannot be used as a directory name.
	ErrInvalidTabName = errors.New("invalid tab name")
	// ErrWorkspaceNotFound indicates an unknown workspace id.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrWorkspaceNotStarted indicates an action for a workspace the session never started.
	ErrWorkspaceNotStarted = errors.New("workspace not started")
	// ErrDiscovery indicates a workspace root could not be scanned.
	ErrDiscovery = errors.New("workspace discovery failed")
	// ErrTabExists indicates a tab with the same name already exists.
	ErrTabExists = errors.New("tab already exists")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSessionClosed indicates the client channel is closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrWatchStopped indicates live updates for a workspace stopped.
	ErrWatchStopped = errors.New("workspace watch stopped")
)
