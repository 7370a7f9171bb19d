package core

import (
	"context"

	"pkt.systems/tabsync/schema"
)

// Discoverer scans a workspace root into its tab set.
type Discoverer interface {
	Discover(ctx context.Context, root string) (schema.Workspace, error)
}

// Mirror reads, writes and watches the on-disk representation of workspaces.
type Mirror interface {
	Discoverer
	// Apply writes a single action below root.
	Apply(ctx context.Context, root string, action schema.WorkspaceAction) error
	// Watch streams the actions that explain changes made below root,
	// starting from baseline. The stream ends when ctx is cancelled or the
	// watch fails.
	Watch(ctx context.Context, root string, baseline []schema.Tab) (ChangeStream, error)
}

// ChangeStream is a live stream of detected workspace actions.
type ChangeStream interface {
	// Actions is closed when the stream ends.
	Actions() <-chan schema.WorkspaceAction
	// Err reports why the stream ended. It is nil after cancellation and only
	// valid once Actions is closed.
	Err() error
}
