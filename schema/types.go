package schema

// WorkspaceID identifies a workspace for the lifetime of the process.
type WorkspaceID string

// SessionID identifies a connected client session.
type SessionID string

// Tab is a named URL slot mirrored as a directory inside a workspace.
type Tab struct {
	// Name is unique within its workspace and doubles as the directory name.
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	IsOpen bool   `json:"is_open" yaml:"is_open"`
}

// Workspace is a directory on disk holding one subdirectory per tab.
type Workspace struct {
	ID   WorkspaceID `json:"id" yaml:"id,omitempty"`
	Name string      `json:"name" yaml:"name"`
	Path string      `json:"path" yaml:"path"`
	Tabs []Tab       `json:"tabs" yaml:"tabs"`
}

// ClientWorkspace is the view of a workspace handed to clients. The local path
// is deliberately left out.
type ClientWorkspace struct {
	ID   WorkspaceID `json:"id"`
	Name string      `json:"name"`
	Tabs []Tab       `json:"tabs"`
}

// Clone returns a deep copy of the workspace.
func (w Workspace) Clone() Workspace {
	w.Tabs = CloneTabs(w.Tabs)
	return w
}

// ClientView returns the path-free view of the workspace.
func (w Workspace) ClientView() ClientWorkspace {
	return ClientWorkspace{
		ID:   w.ID,
		Name: w.Name,
		Tabs: CloneTabs(w.Tabs),
	}
}

// CloneTabs copies a tab slice. A nil input yields an empty, non-nil slice so
// JSON encodes it as [].
func CloneTabs(tabs []Tab) []Tab {
	out := make([]Tab, len(tabs))
	copy(out, tabs)
	return out
}
