package schema

import (
	"fmt"
	"strings"
)

// ActionType discriminates workspace actions.
type ActionType string

const (
	// ActionOpenTab marks a tab as open.
	ActionOpenTab ActionType = "open_tab"
	// ActionCloseTab marks a tab as closed.
	ActionCloseTab ActionType = "close_tab"
	// ActionChangeTabURL replaces a tab's URL.
	ActionChangeTabURL ActionType = "change_tab_url"
	// ActionCreateTab creates a closed tab with an empty URL.
	ActionCreateTab ActionType = "create_tab"
	// ActionRemoveTab removes a tab.
	ActionRemoveTab ActionType = "remove_tab"
)

// WorkspaceAction is a single change to a workspace's tabs. The same value
// describes client intents and changes detected on disk.
type WorkspaceAction struct {
	Type ActionType `json:"type"`
	Name string     `json:"name"`
	// URL is only meaningful for ActionChangeTabURL.
	URL string `json:"url,omitempty"`
}

// OpenTab returns an open_tab action.
func OpenTab(name string) WorkspaceAction {
	return WorkspaceAction{Type: ActionOpenTab, Name: name}
}

// CloseTab returns a close_tab action.
func CloseTab(name string) WorkspaceAction {
	return WorkspaceAction{Type: ActionCloseTab, Name: name}
}

// ChangeTabURL returns a change_tab_url action.
func ChangeTabURL(name, url string) WorkspaceAction {
	return WorkspaceAction{Type: ActionChangeTabURL, Name: name, URL: url}
}

// CreateTab returns a create_tab action.
func CreateTab(name string) WorkspaceAction {
	return WorkspaceAction{Type: ActionCreateTab, Name: name}
}

// RemoveTab returns a remove_tab action.
func RemoveTab(name string) WorkspaceAction {
	return WorkspaceAction{Type: ActionRemoveTab, Name: name}
}

// String renders the action for logs.
func (a WorkspaceAction) String() string {
	if a.Type == ActionChangeTabURL {
		return fmt.Sprintf("%s(%s, %s)", a.Type, a.Name, a.URL)
	}
	return fmt.Sprintf("%s(%s)", a.Type, a.Name)
}

// NormalizeAction validates an action and returns its canonical form: the URL
// is trimmed and dropped for action types that do not carry one.
func NormalizeAction(action WorkspaceAction) (WorkspaceAction, error) {
	switch action.Type {
	case ActionOpenTab, ActionCloseTab, ActionCreateTab, ActionRemoveTab:
		action.URL = ""
	case ActionChangeTabURL:
		action.URL = strings.TrimSpace(action.URL)
	default:
		return WorkspaceAction{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAction, action.Type)
	}
	if err := ValidateTabName(action.Name); err != nil {
		return WorkspaceAction{}, err
	}
	return action, nil
}
