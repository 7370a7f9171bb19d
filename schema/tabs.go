package schema

import (
	"fmt"
	"sort"
)

// ApplyAction returns a copy of tabs with the action applied. Tabs stay
// ordered by name. The input slice is never modified.
func ApplyAction(tabs []Tab, action WorkspaceAction) ([]Tab, error) {
	action, err := NormalizeAction(action)
	if err != nil {
		return nil, err
	}
	idx, found := findTab(tabs, action.Name)
	if action.Type == ActionCreateTab {
		if found {
			return nil, fmt.Errorf("%w: %s", ErrTabExists, action.Name)
		}
		out := make([]Tab, 0, len(tabs)+1)
		out = append(out, tabs[:idx]...)
		out = append(out, Tab{Name: action.Name})
		out = append(out, tabs[idx:]...)
		return out, nil
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTabNotFound, action.Name)
	}
	if action.Type == ActionRemoveTab {
		out := make([]Tab, 0, len(tabs)-1)
		out = append(out, tabs[:idx]...)
		return append(out, tabs[idx+1:]...), nil
	}
	out := CloneTabs(tabs)
	switch action.Type {
	case ActionOpenTab:
		out[idx].IsOpen = true
	case ActionCloseTab:
		out[idx].IsOpen = false
	case ActionChangeTabURL:
		out[idx].URL = action.URL
	}
	return out, nil
}

// DiffTabs returns the actions that turn prev into next. Removals come first,
// then creations and field changes in the order of next. A created tab is
// followed by the actions that set its URL and open state.
func DiffTabs(prev, next []Tab) []WorkspaceAction {
	before := make(map[string]Tab, len(prev))
	for _, tab := range prev {
		before[tab.Name] = tab
	}
	after := make(map[string]struct{}, len(next))
	for _, tab := range next {
		after[tab.Name] = struct{}{}
	}
	var actions []WorkspaceAction
	for _, tab := range prev {
		if _, ok := after[tab.Name]; !ok {
			actions = append(actions, RemoveTab(tab.Name))
		}
	}
	for _, tab := range next {
		old, ok := before[tab.Name]
		if !ok {
			actions = append(actions, CreateTab(tab.Name))
			old = Tab{Name: tab.Name}
		}
		if tab.URL != old.URL {
			actions = append(actions, ChangeTabURL(tab.Name, tab.URL))
		}
		if tab.IsOpen != old.IsOpen {
			if tab.IsOpen {
				actions = append(actions, OpenTab(tab.Name))
			} else {
				actions = append(actions, CloseTab(tab.Name))
			}
		}
	}
	return actions
}

// SortTabs orders tabs by name in place.
func SortTabs(tabs []Tab) {
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].Name < tabs[j].Name })
}

func findTab(tabs []Tab, name string) (int, bool) {
	idx := sort.Search(len(tabs), func(i int) bool { return tabs[i].Name >= name })
	return idx, idx < len(tabs) && tabs[idx].Name == name
}
