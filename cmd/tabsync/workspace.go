package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/internal/mirror"
	"pkt.systems/tabsync/schema"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "Print the workspace found in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := mirror.New(mirror.Options{}).Discover(cmd.Context(), cleanDir(args[0]))
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(ws); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Print changes made to a workspace directory as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cleanDir(args[0])
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			m := mirror.New(mirror.Options{Debounce: debounce})
			ws, err := m.Discover(ctx, root)
			if err != nil {
				return err
			}
			stream, err := m.Watch(ctx, root, ws.Tabs)
			if err != nil {
				return err
			}
			pslog.Ctx(ctx).Info("workspace watch start", "root", root, "tabs", len(ws.Tabs))
			enc := json.NewEncoder(cmd.OutOrStdout())
			for action := range stream.Actions() {
				if err := enc.Encode(action); err != nil {
					return err
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			return stream.Err()
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", schema.DefaultWatchDebounce, "quiet period before a rescan")
	return cmd
}

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <dir> <action> <name> [url]",
		Short: "Apply one workspace action to a directory",
		Long: "Apply one workspace action to a directory.\n\n" +
			"Actions: create, remove, open, close, url (also accepted with the _tab suffix).",
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseAction(args[1:])
			if err != nil {
				return err
			}
			root := cleanDir(args[0])
			if err := mirror.New(mirror.Options{}).Apply(cmd.Context(), root, action); err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("workspace action applied", "root", root, "action", string(action.Type), "tab", action.Name)
			return nil
		},
	}
}

// parseAction builds an action from ACTION NAME [URL].
func parseAction(args []string) (schema.WorkspaceAction, error) {
	if len(args) < 2 {
		return schema.WorkspaceAction{}, fmt.Errorf("%w: action and tab name are required", schema.ErrInvalidAction)
	}
	kind := strings.ToLower(strings.TrimSpace(args[0]))
	name := args[1]
	url := ""
	if len(args) > 2 {
		url = args[2]
	}
	var action schema.WorkspaceAction
	switch strings.TrimSuffix(kind, "_tab") {
	case "create":
		action = schema.CreateTab(name)
	case "remove":
		action = schema.RemoveTab(name)
	case "open":
		action = schema.OpenTab(name)
	case "close":
		action = schema.CloseTab(name)
	case "url", "change", "change_tab_url":
		if len(args) < 3 {
			return schema.WorkspaceAction{}, fmt.Errorf("%w: %s needs a url", schema.ErrInvalidAction, kind)
		}
		action = schema.ChangeTabURL(name, url)
	default:
		return schema.WorkspaceAction{}, fmt.Errorf("%w: unknown action %q", schema.ErrInvalidAction, kind)
	}
	if action.Type != schema.ActionChangeTabURL && url != "" {
		return schema.WorkspaceAction{}, fmt.Errorf("%w: %s takes no url", schema.ErrInvalidAction, kind)
	}
	return schema.NormalizeAction(action)
}

func cleanDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}
