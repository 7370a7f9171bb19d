package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	workspaceKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionWorkspace annotates the logger with session and workspace identifiers.
func WithSessionWorkspace(ctx context.Context, sessionID schema.SessionID, workspaceID schema.WorkspaceID) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if workspaceID != "" {
		if current, ok := ctx.Value(workspaceKey).(schema.WorkspaceID); ok && current == workspaceID {
			return log
		}
		log = log.With("workspace", workspaceID)
	}
	return log
}

// WithAction annotates the logger with action fields when available.
func WithAction(log pslog.Logger, action schema.WorkspaceAction) pslog.Logger {
	if action.Type != "" {
		log = log.With("action", action.Type)
	}
	if action.Name != "" {
		log = log.With("tab", action.Name)
	}
	if action.URL != "" {
		log = log.With("url", action.URL)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithWorkspace stores the workspace marker on the context for log de-duplication.
func ContextWithWorkspace(ctx context.Context, workspaceID schema.WorkspaceID) context.Context {
	if ctx == nil || workspaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, workspaceKey, workspaceID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// ContextWithWorkspaceLogger attaches the logger and session/workspace markers to the context.
func ContextWithWorkspaceLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID, workspaceID schema.WorkspaceID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithWorkspace(ContextWithSession(ctx, sessionID), workspaceID)
}

// CopyContextFields copies session/workspace markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	if workspace, ok := src.Value(workspaceKey).(schema.WorkspaceID); ok && workspace != "" {
		dst = ContextWithWorkspace(dst, workspace)
	}
	return dst
}
