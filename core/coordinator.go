package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"
	"pkt.systems/tabsync/internal/logx"
	"pkt.systems/tabsync/schema"
)

// Coordinator runs the synchronization loop for every connected client. It
// relays client actions to the mirror and detected changes back to the
// client, dropping the echoes of its own writes.
type Coordinator struct {
	cfg    schema.ServiceConfig
	store  *Store
	mirror Mirror
	sink   EventSink
	logger pslog.Logger

	active atomic.Int64

	mu       sync.Mutex
	sessions map[schema.SessionID]*session
}

type session struct {
	conn     *Conn
	cancel   context.CancelFunc
	snapshot map[schema.WorkspaceID]schema.Workspace

	mu      sync.Mutex
	watches map[schema.WorkspaceID]*watch
}

type watch struct {
	id     schema.WorkspaceID
	root   string
	echoes *EchoSuppressor
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator constructs a coordinator. Store and Mirror are required.
func NewCoordinator(cfg schema.ServiceConfig, deps CoordinatorDeps) (*Coordinator, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, errors.New("workspace store is required")
	}
	if deps.Mirror == nil {
		return nil, errors.New("mirror is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Coordinator{
		cfg:      normalized,
		store:    deps.Store,
		mirror:   deps.Mirror,
		sink:     deps.EventSink,
		logger:   logger,
		sessions: make(map[schema.SessionID]*session),
	}, nil
}

// ActiveWatches returns the number of running forward tasks across sessions.
func (c *Coordinator) ActiveWatches() int {
	return int(c.active.Load())
}

// Sessions lists the connected sessions and the workspaces they started.
func (c *Coordinator) Sessions() []schema.SessionInfo {
	c.mu.Lock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.mu.Unlock()
	out := make([]schema.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, schema.SessionInfo{
			ID:          sess.conn.ID(),
			Active:      sess.activeIDs(),
			ConnectedAt: sess.conn.ConnectedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Serve runs the control loop for one client until the inbound stream ends,
// ctx is cancelled, or a send fails. Every forward task started by the
// session is stopped and the conn is closed before Serve returns.
func (c *Coordinator) Serve(ctx context.Context, conn *Conn) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	if conn == nil {
		return errors.New("missing conn")
	}
	log := c.logger.With("session", conn.ID())
	ctx = logx.ContextWithSessionLogger(ctx, log, conn.ID())
	ctx, cancel := context.WithCancel(ctx)

	workspaces := c.store.List()
	sess := &session{
		conn:     conn,
		cancel:   cancel,
		snapshot: make(map[schema.WorkspaceID]schema.Workspace, len(workspaces)),
		watches:  make(map[schema.WorkspaceID]*watch),
	}
	for _, ws := range workspaces {
		sess.snapshot[ws.ID] = ws
	}
	c.mu.Lock()
	c.sessions[conn.ID()] = sess
	c.mu.Unlock()
	defer c.finish(sess)
	defer cancel()

	log.Info("session start", "workspaces", len(workspaces))
	if err := conn.Send(schema.AllWorkspacesMessage(workspaces)); err != nil {
		log.Warn("session send failed", "err", err)
		return fmt.Errorf("send workspaces: %w", err)
	}
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, schema.ErrSessionClosed) || ctx.Err() != nil {
				log.Info("session end")
				return nil
			}
			log.Warn("session receive failed", "err", err)
			return err
		}
		if err := c.handle(ctx, sess, msg); err != nil {
			log.Warn("session send failed", "err", err)
			return err
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, sess *session, msg schema.ClientMessage) error {
	switch msg.Type {
	case schema.ClientStartWorkspace:
		return c.start(ctx, sess, msg.WorkspaceID)
	case schema.ClientStopWorkspace:
		c.stop(ctx, sess, msg.WorkspaceID)
	case schema.ClientWorkspaceAction:
		c.apply(ctx, sess, msg.WorkspaceID, msg.Action)
	default:
		logx.WithSession(ctx, sess.conn.ID()).Warn("session message ignored", "type", msg.Type, "err", schema.ErrInvalidRequest)
	}
	return nil
}

func (c *Coordinator) start(ctx context.Context, sess *session, id schema.WorkspaceID) error {
	log := logx.WithSessionWorkspace(ctx, sess.conn.ID(), id)
	ws, ok := sess.snapshot[id]
	if !ok {
		log.Warn("workspace start ignored", "err", schema.ErrWorkspaceNotFound)
		return nil
	}
	if sess.stopWatch(id) {
		log.Debug("workspace watch restarted")
	}
	if current, err := c.store.Find(id); err == nil {
		ws = current
	} else {
		log.Debug("workspace start using snapshot", "err", err)
	}
	if err := sess.conn.Send(schema.LoadWorkspaceMessage(ws)); err != nil {
		return fmt.Errorf("send workspace: %w", err)
	}

	watchCtx, cancel := context.WithCancel(logx.ContextWithWorkspace(ctx, id))
	stream, err := c.mirror.Watch(watchCtx, ws.Path, ws.Tabs)
	if err != nil {
		cancel()
		log.Warn("workspace watch failed", "root", ws.Path, "err", err)
		c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: id, Type: schema.WorkspaceEventWatchFailed, Error: err.Error()})
		if sendErr := sess.conn.Send(schema.WatchStoppedMessage(id, err)); sendErr != nil {
			return fmt.Errorf("send watch stopped: %w", sendErr)
		}
		return nil
	}
	w := &watch{
		id:     id,
		root:   ws.Path,
		echoes: NewEchoSuppressor(c.cfg.EchoWindow),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sess.mu.Lock()
	sess.watches[id] = w
	sess.mu.Unlock()
	c.active.Add(1)
	go c.forward(watchCtx, sess, w, stream)

	log.Info("workspace started", "root", ws.Path, "tabs", len(ws.Tabs))
	c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: id, Type: schema.WorkspaceEventStarted})
	return nil
}

func (c *Coordinator) stop(ctx context.Context, sess *session, id schema.WorkspaceID) {
	log := logx.WithSessionWorkspace(ctx, sess.conn.ID(), id)
	if !sess.stopWatch(id) {
		log.Debug("workspace stop ignored", "err", schema.ErrWorkspaceNotStarted)
		return
	}
	log.Info("workspace stopped")
	c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: id, Type: schema.WorkspaceEventStopped})
}

func (c *Coordinator) apply(ctx context.Context, sess *session, id schema.WorkspaceID, action *schema.WorkspaceAction) {
	log := logx.WithSessionWorkspace(ctx, sess.conn.ID(), id)
	if action == nil {
		log.Warn("workspace action ignored", "err", schema.ErrInvalidRequest)
		return
	}
	log = logx.WithAction(log, *action)
	normalized, err := schema.NormalizeAction(*action)
	if err != nil {
		log.Warn("workspace action ignored", "err", err)
		return
	}
	if _, ok := sess.snapshot[id]; !ok {
		log.Warn("workspace action ignored", "err", schema.ErrWorkspaceNotFound)
		return
	}
	w := sess.watchFor(id)
	if w == nil {
		log.Warn("workspace action ignored", "err", schema.ErrWorkspaceNotStarted)
		return
	}
	var tabs []schema.Tab
	if current, err := c.store.Find(id); err == nil {
		tabs = current.Tabs
	}
	expected := w.echoes.Expect(tabs, normalized)
	if err := c.mirror.Apply(ctx, w.root, normalized); err != nil {
		if expected {
			w.echoes.Cancel(normalized)
		}
		log.Warn("workspace action failed", "err", err)
		c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: id, Type: schema.WorkspaceEventApplyFailed, Action: &normalized, Error: err.Error()})
		return
	}
	if err := c.store.Apply(id, normalized); err != nil {
		log.Debug("store apply skipped", "err", err)
	}
	log.Info("workspace action applied", "echo", expected)
	c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: id, Type: schema.WorkspaceEventApplied, Action: &normalized})
}

func (c *Coordinator) forward(ctx context.Context, sess *session, w *watch, stream ChangeStream) {
	defer func() {
		w.cancel()
		c.active.Add(-1)
		close(w.done)
	}()
	log := logx.WithSessionWorkspace(ctx, sess.conn.ID(), w.id)
	for action := range stream.Actions() {
		if err := c.store.Apply(w.id, action); err != nil {
			log.Debug("store apply skipped", "action", action.String(), "err", err)
		}
		if w.echoes.Consume(action) {
			log.Debug("workspace echo suppressed", "action", action.String())
			c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: w.id, Type: schema.WorkspaceEventSuppressed, Action: &action})
			continue
		}
		if err := sess.conn.Send(schema.ServerActionMessage(w.id, action)); err != nil {
			log.Warn("workspace forward failed", "err", err)
			sess.cancel()
			return
		}
		log.Debug("workspace change forwarded", "action", action.String())
		c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: w.id, Type: schema.WorkspaceEventDetected, Action: &action})
	}
	err := stream.Err()
	if err == nil || ctx.Err() != nil {
		return
	}
	log.Warn("workspace watch stopped", "err", err)
	c.emit(schema.WorkspaceEvent{SessionID: sess.conn.ID(), WorkspaceID: w.id, Type: schema.WorkspaceEventWatchFailed, Error: err.Error()})
	if !errors.Is(err, schema.ErrWatchStopped) {
		err = fmt.Errorf("%w: %v", schema.ErrWatchStopped, err)
	}
	if sendErr := sess.conn.Send(schema.WatchStoppedMessage(w.id, err)); sendErr != nil {
		log.Warn("workspace forward failed", "err", sendErr)
		sess.cancel()
	}
}

func (c *Coordinator) finish(sess *session) {
	sess.mu.Lock()
	watches := make([]*watch, 0, len(sess.watches))
	for id, w := range sess.watches {
		watches = append(watches, w)
		delete(sess.watches, id)
	}
	sess.mu.Unlock()
	for _, w := range watches {
		w.cancel()
	}
	for _, w := range watches {
		<-w.done
	}
	sess.conn.Close()
	c.mu.Lock()
	if current := c.sessions[sess.conn.ID()]; current == sess {
		delete(c.sessions, sess.conn.ID())
	}
	c.mu.Unlock()
	c.logger.Debug("session closed", "session", sess.conn.ID(), "watches", len(watches))
}

func (c *Coordinator) emit(event schema.WorkspaceEvent) {
	if c.sink != nil {
		c.sink.OnWorkspaceEvent(event)
	}
}

func (s *session) watchFor(id schema.WorkspaceID) *watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches[id]
}

// stopWatch cancels and joins the forward task for id. It reports whether a
// task was running.
func (s *session) stopWatch(id schema.WorkspaceID) bool {
	s.mu.Lock()
	w := s.watches[id]
	delete(s.watches, id)
	s.mu.Unlock()
	if w == nil {
		return false
	}
	w.cancel()
	<-w.done
	return true
}

func (s *session) activeIDs() []schema.WorkspaceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]schema.WorkspaceID, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
