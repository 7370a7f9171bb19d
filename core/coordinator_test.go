package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/tabsync/schema"
)

type harness struct {
	t      *testing.T
	mirror *fakeMirror
	store  *Store
	coord  *Coordinator
	sink   *recordingSink
	conn   *Conn
	ctx    context.Context
	served chan error
}

func newHarness(t *testing.T, roots ...string) *harness {
	t.Helper()
	mirror := newFakeMirror()
	for _, root := range roots {
		mirror.seed(root)
	}
	return &harness{t: t, mirror: mirror}
}

func (h *harness) connect() {
	h.t.Helper()
	roots := make([]string, 0, len(h.mirror.tabs))
	for root := range h.mirror.tabs {
		roots = append(roots, root)
	}
	h.store = NewStore(roots, h.mirror, nil)
	h.store.Load(context.Background())
	h.sink = &recordingSink{}
	coord, err := NewCoordinator(schema.ServiceConfig{}, CoordinatorDeps{
		Store:     h.store,
		Mirror:    h.mirror,
		EventSink: h.sink,
	})
	require.NoError(h.t, err)
	h.coord = coord
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.t.Cleanup(cancel)
	h.ctx = ctx
	h.conn = NewConn("s1", h.sink)
	h.served = make(chan error, 1)
	go func() { h.served <- coord.Serve(ctx, h.conn) }()
}

func (h *harness) next() schema.ServerMessage {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 2*time.Second)
	defer cancel()
	msg, err := h.conn.Next(ctx)
	require.NoError(h.t, err)
	return msg
}

func (h *harness) deliver(msg schema.ClientMessage) {
	h.t.Helper()
	require.NoError(h.t, h.conn.Deliver(h.ctx, msg))
}

// barrier returns once every previously delivered message has been handled.
func (h *harness) barrier() {
	h.t.Helper()
	h.deliver(schema.ClientMessage{Type: "barrier"})
	h.deliver(schema.ClientMessage{Type: "barrier"})
}

func (h *harness) workspaceID(root string) schema.WorkspaceID {
	h.t.Helper()
	for _, ws := range h.store.List() {
		if ws.Path == root {
			return ws.ID
		}
	}
	h.t.Fatalf("no workspace for root %s", root)
	return ""
}

func (h *harness) disconnect() {
	h.t.Helper()
	h.conn.CloseInbound()
	select {
	case err := <-h.served:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatalf("serve did not return after disconnect")
	}
}

func TestServeSendsAllWorkspacesOnConnect(t *testing.T) {
	h := newHarness(t, "/ws/a", "/ws/b")
	h.mirror.seed("/ws/a", schema.Tab{Name: "home", URL: "http://home", IsOpen: true})
	h.connect()

	msg := h.next()
	require.Equal(t, schema.ServerAllWorkspaces, msg.Type)
	require.Len(t, msg.Workspaces, 2)
	h.disconnect()
}

func TestStartUnknownWorkspaceIsIgnored(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")

	h.deliver(schema.StartWorkspaceMessage("missing"))
	h.deliver(schema.StartWorkspaceMessage(id))

	msg := h.next()
	require.Equal(t, schema.ServerLoadWorkspace, msg.Type)
	require.Equal(t, id, msg.Workspace.ID)
	require.Equal(t, 1, h.coord.ActiveWatches())
	h.disconnect()
}

func TestLoadWorkspaceComesBeforeDetectedActions(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.seed("/ws/a", schema.Tab{Name: "news", URL: "http://news"})
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")

	h.deliver(schema.StartWorkspaceMessage(id))
	h.barrier()
	require.NoError(t, h.mirror.external("/ws/a", schema.OpenTab("news")))

	load := h.next()
	require.Equal(t, schema.ServerLoadWorkspace, load.Type)
	require.Equal(t, []schema.Tab{{Name: "news", URL: "http://news"}}, load.Workspace.Tabs)

	action := h.next()
	require.Equal(t, schema.ServerWorkspaceAction, action.Type)
	require.Equal(t, id, action.WorkspaceID)
	require.Equal(t, schema.OpenTab("news"), *action.Action)
	h.disconnect()
}

func TestClientActionEchoIsSuppressed(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")

	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()
	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("home")))
	h.barrier()
	require.NoError(t, h.mirror.external("/ws/a", schema.ChangeTabURL("home", "http://elsewhere")))

	msg := h.next()
	require.Equal(t, schema.ServerWorkspaceAction, msg.Type)
	require.Equal(t, schema.ChangeTabURL("home", "http://elsewhere"), *msg.Action)
	require.Equal(t, []schema.WorkspaceAction{schema.CreateTab("home")}, h.mirror.appliedActions())

	ws, err := h.store.Find(id)
	require.NoError(t, err)
	require.Equal(t, []schema.Tab{{Name: "home", URL: "http://elsewhere"}}, ws.Tabs)
	require.Contains(t, h.sink.eventTypes(), schema.WorkspaceEventSuppressed)
	h.disconnect()
}

func TestClientURLChangeForwardsOnlyUnrelatedChange(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.seed("/ws/a", schema.Tab{Name: "x"})
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.deliver(schema.ClientActionMessage(id, schema.ChangeTabURL("x", "http://a")))
	h.barrier()
	require.NoError(t, h.mirror.external("/ws/a", schema.CreateTab("blog")))

	msg := h.next()
	require.Equal(t, schema.CreateTab("blog"), *msg.Action)
	require.Equal(t, 0, h.conn.Pending())
	require.Equal(t, []schema.WorkspaceAction{schema.ChangeTabURL("x", "http://a")}, h.mirror.appliedActions())
	h.disconnect()
}

func TestNoOpClientActionDoesNotHideExternalChange(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.seed("/ws/a", schema.Tab{Name: "x", URL: "http://x", IsOpen: true})
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.deliver(schema.ClientActionMessage(id, schema.OpenTab("x")))
	h.barrier()
	require.NoError(t, h.mirror.external("/ws/a", schema.CloseTab("x")))
	require.NoError(t, h.mirror.external("/ws/a", schema.OpenTab("x")))
	require.NoError(t, h.mirror.external("/ws/a", schema.CreateTab("marker")))

	require.Equal(t, schema.CloseTab("x"), *h.next().Action)
	require.Equal(t, schema.OpenTab("x"), *h.next().Action)
	require.Equal(t, schema.CreateTab("marker"), *h.next().Action)
	require.NotContains(t, h.sink.eventTypes(), schema.WorkspaceEventSuppressed)
	h.disconnect()
}

func TestCoalescedURLChangesRetireEarlierEchoes(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.seed("/ws/a", schema.Tab{Name: "x", URL: "http://o"})
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.mirror.hold("/ws/a")
	h.deliver(schema.ClientActionMessage(id, schema.ChangeTabURL("x", "http://a")))
	h.deliver(schema.ClientActionMessage(id, schema.ChangeTabURL("x", "http://b")))
	h.barrier()
	h.mirror.release("/ws/a")
	require.NoError(t, h.mirror.external("/ws/a", schema.ChangeTabURL("x", "http://a")))

	msg := h.next()
	require.Equal(t, schema.ChangeTabURL("x", "http://a"), *msg.Action)
	require.Equal(t, 0, h.conn.Pending())
	require.Contains(t, h.sink.eventTypes(), schema.WorkspaceEventSuppressed)
	h.disconnect()
}

func TestCoalescedCreateAndRemoveLeaveNoEcho(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.mirror.hold("/ws/a")
	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("y")))
	h.deliver(schema.ClientActionMessage(id, schema.RemoveTab("y")))
	h.barrier()
	h.mirror.release("/ws/a")
	require.NoError(t, h.mirror.external("/ws/a", schema.CreateTab("y")))

	require.Equal(t, schema.CreateTab("y"), *h.next().Action)
	h.disconnect()
}

func TestActionForWorkspaceNotStartedIsIgnored(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")

	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("home")))
	h.deliver(schema.ClientActionMessage("missing", schema.CreateTab("home")))
	h.deliver(schema.ClientActionMessage(id, schema.WorkspaceAction{Type: "bogus", Name: "home"}))
	h.barrier()

	require.Empty(t, h.mirror.appliedActions())
	require.Equal(t, 0, h.conn.Pending())
	h.disconnect()
}

func TestInvalidActionIsIgnoredWhileStarted(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("../escape")))
	h.deliver(schema.ClientMessage{Type: schema.ClientWorkspaceAction, WorkspaceID: id})
	h.barrier()

	require.Empty(t, h.mirror.appliedActions())
	h.disconnect()
}

func TestApplyFailureKeepsSessionAlive(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.applyErr = errBoom
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("home")))
	h.barrier()
	require.Contains(t, h.sink.eventTypes(), schema.WorkspaceEventApplyFailed)

	require.NoError(t, h.mirror.external("/ws/a", schema.CreateTab("other")))
	msg := h.next()
	require.Equal(t, schema.CreateTab("other"), *msg.Action)

	require.NoError(t, h.mirror.external("/ws/a", schema.CreateTab("home")))
	require.Equal(t, schema.CreateTab("home"), *h.next().Action)
	h.disconnect()
}

func TestWatchFailureSendsWatchStopped(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()
	h.barrier()

	h.mirror.fail("/ws/a", errBoom)
	msg := h.next()
	require.Equal(t, schema.ServerWatchStopped, msg.Type)
	require.Equal(t, id, msg.WorkspaceID)
	require.Contains(t, msg.Error, "boom")
	require.Eventually(t, func() bool { return h.coord.ActiveWatches() == 0 }, 2*time.Second, 10*time.Millisecond)
	h.disconnect()
}

func TestWatchOpenFailureSendsWatchStopped(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.mirror.watchErr = errBoom
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))

	require.Equal(t, schema.ServerLoadWorkspace, h.next().Type)
	require.Equal(t, schema.ServerWatchStopped, h.next().Type)
	require.Equal(t, 0, h.coord.ActiveWatches())
	h.disconnect()
}

func TestStopWorkspaceJoinsForwardTask(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.next()

	h.deliver(schema.StopWorkspaceMessage(id))
	h.barrier()
	require.Equal(t, 0, h.coord.ActiveWatches())
	require.Eventually(t, func() bool { return h.mirror.watchers("/ws/a") == 0 }, 2*time.Second, 10*time.Millisecond)

	h.deliver(schema.ClientActionMessage(id, schema.CreateTab("home")))
	h.barrier()
	require.Empty(t, h.mirror.appliedActions())
	h.disconnect()
}

func TestRestartReplacesWatch(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	id := h.workspaceID("/ws/a")
	h.deliver(schema.StartWorkspaceMessage(id))
	h.deliver(schema.StartWorkspaceMessage(id))
	h.barrier()

	require.Equal(t, schema.ServerLoadWorkspace, h.next().Type)
	require.Equal(t, schema.ServerLoadWorkspace, h.next().Type)
	require.Equal(t, 1, h.coord.ActiveWatches())
	h.disconnect()
}

func TestDisconnectStopsEveryWatch(t *testing.T) {
	h := newHarness(t, "/ws/a", "/ws/b")
	h.connect()
	h.next()
	h.deliver(schema.StartWorkspaceMessage(h.workspaceID("/ws/a")))
	h.deliver(schema.StartWorkspaceMessage(h.workspaceID("/ws/b")))
	h.barrier()
	require.Equal(t, 2, h.coord.ActiveWatches())

	sessions := h.coord.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Active, 2)

	h.disconnect()
	require.Equal(t, 0, h.coord.ActiveWatches())
	require.Empty(t, h.coord.Sessions())
	select {
	case <-h.conn.Done():
	default:
		t.Fatalf("expected conn to be closed")
	}
}

func TestTrafficIsReportedToTap(t *testing.T) {
	h := newHarness(t, "/ws/a")
	h.connect()
	h.next()
	h.deliver(schema.StartWorkspaceMessage(h.workspaceID("/ws/a")))
	h.barrier()
	h.disconnect()

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	var in, out int
	for _, event := range h.sink.traffic {
		require.Equal(t, schema.SessionID("s1"), event.SessionID)
		switch event.Direction {
		case schema.DirectionInbound:
			in++
		case schema.DirectionOutbound:
			out++
		}
	}
	require.GreaterOrEqual(t, in, 1)
	require.Equal(t, 2, out)
}
