package tabsync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pkt.systems/tabsync/httpapi"
	"pkt.systems/tabsync/schema"
)

type countingSink struct {
	mu        sync.Mutex
	traffic   int
	workspace []schema.WorkspaceEventType
}

func (s *countingSink) OnTraffic(schema.TrafficEvent) {
	s.mu.Lock()
	s.traffic++
	s.mu.Unlock()
}

func (s *countingSink) OnWorkspaceEvent(event schema.WorkspaceEvent) {
	s.mu.Lock()
	s.workspace = append(s.workspace, event.Type)
	s.mu.Unlock()
}

func (s *countingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traffic, len(s.workspace)
}

func TestNewRequiresRoots(t *testing.T) {
	_, err := New(ServerConfig{}, ServerDeps{})
	require.Error(t, err)
}

func TestNewRejectsInvalidDurations(t *testing.T) {
	_, err := New(ServerConfig{Service: schema.ServiceConfig{
		Roots:         []string{t.TempDir()},
		WatchDebounce: time.Second,
		EchoWindow:    time.Millisecond,
	}}, ServerDeps{})
	require.Error(t, err)
}

func TestServerLifecycle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "home"), 0o755))
	sink := &countingSink{}
	srv, err := New(ServerConfig{
		Service: schema.ServiceConfig{Roots: []string{root}, WatchDebounce: 20 * time.Millisecond},
		HTTP:    httpapi.Config{Addr: "127.0.0.1:0"},
	}, ServerDeps{EventSink: sink})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	require.Error(t, srv.Start(ctx))

	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Wait() }()

	resp, err := http.Get("http://" + srv.Addr() + "/api/workspaces")
	require.NoError(t, err)
	var listed struct {
		Workspaces []schema.Workspace `json:"workspaces"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	_ = resp.Body.Close()
	require.Len(t, listed.Workspaces, 1)
	require.Equal(t, []schema.Tab{{Name: "home"}}, listed.Workspaces[0].Tabs)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var all schema.ServerMessage
	require.NoError(t, ws.ReadJSON(&all))
	require.Equal(t, schema.ServerAllWorkspaces, all.Type)

	require.NoError(t, ws.WriteJSON(schema.StartWorkspaceMessage(all.Workspaces[0].ID)))
	var load schema.ServerMessage
	require.NoError(t, ws.ReadJSON(&load))
	require.Equal(t, schema.ServerLoadWorkspace, load.Type)
	require.Eventually(t, func() bool {
		traffic, events := sink.counts()
		return traffic >= 3 && events >= 1
	}, 3*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, srv.Stop(stopCtx))
	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("wait did not return after stop")
	}
}

func TestComposeSinks(t *testing.T) {
	require.Nil(t, composeSinks(nil, nil))

	one := &countingSink{}
	require.Same(t, one, composeSinks(nil, one))

	two := &countingSink{}
	fan := composeSinks(one, nil, two)
	fan.OnTraffic(schema.TrafficEvent{})
	fan.OnWorkspaceEvent(schema.WorkspaceEvent{Type: schema.WorkspaceEventStarted})
	for _, sink := range []*countingSink{one, two} {
		traffic, events := sink.counts()
		require.Equal(t, 1, traffic)
		require.Equal(t, 1, events)
	}
}
