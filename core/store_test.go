package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"pkt.systems/tabsync/schema"
)

func TestStoreLoadSkipsFailingRoots(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a", schema.Tab{Name: "home"})
	store := NewStore([]string{"/ws/a", "/ws/missing"}, mirror, nil)

	require.Equal(t, 1, store.Load(context.Background()))
	list := store.List()
	require.Len(t, list, 1)
	require.Equal(t, "/ws/a", list[0].Path)
	require.NotEmpty(t, list[0].ID)
}

func TestStoreReloadKeepsIDs(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a")
	store := NewStore([]string{"/ws/a"}, mirror, nil)
	store.Load(context.Background())
	before := store.List()[0].ID

	mirror.seed("/ws/a", schema.Tab{Name: "new"})
	store.Load(context.Background())
	after := store.List()[0]
	require.Equal(t, before, after.ID)
	require.Equal(t, []schema.Tab{{Name: "new"}}, after.Tabs)
}

func TestStoreFind(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a", schema.Tab{Name: "home"})
	store := NewStore([]string{"/ws/a"}, mirror, nil)
	store.Load(context.Background())
	id := store.List()[0].ID

	ws, err := store.Find(id)
	require.NoError(t, err)
	require.Equal(t, "/ws/a", ws.Path)

	_, err = store.Find("missing")
	require.True(t, errors.Is(err, schema.ErrWorkspaceNotFound))
}

func TestStoreListReturnsCopies(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a", schema.Tab{Name: "home"})
	store := NewStore([]string{"/ws/a"}, mirror, nil)
	store.Load(context.Background())

	list := store.List()
	list[0].Tabs[0].URL = "mutated"
	again, err := store.Find(list[0].ID)
	require.NoError(t, err)
	require.Empty(t, again.Tabs[0].URL)
}

func TestStoreAddAndRemove(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a")
	mirror.seed("/ws/b", schema.Tab{Name: "x"})
	store := NewStore([]string{"/ws/a"}, mirror, nil)
	store.Load(context.Background())

	added, err := store.Add(context.Background(), "/ws/b/")
	require.NoError(t, err)
	require.Equal(t, "/ws/b", added.Path)
	require.Len(t, store.List(), 2)
	require.Equal(t, []string{"/ws/a", "/ws/b"}, store.Roots())

	again, err := store.Add(context.Background(), "/ws/b")
	require.NoError(t, err)
	require.Equal(t, added.ID, again.ID)
	require.Len(t, store.List(), 2)

	require.NoError(t, store.Remove(added.ID))
	require.Equal(t, []string{"/ws/a"}, store.Roots())
	require.True(t, errors.Is(store.Remove(added.ID), schema.ErrWorkspaceNotFound))

	_, err = store.Add(context.Background(), "/ws/missing")
	require.Error(t, err)
}

func TestStoreApply(t *testing.T) {
	mirror := newFakeMirror()
	mirror.seed("/ws/a")
	store := NewStore([]string{"/ws/a"}, mirror, nil)
	store.Load(context.Background())
	id := store.List()[0].ID

	require.NoError(t, store.Apply(id, schema.CreateTab("home")))
	require.True(t, errors.Is(store.Apply(id, schema.CreateTab("home")), schema.ErrTabExists))
	require.True(t, errors.Is(store.Apply("missing", schema.OpenTab("home")), schema.ErrWorkspaceNotFound))

	ws, err := store.Find(id)
	require.NoError(t, err)
	require.Equal(t, []schema.Tab{{Name: "home"}}, ws.Tabs)
}
