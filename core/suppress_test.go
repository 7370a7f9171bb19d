package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pkt.systems/tabsync/schema"
)

func newTestSuppressor(window time.Duration) (*EchoSuppressor, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewEchoSuppressor(window)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSuppressorConsumesMatchingEchoOnce(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	s.Expect(nil, schema.CreateTab("home"))

	require.True(t, s.Consume(schema.CreateTab("home")))
	require.False(t, s.Consume(schema.CreateTab("home")))
}

var home = []schema.Tab{{Name: "home", URL: "http://start"}}

func TestSuppressorForwardsUnrelatedActions(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	s.Expect(home, schema.ChangeTabURL("home", "http://a"))

	require.False(t, s.Consume(schema.ChangeTabURL("home", "http://b")))
	require.False(t, s.Consume(schema.OpenTab("home")))
	require.Equal(t, 1, s.Pending())
	require.True(t, s.Consume(schema.ChangeTabURL("home", "http://a")))
}

func TestSuppressorForgetsExpiredEchoes(t *testing.T) {
	s, now := newTestSuppressor(time.Second)
	s.Expect(nil, schema.CreateTab("home"))
	*now = now.Add(2 * time.Second)

	require.Equal(t, 0, s.Pending())
	require.False(t, s.Consume(schema.CreateTab("home")))
}

func TestSuppressorCountsDuplicateExpectations(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	require.True(t, s.Expect(home, schema.OpenTab("home")))
	require.True(t, s.Expect(home, schema.OpenTab("home")))

	require.True(t, s.Consume(schema.OpenTab("home")))
	require.True(t, s.Consume(schema.OpenTab("home")))
	require.False(t, s.Consume(schema.OpenTab("home")))
}

func TestSuppressorSkipsWritesThatChangeNothing(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	tabs := []schema.Tab{{Name: "home", URL: "http://a", IsOpen: true}}

	require.False(t, s.Expect(tabs, schema.OpenTab("home")))
	require.False(t, s.Expect(tabs, schema.ChangeTabURL("home", "http://a")))
	require.Equal(t, 0, s.Pending())
	require.False(t, s.Consume(schema.OpenTab("home")))
}

func TestSuppressorRetiresSupersededWrites(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	require.True(t, s.Expect(home, schema.ChangeTabURL("home", "http://a")))
	require.True(t, s.Expect([]schema.Tab{{Name: "home", URL: "http://a"}}, schema.ChangeTabURL("home", "http://b")))
	require.True(t, s.Expect(home, schema.OpenTab("home")))

	require.True(t, s.Consume(schema.ChangeTabURL("home", "http://b")))
	require.Equal(t, 1, s.Pending())
	require.False(t, s.Consume(schema.ChangeTabURL("home", "http://a")))
	require.True(t, s.Consume(schema.OpenTab("home")))
}

func TestSuppressorDropsChainsThatUndoThemselves(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	require.True(t, s.Expect(nil, schema.CreateTab("blog")))
	created := []schema.Tab{{Name: "blog"}}
	require.True(t, s.Expect(created, schema.ChangeTabURL("blog", "http://blog")))
	require.False(t, s.Expect([]schema.Tab{{Name: "blog", URL: "http://blog"}}, schema.RemoveTab("blog")))
	require.Equal(t, 0, s.Pending())

	open := []schema.Tab{{Name: "home", URL: "http://start", IsOpen: true}}
	require.True(t, s.Expect(open, schema.CloseTab("home")))
	require.True(t, s.Expect(home, schema.ChangeTabURL("home", "http://a")))
	closed := []schema.Tab{{Name: "home", URL: "http://a"}}
	require.False(t, s.Expect(closed, schema.OpenTab("home")))
	require.Equal(t, 1, s.Pending())
	require.True(t, s.Consume(schema.ChangeTabURL("home", "http://a")))
}

func TestSuppressorCancelForgetsFailedWrite(t *testing.T) {
	s, _ := newTestSuppressor(time.Second)
	require.True(t, s.Expect(nil, schema.CreateTab("home")))
	s.Cancel(schema.CreateTab("home"))

	require.Equal(t, 0, s.Pending())
	require.False(t, s.Consume(schema.CreateTab("home")))
}
