package core

import "pkt.systems/tabsync/schema"

// TrafficTap observes every message crossing a session channel.
type TrafficTap interface {
	OnTraffic(event schema.TrafficEvent)
}

// EventSink receives traffic and workspace events from the coordinator.
type EventSink interface {
	TrafficTap
	OnWorkspaceEvent(event schema.WorkspaceEvent)
}
