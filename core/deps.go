package core

import "pkt.systems/pslog"

// CoordinatorDeps captures dependencies for the sync coordinator.
type CoordinatorDeps struct {
	Store     *Store
	Mirror    Mirror
	EventSink EventSink
	Logger    pslog.Logger
}
