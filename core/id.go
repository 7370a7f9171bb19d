package core

import (
	"github.com/google/uuid"

	"pkt.systems/tabsync/schema"
)

func newWorkspaceID() schema.WorkspaceID {
	return schema.WorkspaceID(uuid.NewString())
}
