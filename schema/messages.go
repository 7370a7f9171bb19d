package schema

// ClientMessageType identifies messages sent by a client.
type ClientMessageType string

const (
	// ClientStartWorkspace asks to load and watch a workspace.
	ClientStartWorkspace ClientMessageType = "start_workspace"
	// ClientStopWorkspace asks to stop watching a workspace.
	ClientStopWorkspace ClientMessageType = "stop_workspace"
	// ClientWorkspaceAction carries a client-originated action.
	ClientWorkspaceAction ClientMessageType = "workspace_action"
)

// ClientMessage is an inbound message from a connected client.
type ClientMessage struct {
	Type        ClientMessageType `json:"type"`
	WorkspaceID WorkspaceID       `json:"workspace_id,omitempty"`
	Action      *WorkspaceAction  `json:"action,omitempty"`
}

// StartWorkspaceMessage builds a start_workspace message.
func StartWorkspaceMessage(id WorkspaceID) ClientMessage {
	return ClientMessage{Type: ClientStartWorkspace, WorkspaceID: id}
}

// StopWorkspaceMessage builds a stop_workspace message.
func StopWorkspaceMessage(id WorkspaceID) ClientMessage {
	return ClientMessage{Type: ClientStopWorkspace, WorkspaceID: id}
}

// ClientActionMessage builds an inbound workspace_action message.
func ClientActionMessage(id WorkspaceID, action WorkspaceAction) ClientMessage {
	return ClientMessage{Type: ClientWorkspaceAction, WorkspaceID: id, Action: &action}
}

// ServerMessageType identifies messages sent to a client.
type ServerMessageType string

const (
	// ServerAllWorkspaces announces every known workspace on connect.
	ServerAllWorkspaces ServerMessageType = "all_workspaces"
	// ServerLoadWorkspace carries the full state of a started workspace.
	ServerLoadWorkspace ServerMessageType = "load_workspace"
	// ServerWorkspaceAction forwards a change detected on disk.
	ServerWorkspaceAction ServerMessageType = "workspace_action"
	// ServerWatchStopped reports that live updates for a workspace ended.
	ServerWatchStopped ServerMessageType = "watch_stopped"
)

// ServerMessage is an outbound message to a connected client.
type ServerMessage struct {
	Type        ServerMessageType `json:"type"`
	Workspaces  []Workspace       `json:"workspaces,omitempty"`
	Workspace   *ClientWorkspace  `json:"workspace,omitempty"`
	WorkspaceID WorkspaceID       `json:"workspace_id,omitempty"`
	Action      *WorkspaceAction  `json:"action,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// AllWorkspacesMessage builds an all_workspaces message.
func AllWorkspacesMessage(workspaces []Workspace) ServerMessage {
	out := make([]Workspace, 0, len(workspaces))
	for _, ws := range workspaces {
		out = append(out, ws.Clone())
	}
	return ServerMessage{Type: ServerAllWorkspaces, Workspaces: out}
}

// LoadWorkspaceMessage builds a load_workspace message without the local path.
func LoadWorkspaceMessage(ws Workspace) ServerMessage {
	view := ws.ClientView()
	return ServerMessage{Type: ServerLoadWorkspace, Workspace: &view, WorkspaceID: ws.ID}
}

// ServerActionMessage builds an outbound workspace_action message.
func ServerActionMessage(id WorkspaceID, action WorkspaceAction) ServerMessage {
	return ServerMessage{Type: ServerWorkspaceAction, WorkspaceID: id, Action: &action}
}

// WatchStoppedMessage builds a watch_stopped message.
func WatchStoppedMessage(id WorkspaceID, err error) ServerMessage {
	msg := ServerMessage{Type: ServerWatchStopped, WorkspaceID: id}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}
