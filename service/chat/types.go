package chat

import (
	"context"

	chatmodel "PShop/module/chat/model"
	usermodel "PShop/module/user/model"
)

// State 连接状态机：Anonymous -> Identified -> Disconnected
type State int32

const (
	StateAnonymous State = iota
	StateIdentified
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// MessageSink receives every routed chat message. Publish must not block.
type MessageSink interface {
	Publish(msg *chatmodel.Message)
}

// PresenceMirror copies presence changes to a shared store for other processes.
// Calls happen off the event loop and failures are only logged.
type PresenceMirror interface {
	Online(ctx context.Context, userID, role, name, connID string) error
	Offline(ctx context.Context, userID string) error
}

// Directory resolves a user id to its profile. Used to fill in a missing
// name or role on join-user.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*usermodel.User, error)
}
