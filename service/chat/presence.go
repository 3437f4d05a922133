package chat

import (
	"sort"

	"PShop/service/chat/protocol"
)

// Entry 在线用户（每个 userID 最多一条）
type Entry struct {
	UserID string
	ConnID string
	Role   string
	Name   string
	Online bool
}

// Presence is owned by the event loop; it is not safe for concurrent use.
type Presence struct {
	byUser map[string]*Entry
	byConn map[string]string // connID -> userID
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[string]*Entry),
		byConn: make(map[string]string),
	}
}

// RecordJoin upserts the entry for userID, last join wins. When the user was
// bound to another connection, that previous entry is returned.
func (p *Presence) RecordJoin(userID, role, name, connID string) (previous *Entry) {
	if old, ok := p.byUser[userID]; ok {
		if old.ConnID != connID {
			cp := *old
			previous = &cp
			delete(p.byConn, old.ConnID)
		}
	}
	// a connection re-joining as another user drops its old identity
	if other, ok := p.byConn[connID]; ok && other != userID {
		delete(p.byUser, other)
	}
	p.byUser[userID] = &Entry{UserID: userID, ConnID: connID, Role: role, Name: name, Online: true}
	p.byConn[connID] = userID
	return previous
}

// RecordLeave removes the entry owned by connID. ok is false when the
// connection never joined or was superseded.
func (p *Presence) RecordLeave(connID string) (Entry, bool) {
	userID, ok := p.byConn[connID]
	if !ok {
		return Entry{}, false
	}
	delete(p.byConn, connID)
	e, ok := p.byUser[userID]
	if !ok || e.ConnID != connID {
		return Entry{}, false
	}
	delete(p.byUser, userID)
	return *e, true
}

func (p *Presence) Get(userID string) (Entry, bool) {
	e, ok := p.byUser[userID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ListOnline snapshot, sorted by user id.
func (p *Presence) ListOnline() []protocol.OnlineUser {
	out := make([]protocol.OnlineUser, 0, len(p.byUser))
	for _, e := range p.byUser {
		out = append(out, protocol.OnlineUser{ID: e.UserID, Name: e.Name, Role: e.Role, Online: e.Online})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Presence) Len() int { return len(p.byUser) }
