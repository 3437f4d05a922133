package chat

import (
	"PShop/logger"
	"PShop/service/chat/protocol"
)

type connSet map[*Conn]struct{}

// Rooms 频道成员表：channel -> conns，conn -> channels。只在事件循环里访问。
type Rooms struct {
	members map[string]connSet
	joined  map[*Conn]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]connSet),
		joined:  make(map[*Conn]map[string]struct{}),
	}
}

func (r *Rooms) Join(c *Conn, channel string) {
	set := r.members[channel]
	if set == nil {
		set = make(connSet)
		r.members[channel] = set
	}
	set[c] = struct{}{}
	chs := r.joined[c]
	if chs == nil {
		chs = make(map[string]struct{})
		r.joined[c] = chs
	}
	chs[channel] = struct{}{}
}

func (r *Rooms) Leave(c *Conn, channel string) {
	if set := r.members[channel]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, channel)
		}
	}
	if chs := r.joined[c]; chs != nil {
		delete(chs, channel)
		if len(chs) == 0 {
			delete(r.joined, c)
		}
	}
}

func (r *Rooms) LeaveAll(c *Conn) {
	for ch := range r.joined[c] {
		if set := r.members[ch]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(r.members, ch)
			}
		}
	}
	delete(r.joined, c)
}

func (r *Rooms) Members(channel string) []*Conn {
	set := r.members[channel]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) Channels(c *Conn) []string {
	out := make([]string, 0, len(r.joined[c]))
	for ch := range r.joined[c] {
		out = append(out, ch)
	}
	return out
}

func (r *Rooms) IsMember(c *Conn, channel string) bool {
	_, ok := r.members[channel][c]
	return ok
}

// emit encodes once and enqueues to every member except `except` (may be nil).
// Returns the number of connections that accepted the frame.
func (r *Rooms) emit(channel string, except *Conn, event string, payload any) int {
	set := r.members[channel]
	if len(set) == 0 {
		logger.Debugf("[Rooms] no subscriber channel=%s event=%s", channel, event)
		return 0
	}
	b, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Errorf("[Rooms] encode event=%s err=%v", event, err)
		return 0
	}
	n := 0
	for c := range set {
		if c == except {
			continue
		}
		if c.enqueue(b) {
			n++
		}
	}
	return n
}

func (r *Rooms) EmitToUser(userID, event string, payload any) int {
	return r.emit(protocol.PersonalChannel(userID), nil, event, payload)
}

func (r *Rooms) EmitToRole(role, event string, payload any) int {
	return r.emit(role, nil, event, payload)
}

func (r *Rooms) EmitToSession(sessionID, event string, payload any) int {
	return r.emit(sessionID, nil, event, payload)
}

// BroadcastToSession skips the sending connection.
func (r *Rooms) BroadcastToSession(sender *Conn, sessionID, event string, payload any) int {
	return r.emit(sessionID, sender, event, payload)
}

// EmitToChannels delivers once per connection across the union of channels.
func (r *Rooms) EmitToChannels(channels []string, event string, payload any) int {
	seen := make(connSet)
	for _, ch := range channels {
		for c := range r.members[ch] {
			seen[c] = struct{}{}
		}
	}
	if len(seen) == 0 {
		logger.Debugf("[Rooms] no subscriber channels=%v event=%s", channels, event)
		return 0
	}
	b, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Errorf("[Rooms] encode event=%s err=%v", event, err)
		return 0
	}
	n := 0
	for c := range seen {
		if c.enqueue(b) {
			n++
		}
	}
	return n
}
