package gateway

import (
	"sort"
	"sync"
)

// Registry is the authoritative in-memory map from user identity to live
// connections and room memberships. It is the only mutable shared resource
// of the gateway; all mutation goes through its synchronized methods and the
// map is never handed out.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]map[*Client]struct{} // non-privileged connections per user
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{} // rooms joined per connection
	total    int
	maxConns int
}

func NewRegistry(maxConns int) *Registry {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Registry{
		users:    make(map[string]map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
		maxConns: maxConns,
	}
}

// Add registers a connection. It reports whether the connection was accepted
// and, for ordinary users, whether it is the user's first live connection.
// Privileged relay connections count against the limit but are excluded from
// presence bookkeeping.
func (r *Registry) Add(c *Client) (accepted, firstConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total >= r.maxConns {
		return false, false
	}
	r.total++
	r.byClient[c] = make(map[string]struct{})
	if c.privileged {
		return true, false
	}
	conns, ok := r.users[c.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		r.users[c.userID] = conns
	}
	conns[c] = struct{}{}
	return true, len(conns) == 1
}

// Remove drops a connection and all its room memberships. It reports whether
// the connection was known and whether it was the user's last one.
func (r *Registry) Remove(c *Client) (known, lastConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.byClient[c]
	if !ok {
		return false, false
	}
	delete(r.byClient, c)
	for room := range rooms {
		if members, ok := r.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	r.total--
	if c.privileged {
		return true, false
	}
	conns, ok := r.users[c.userID]
	if !ok {
		return true, false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.users, c.userID)
		return true, true
	}
	return true, false
}

// Join adds the connection to a room. Access control happens before this
// call; the registry only tracks membership.
func (r *Registry) Join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms, ok := r.byClient[c]
	if !ok {
		return
	}
	rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
}

// Leave removes the connection from a room.
func (r *Registry) Leave(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rooms, ok := r.byClient[c]; ok {
		delete(rooms, room)
	}
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// InRoom reports whether the connection has joined the room.
func (r *Registry) InRoom(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms, ok := r.byClient[c]
	if !ok {
		return false
	}
	_, in := rooms[room]
	return in
}

// RoomClients snapshots the room's connections, optionally excluding every
// connection owned by excludeUserID.
func (r *Registry) RoomClients(room, excludeUserID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// UserClients snapshots a user's live connections.
func (r *Registry) UserClients(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[userID]
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// AllClients snapshots every ordinary (non-privileged) connection, optionally
// excluding one user's connections.
func (r *Registry) AllClients(excludeUserID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, r.total)
	for uid, conns := range r.users {
		if excludeUserID != "" && uid == excludeUserID {
			continue
		}
		for c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns the sorted ids of users with live connections.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live connections, privileged included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
