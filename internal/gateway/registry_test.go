package gateway

import "testing"

func testClient(userID string, privileged bool) *Client {
	return &Client{
		userID:     userID,
		connID:     userID + "-conn",
		privileged: privileged,
		send:       make(chan OutgoingMessage, 16),
		registered: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func TestRegistryFirstAndLastConnection(t *testing.T) {
	r := NewRegistry(0)

	a1 := testClient("alice", false)
	a2 := testClient("alice", false)

	accepted, first := r.Add(a1)
	if !accepted || !first {
		t.Fatalf("Add(a1) = (%v, %v), want (true, true)", accepted, first)
	}
	accepted, first = r.Add(a2)
	if !accepted || first {
		t.Fatalf("Add(a2) = (%v, %v), want (true, false)", accepted, first)
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should be online with two connections")
	}

	known, last := r.Remove(a1)
	if !known || last {
		t.Fatalf("Remove(a1) = (%v, %v), want (true, false)", known, last)
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should stay online while a2 is connected")
	}

	known, last = r.Remove(a2)
	if !known || !last {
		t.Fatalf("Remove(a2) = (%v, %v), want (true, true)", known, last)
	}
	if r.IsOnline("alice") {
		t.Fatal("alice should be offline after the last connection drops")
	}
}

func TestRegistryRemoveUnknownClient(t *testing.T) {
	r := NewRegistry(0)
	known, last := r.Remove(testClient("ghost", false))
	if known || last {
		t.Fatalf("Remove(unknown) = (%v, %v), want (false, false)", known, last)
	}
}

func TestRegistryConnectionLimit(t *testing.T) {
	r := NewRegistry(1)
	if accepted, _ := r.Add(testClient("a", false)); !accepted {
		t.Fatal("first connection should be accepted")
	}
	if accepted, _ := r.Add(testClient("b", false)); accepted {
		t.Fatal("connection above the limit should be rejected")
	}
}

func TestRegistryPrivilegedExcludedFromPresence(t *testing.T) {
	r := NewRegistry(0)
	relay := testClient("relay", true)

	accepted, first := r.Add(relay)
	if !accepted || first {
		t.Fatalf("Add(relay) = (%v, %v), want (true, false)", accepted, first)
	}
	if r.IsOnline("relay") {
		t.Fatal("privileged connection must not appear online")
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1 (privileged counts against the limit)", got)
	}
	if got := len(r.AllClients("")); got != 0 {
		t.Fatalf("AllClients() returned %d clients, want 0", got)
	}
}

func TestRegistryRoomMembership(t *testing.T) {
	r := NewRegistry(0)
	a := testClient("alice", false)
	b := testClient("bob", false)
	r.Add(a)
	r.Add(b)

	r.Join(a, "private:c1")
	r.Join(b, "private:c1")
	r.Join(b, "project:p1")

	if !r.InRoom(a, "private:c1") {
		t.Fatal("alice should be in private:c1")
	}
	if got := len(r.RoomClients("private:c1", "")); got != 2 {
		t.Fatalf("RoomClients = %d, want 2", got)
	}
	if got := len(r.RoomClients("private:c1", "alice")); got != 1 {
		t.Fatalf("RoomClients excluding alice = %d, want 1", got)
	}

	r.Leave(b, "private:c1")
	if r.InRoom(b, "private:c1") {
		t.Fatal("bob should have left private:c1")
	}

	// Removing a connection drops all of its room memberships.
	r.Remove(b)
	if got := len(r.RoomClients("project:p1", "")); got != 0 {
		t.Fatalf("project:p1 has %d members after Remove, want 0", got)
	}
}

func TestRegistryMultiConnRoomTargeting(t *testing.T) {
	r := NewRegistry(0)
	a1 := testClient("alice", false)
	a2 := testClient("alice", false)
	r.Add(a1)
	r.Add(a2)

	// Only the connection that joined receives room traffic.
	r.Join(a1, "private:c1")
	clients := r.RoomClients("private:c1", "")
	if len(clients) != 1 || clients[0] != a1 {
		t.Fatalf("room should contain exactly a1, got %d clients", len(clients))
	}
}

func TestRegistryJoinBeforeAddIgnored(t *testing.T) {
	r := NewRegistry(0)
	c := testClient("alice", false)
	r.Join(c, "private:c1")
	if got := len(r.RoomClients("private:c1", "")); got != 0 {
		t.Fatalf("unregistered client joined a room, got %d members", got)
	}
}

func TestRegistryOnlineUsersSorted(t *testing.T) {
	r := NewRegistry(0)
	for _, id := range []string{"charlie", "alice", "bob"} {
		r.Add(testClient(id, false))
	}
	users := r.OnlineUsers()
	want := []string{"alice", "bob", "charlie"}
	if len(users) != len(want) {
		t.Fatalf("OnlineUsers = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("OnlineUsers = %v, want %v", users, want)
		}
	}
}
