package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/projecthub/internal/model"
)

type stubMessageStore struct {
	mu      sync.Mutex
	created []*model.Message
	reads   []string
	fail    bool
}

func (s *stubMessageStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("insert failed")
	}
	s.created = append(s.created, m)
	return nil
}

func (s *stubMessageStore) MarkRead(_ context.Context, messageID, _, userID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, messageID+"/"+userID)
	return nil
}

type stubDirectory struct{}

func (stubDirectory) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Email: id + "@example.com"}, nil
}

func newTestHub(access AccessChecker, store *stubMessageStore) *Hub {
	return NewHub(NewRegistry(0), NewRouter(access), store, stubDirectory{}, nil)
}

// drain collects everything currently buffered for the client.
func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func join(t *testing.T, h *Hub, c *Client, conversationID string, kind model.ConversationKind) {
	t.Helper()
	payload, _ := json.Marshal(JoinPayload{ConversationID: conversationID, Kind: kind})
	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventConversationJoin, Payload: payload})
	if msgs := drain(c); len(msgs) != 0 {
		t.Fatalf("join produced unexpected messages: %v", msgs)
	}
}

func TestHandleSendFanOut(t *testing.T) {
	store := &stubMessageStore{}
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, store)

	alice := testClient("alice", false)
	bob := testClient("bob", false)
	carol := testClient("carol", false)
	for _, c := range []*Client{alice, bob, carol} {
		h.registry.Add(c)
	}
	join(t, h, alice, "c1", model.KindPrivate)
	join(t, h, bob, "c1", model.KindPrivate)

	payload, _ := json.Marshal(SendPayload{ConversationID: "c1", Kind: model.KindPrivate, Content: "hi", MessageID: "m1"})
	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageSend, Payload: payload})

	if len(store.created) != 1 {
		t.Fatalf("created %d messages, want 1", len(store.created))
	}
	if store.created[0].ID != "m1" || store.created[0].SenderID != "alice" {
		t.Fatalf("persisted message = %+v", store.created[0])
	}

	// The recipient gets message:new exactly once.
	bobMsgs := drain(bob)
	if len(bobMsgs) != 1 || bobMsgs[0].Type != EventMessageNew {
		t.Fatalf("bob got %v, want one message:new", bobMsgs)
	}
	// The sender gets the ack, never an echo of its own message.
	aliceMsgs := drain(alice)
	if len(aliceMsgs) != 1 || aliceMsgs[0].Type != EventMessageSent {
		t.Fatalf("alice got %v, want one message:sent", aliceMsgs)
	}
	ack, ok := aliceMsgs[0].Payload.(MessageSentPayload)
	if !ok || ack.MessageID != "m1" || ack.Status != "delivered" {
		t.Fatalf("ack = %+v", aliceMsgs[0].Payload)
	}
	// A user outside the room gets nothing.
	if msgs := drain(carol); len(msgs) != 0 {
		t.Fatalf("carol got %v, want nothing", msgs)
	}
}

func TestHandleSendDeliversToEveryJoinedConnection(t *testing.T) {
	store := &stubMessageStore{}
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, store)

	alice := testClient("alice", false)
	bob1 := testClient("bob", false)
	bob2 := testClient("bob", false)
	for _, c := range []*Client{alice, bob1, bob2} {
		h.registry.Add(c)
	}
	join(t, h, alice, "c1", model.KindPrivate)
	join(t, h, bob1, "c1", model.KindPrivate)
	join(t, h, bob2, "c1", model.KindPrivate)

	payload, _ := json.Marshal(SendPayload{ConversationID: "c1", Kind: model.KindPrivate, Content: "hi"})
	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageSend, Payload: payload})

	// Both of bob's connections get the event, exactly once each.
	for _, c := range []*Client{bob1, bob2} {
		msgs := drain(c)
		if len(msgs) != 1 || msgs[0].Type != EventMessageNew {
			t.Fatalf("bob connection got %v, want one message:new", msgs)
		}
	}
}

type recordingPresence struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresence) MarkOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "online:"+userID)
	return nil
}

func (p *recordingPresence) MarkOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "offline:"+userID)
	return nil
}

func TestPresenceTransitions(t *testing.T) {
	presence := &recordingPresence{}
	h := NewHub(NewRegistry(0), NewRouter(&stubAccess{}), &stubMessageStore{}, stubDirectory{}, presence)

	alice := testClient("alice", false)
	bob1 := testClient("bob", false)
	bob2 := testClient("bob", false)
	h.addClient(alice)
	drain(alice)

	// First connection broadcasts online to everyone else and mirrors it.
	h.addClient(bob1)
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventUserStatus {
		t.Fatalf("alice got %v, want one user:status", msgs)
	}
	status := msgs[0].Payload.(UserStatusPayload)
	if status.UserID != "bob" || status.Status != "online" {
		t.Fatalf("status = %+v", status)
	}

	// A second connection of the same user is not a presence transition.
	h.addClient(bob2)
	if msgs := drain(alice); len(msgs) != 0 {
		t.Fatalf("alice got %v for bob's second connection, want nothing", msgs)
	}
	// Neither is dropping one of two connections.
	h.removeClient(bob1)
	if msgs := drain(alice); len(msgs) != 0 {
		t.Fatalf("alice got %v for bob's partial disconnect, want nothing", msgs)
	}

	// The last disconnect broadcasts offline.
	h.removeClient(bob2)
	msgs = drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventUserStatus {
		t.Fatalf("alice got %v, want one user:status", msgs)
	}
	status = msgs[0].Payload.(UserStatusPayload)
	if status.UserID != "bob" || status.Status != "offline" {
		t.Fatalf("status = %+v", status)
	}

	presence.mu.Lock()
	defer presence.mu.Unlock()
	want := []string{"online:alice", "online:bob", "offline:bob"}
	if len(presence.events) != len(want) {
		t.Fatalf("presence mirror = %v, want %v", presence.events, want)
	}
	for i := range want {
		if presence.events[i] != want[i] {
			t.Fatalf("presence mirror = %v, want %v", presence.events, want)
		}
	}
}

func TestHandleSendPersistFailure(t *testing.T) {
	store := &stubMessageStore{fail: true}
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, store)

	alice := testClient("alice", false)
	bob := testClient("bob", false)
	h.registry.Add(alice)
	h.registry.Add(bob)
	join(t, h, alice, "c1", model.KindPrivate)
	join(t, h, bob, "c1", model.KindPrivate)

	payload, _ := json.Marshal(SendPayload{ConversationID: "c1", Kind: model.KindPrivate, Content: "hi"})
	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventMessageSend, Payload: payload})

	// Nothing is broadcast when the write did not land.
	if msgs := drain(bob); len(msgs) != 0 {
		t.Fatalf("bob got %v after failed persist, want nothing", msgs)
	}
	aliceMsgs := drain(alice)
	if len(aliceMsgs) != 1 || aliceMsgs[0].Type != EventError {
		t.Fatalf("alice got %v, want one error event", aliceMsgs)
	}
}

func TestHandleJoinAccessDenied(t *testing.T) {
	store := &stubMessageStore{}
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, store)

	mallory := testClient("mallory", false)
	h.registry.Add(mallory)

	payload, _ := json.Marshal(JoinPayload{ConversationID: "c1", Kind: model.KindPrivate})
	h.HandleMessage(context.Background(), mallory, IncomingMessage{Type: EventConversationJoin, Payload: payload})

	msgs := drain(mallory)
	if len(msgs) != 1 || msgs[0].Type != EventError {
		t.Fatalf("mallory got %v, want one error event", msgs)
	}
	if h.registry.InRoom(mallory, "private:c1") {
		t.Fatal("denied join must not add room membership")
	}
	// The connection survives the refusal.
	select {
	case <-mallory.done:
		t.Fatal("denied join must not close the connection")
	default:
	}
}

func TestHandleReadBroadcast(t *testing.T) {
	store := &stubMessageStore{}
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, store)

	alice := testClient("alice", false)
	bob := testClient("bob", false)
	h.registry.Add(alice)
	h.registry.Add(bob)
	join(t, h, alice, "c1", model.KindPrivate)
	join(t, h, bob, "c1", model.KindPrivate)

	payload, _ := json.Marshal(ReadPayload{MessageID: "m1", ConversationID: "c1", Kind: model.KindPrivate})
	h.HandleMessage(context.Background(), bob, IncomingMessage{Type: EventMessageRead, Payload: payload})

	if len(store.reads) != 1 || store.reads[0] != "m1/bob" {
		t.Fatalf("reads = %v", store.reads)
	}
	aliceMsgs := drain(alice)
	if len(aliceMsgs) != 1 || aliceMsgs[0].Type != EventMessageRead {
		t.Fatalf("alice got %v, want one message:read", aliceMsgs)
	}
	// The reader is excluded from its own read broadcast.
	if msgs := drain(bob); len(msgs) != 0 {
		t.Fatalf("bob got %v, want nothing", msgs)
	}
}

func TestRelayEventsRequirePrivilege(t *testing.T) {
	h := newTestHub(&stubAccess{}, &stubMessageStore{})
	alice := testClient("alice", false)
	h.registry.Add(alice)

	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventRelayMessage, Payload: json.RawMessage(`{}`)})
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventError {
		t.Fatalf("ordinary client sending a relay event got %v, want error", msgs)
	}

	relay := testClient("relay", true)
	h.registry.Add(relay)
	payload, _ := json.Marshal(SendPayload{ConversationID: "c1", Kind: model.KindPrivate, Content: "hi"})
	h.HandleMessage(context.Background(), relay, IncomingMessage{Type: EventMessageSend, Payload: payload})
	msgs = drain(relay)
	if len(msgs) != 1 || msgs[0].Type != EventError {
		t.Fatalf("relay sending an ordinary event got %v, want error", msgs)
	}
}

func TestRelayNotificationTargeted(t *testing.T) {
	h := newTestHub(&stubAccess{}, &stubMessageStore{})
	alice := testClient("alice", false)
	bob := testClient("bob", false)
	relay := testClient("relay", true)
	for _, c := range []*Client{alice, bob, relay} {
		h.registry.Add(c)
	}

	payload, _ := json.Marshal(RelayNotificationPayload{
		ProjectID:    "p1",
		Notification: json.RawMessage(`{"title":"deploy"}`),
		// offline-user has no live connection and is silently skipped.
		TargetUsers: []string{"bob", "offline-user"},
	})
	h.HandleMessage(context.Background(), relay, IncomingMessage{Type: EventRelayNotification, Payload: payload})

	bobMsgs := drain(bob)
	if len(bobMsgs) != 1 || bobMsgs[0].Type != EventProjectNotification {
		t.Fatalf("bob got %v, want one project:notification", bobMsgs)
	}
	if msgs := drain(alice); len(msgs) != 0 {
		t.Fatalf("alice got %v, want nothing (not targeted)", msgs)
	}
	if msgs := drain(relay); len(msgs) != 0 {
		t.Fatalf("relay got %v, want nothing", msgs)
	}
}

func TestRelayMessageRoomBroadcast(t *testing.T) {
	h := newTestHub(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	}, &stubMessageStore{})
	alice := testClient("alice", false)
	bob := testClient("bob", false)
	relay := testClient("relay", true)
	for _, c := range []*Client{alice, bob, relay} {
		h.registry.Add(c)
	}
	join(t, h, alice, "c1", model.KindPrivate)
	join(t, h, bob, "c1", model.KindPrivate)

	payload, _ := json.Marshal(RelayMessagePayload{
		Room:          "private:c1",
		Event:         EventMessageNew,
		Data:          json.RawMessage(`{"id":"m9"}`),
		ExcludeUserID: "alice",
	})
	h.HandleMessage(context.Background(), relay, IncomingMessage{Type: EventRelayMessage, Payload: payload})

	bobMsgs := drain(bob)
	if len(bobMsgs) != 1 || bobMsgs[0].Type != EventMessageNew {
		t.Fatalf("bob got %v, want one message:new", bobMsgs)
	}
	// The REST sender is excluded the same way a WS sender would be.
	if msgs := drain(alice); len(msgs) != 0 {
		t.Fatalf("alice got %v, want nothing", msgs)
	}
}

func TestPingPong(t *testing.T) {
	h := newTestHub(&stubAccess{}, &stubMessageStore{})
	alice := testClient("alice", false)
	h.registry.Add(alice)

	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: EventPing})
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventPong {
		t.Fatalf("got %v, want one pong", msgs)
	}
}

func TestUnknownEventType(t *testing.T) {
	h := newTestHub(&stubAccess{}, &stubMessageStore{})
	alice := testClient("alice", false)
	h.registry.Add(alice)

	h.HandleMessage(context.Background(), alice, IncomingMessage{Type: "message:edit"})
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventError {
		t.Fatalf("got %v, want one error event", msgs)
	}
}

func TestMalformedPayload(t *testing.T) {
	h := newTestHub(&stubAccess{}, &stubMessageStore{})
	alice := testClient("alice", false)
	h.registry.Add(alice)

	h.HandleMessage(context.Background(), alice, IncomingMessage{
		Type:    EventConversationJoin,
		Payload: json.RawMessage(`"not an object"`),
	})
	msgs := drain(alice)
	if len(msgs) != 1 || msgs[0].Type != EventError {
		t.Fatalf("got %v, want one error event", msgs)
	}
	// Connection stays open after a malformed event.
	select {
	case <-alice.done:
		t.Fatal("malformed payload must not close the connection")
	default:
	}
}
