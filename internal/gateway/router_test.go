package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/projecthub/internal/model"
)

type stubAccess struct {
	conversations map[string][]string // conversationID -> allowed users
	members       map[string][]string // projectID -> members
	err           error
}

func (s *stubAccess) CanAccessConversation(_ context.Context, _ model.ConversationKind, conversationID, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, u := range s.conversations[conversationID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubAccess) IsProjectMember(_ context.Context, projectID, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, u := range s.members[projectID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func TestResolveRoom(t *testing.T) {
	rt := NewRouter(&stubAccess{
		conversations: map[string][]string{"c1": {"alice", "bob"}},
	})
	ctx := context.Background()

	room, err := rt.ResolveRoom(ctx, model.KindPrivate, "c1", "alice")
	if err != nil {
		t.Fatalf("ResolveRoom: %v", err)
	}
	if room != "private:c1" {
		t.Fatalf("room = %q, want %q", room, "private:c1")
	}

	if _, err := rt.ResolveRoom(ctx, model.KindPrivate, "c1", "mallory"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("non-participant: err = %v, want ErrAccessDenied", err)
	}
	if _, err := rt.ResolveRoom(ctx, "group", "c1", "alice"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("bad kind: err = %v, want ErrUnknownKind", err)
	}
	if _, err := rt.ResolveRoom(ctx, model.KindPrivate, "", "alice"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("empty id: err = %v, want ErrUnknownKind", err)
	}
}

func TestResolveRoomCheckerFailure(t *testing.T) {
	boom := errors.New("db down")
	rt := NewRouter(&stubAccess{err: boom})

	_, err := rt.ResolveRoom(context.Background(), model.KindProject, "c1", "alice")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped db error", err)
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Fatal("infrastructure failure must not read as access denied")
	}
}

func TestResolveProjectRoom(t *testing.T) {
	rt := NewRouter(&stubAccess{
		members: map[string][]string{"p1": {"alice"}},
	})
	ctx := context.Background()

	room, err := rt.ResolveProjectRoom(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("ResolveProjectRoom: %v", err)
	}
	if room != "project:p1" {
		t.Fatalf("room = %q, want %q", room, "project:p1")
	}
	if _, err := rt.ResolveProjectRoom(ctx, "p1", "bob"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("non-member: err = %v, want ErrAccessDenied", err)
	}
}

func TestRoomNames(t *testing.T) {
	if got := RoomName(model.KindProject, "42"); got != "project:42" {
		t.Fatalf("RoomName = %q", got)
	}
	if got := RoomName(model.KindPrivate, "42"); got != "private:42" {
		t.Fatalf("RoomName = %q", got)
	}
	// A project chat room and the project notice room for the same id must
	// coincide only when the conversation id equals the project id.
	if ProjectRoom("42") != RoomName(model.KindProject, "42") {
		t.Fatal("project notice room should share the project chat namespace")
	}
}
