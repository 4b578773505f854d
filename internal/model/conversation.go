package model

// ConversationKind distinguishes the two independent conversation domains.
type ConversationKind string

const (
	// KindProject is a project group chat; its participant set is implicitly
	// the current project membership, checked at join time and never cached.
	KindProject ConversationKind = "project"
	// KindPrivate is a 1:1 chat with exactly two persisted participants.
	KindPrivate ConversationKind = "private"
)

// Valid reports whether k is one of the known kinds.
func (k ConversationKind) Valid() bool {
	return k == KindProject || k == KindPrivate
}
