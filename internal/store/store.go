// ABOUTME: Store interface and data types for scribe persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConstraintViolation is returned when a write references an entity
// that does not exist (e.g. a message whose conversation is gone)
var ErrConstraintViolation = errors.New("constraint violation")

// ErrUnavailable is returned when the backing store cannot be reached
// or rejects the call at the transport level
var ErrUnavailable = errors.New("store unavailable")

// ConversationStatus constants for conversation lifecycle states
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Role constants for message authorship
const (
	RoleRequester  = "requester"
	RoleResponder  = "responder"
	RoleSystemNote = "system-note"
)

// Conversation groups messages among a set of participants.
// CorrelationKey is caller-supplied and not unique: multiple conversations
// may share it over time.
type Conversation struct {
	ID             string
	CorrelationKey string
	Initiator      string
	Participants   []string
	Title          string
	Status         string // "active", "completed", "archived"
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// MessageCount is populated by listing queries only; it is not a
	// stored column.
	MessageCount int
}

// HasParticipant reports whether p is the initiator or a member of the
// participant set.
func (c *Conversation) HasParticipant(p string) bool {
	if c.Initiator == p {
		return true
	}
	for _, m := range c.Participants {
		if m == p {
			return true
		}
	}
	return false
}

// Message is one immutable authored unit of content within a conversation.
// Messages are never updated after creation; they are deleted only via
// cascade when their conversation is deleted.
type Message struct {
	ID             string
	ConversationID string
	Participant    string
	Role           string // "requester", "responder", "system-note"
	Content        string
	InputTokens    int
	OutputTokens   int
	Model          string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// TotalTokens is always derived from the stored counts, never stored
// independently, so it cannot drift.
func (m *Message) TotalTokens() int {
	return m.InputTokens + m.OutputTokens
}

// ParticipantStats is a per-participant tally over all messages.
type ParticipantStats struct {
	Participant  string
	Messages     int
	InputTokens  int
	OutputTokens int
}

// DailyStat is one row of the reserved daily aggregate table. The core
// never writes this table; it exists for a future incremental job.
type DailyStat struct {
	Date         string // YYYY-MM-DD
	Participant  string
	Messages     int
	InputTokens  int
	OutputTokens int
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	ListConversationsByParticipant(ctx context.Context, participant string, limit int) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Bulk purge; deletes conversations created within [from, to]
	// inclusive and cascades to their messages. Returns the number of
	// conversations removed.
	DeleteConversationsInRange(ctx context.Context, from, to time.Time) (int, error)

	// Aggregates
	AggregateParticipantStats(ctx context.Context) ([]*ParticipantStats, error)
	DailyStats(ctx context.Context, participant string) ([]*DailyStat, error)

	// InsertFeed returns the store's message-insertion change feed.
	// There is exactly one feed per store; see Feed for semantics.
	InsertFeed() *Feed

	// Close releases any resources held by the store
	Close() error
}
