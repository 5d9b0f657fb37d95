// ABOUTME: Ingestion service for conversation and message writes
// ABOUTME: All logged exchanges flow through here - validate first, then write through the store

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/scribe/internal/store"
)

// ValidationError reports a request rejected before any store call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// invalid builds a *ValidationError for the given field.
func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Service is the stateless ingestion layer. It validates inbound calls,
// translates them into store operations, and maintains the derived
// conversation metadata (the last-updated timestamp).
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a new ingestion service. Pass nil logger for default.
func New(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "ingest"),
	}
}

// OpenRequest contains everything needed to open a conversation.
type OpenRequest struct {
	Initiator      string
	Participants   []string
	CorrelationKey string
	Title          string
	Status         string // optional, defaults to "active"
	Metadata       map[string]any
}

// OpenConversation creates a new conversation row with the initiator
// folded into the participant set. Every call creates a new row: the
// server performs no deduplication, idempotency belongs to callers who
// hold session continuity the server doesn't have (see client package).
func (s *Service) OpenConversation(ctx context.Context, req *OpenRequest) (*store.Conversation, error) {
	if req.Initiator == "" {
		return nil, invalid("initiator", "must not be empty")
	}
	if req.CorrelationKey == "" {
		return nil, invalid("correlationKey", "must not be empty")
	}
	status := req.Status
	if status == "" {
		status = store.StatusActive
	}
	if status != store.StatusActive && status != store.StatusCompleted && status != store.StatusArchived {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:             uuid.New().String(),
		CorrelationKey: req.CorrelationKey,
		Initiator:      req.Initiator,
		Participants:   foldParticipants(req.Initiator, req.Participants),
		Title:          req.Title,
		Status:         status,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation opened",
		"id", conv.ID,
		"initiator", conv.Initiator,
		"correlation_key", conv.CorrelationKey)
	return conv, nil
}

// foldParticipants unions the initiator into the participant set,
// collapsing duplicates while keeping first-seen order.
func foldParticipants(initiator string, participants []string) []string {
	seen := map[string]bool{initiator: true}
	out := []string{initiator}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// AppendRequest contains everything needed to log a message.
type AppendRequest struct {
	ConversationID string
	Participant    string
	Role           string
	Content        string
	InputTokens    int
	OutputTokens   int
	Model          string
	Metadata       map[string]any
}

// AppendMessage validates the conversation exists, inserts the message,
// then bumps the conversation's last-modified timestamp. The touch is
// best-effort: message durability takes priority over metadata
// freshness, so a failed touch is counted and logged but never fails
// the append.
func (s *Service) AppendMessage(ctx context.Context, req *AppendRequest) (*store.Message, error) {
	if req.ConversationID == "" {
		return nil, invalid("conversationId", "must not be empty")
	}
	if req.Participant == "" {
		return nil, invalid("author", "must not be empty")
	}
	switch req.Role {
	case store.RoleRequester, store.RoleResponder, store.RoleSystemNote:
	default:
		return nil, invalid("role", fmt.Sprintf("unknown role %q", req.Role))
	}
	if req.Content == "" {
		return nil, invalid("content", "must not be empty")
	}
	if req.InputTokens < 0 {
		return nil, invalid("inputTokens", "must not be negative")
	}
	if req.OutputTokens < 0 {
		return nil, invalid("outputTokens", "must not be negative")
	}

	if _, err := s.store.GetConversation(ctx, req.ConversationID); err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	now := time.Now()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		Participant:    req.Participant,
		Role:           req.Role,
		Content:        req.Content,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		Model:          req.Model,
		Metadata:       req.Metadata,
		CreatedAt:      now,
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		// The conversation can vanish between the existence check and
		// the insert (a concurrent range purge); the foreign key
		// failure is surfaced as not-found.
		if errors.Is(err, store.ErrConstraintViolation) {
			return nil, fmt.Errorf("conversation deleted during append: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("saving message: %w", err)
	}
	messagesAppended.Inc()

	s.touch(req.ConversationID, now)
	return msg, nil
}

// touch bumps the conversation timestamp with a separate timeout context
// so the bump survives request cancellation. Failures are observable via
// the touch-failure counter but are never surfaced to the caller.
func (s *Service) touch(conversationID string, at time.Time) {
	touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.store.TouchConversation(touchCtx, conversationID, at); err != nil {
		touchFailures.Inc()
		s.logger.Error("failed to touch conversation",
			"error", err,
			"conversation_id", conversationID)
	}
}

// ListConversations returns conversations newest-activity first, with
// message counts.
func (s *Service) ListConversations(ctx context.Context, limit int) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, limit)
}

// GetConversationWithMessages returns a conversation and its messages in
// creation order.
func (s *Service) GetConversationWithMessages(ctx context.Context, id string) (*store.Conversation, []*store.Message, error) {
	if id == "" {
		return nil, nil, invalid("conversationId", "must not be empty")
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// ListConversationsByParticipant matches conversations where the
// participant is either the initiator or a member of the participant set.
func (s *Service) ListConversationsByParticipant(ctx context.Context, participant string, limit int) ([]*store.Conversation, error) {
	if participant == "" {
		return nil, invalid("agentId", "must not be empty")
	}
	return s.store.ListConversationsByParticipant(ctx, participant, limit)
}

// AggregateStatsByParticipant folds all messages into per-participant
// tallies of message count and token totals.
func (s *Service) AggregateStatsByParticipant(ctx context.Context) ([]*store.ParticipantStats, error) {
	return s.store.AggregateParticipantStats(ctx)
}

// PurgeRange deletes all conversations created within [from, to]
// inclusive, cascading to their messages. Both bounds are mandatory; a
// missing bound is a validation error, never a default to unbounded.
func (s *Service) PurgeRange(ctx context.Context, from, to time.Time) (int, error) {
	if from.IsZero() {
		return 0, invalid("from", "must be provided")
	}
	if to.IsZero() {
		return 0, invalid("to", "must be provided")
	}
	if from.After(to) {
		return 0, invalid("range", "from must not be after to")
	}

	count, err := s.store.DeleteConversationsInRange(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("purging conversations: %w", err)
	}

	s.logger.Info("purge completed",
		"count", count,
		"from", from.UTC().Format(time.RFC3339),
		"to", to.UTC().Format(time.RFC3339))
	return count, nil
}
