// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	daily         []*DailyStat
	feed          *Feed

	// FailWrites makes every mutating call return ErrUnavailable,
	// simulating an unreachable backing store.
	FailWrites bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		feed:          newFeed(nil),
	}
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return ErrUnavailable
	}

	// Copy to avoid external modification
	c := *conv
	c.Participants = append([]string(nil), conv.Participants...)
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	c.MessageCount = len(m.messages[id])
	return &c, nil
}

// ListConversations returns conversations ordered by updated_at descending.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]*Conversation, 0, len(m.conversations))
	for id, conv := range m.conversations {
		c := *conv
		c.MessageCount = len(m.messages[id])
		convs = append(convs, &c)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	limit = clampLimit(limit)
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// ListConversationsByParticipant filters by initiator or membership.
func (m *MockStore) ListConversationsByParticipant(ctx context.Context, participant string, limit int) ([]*Conversation, error) {
	all, err := m.ListConversations(ctx, 0)
	if err != nil {
		return nil, err
	}
	var filtered []*Conversation
	for _, c := range all {
		if c.HasParticipant(participant) {
			filtered = append(filtered, c)
		}
	}
	limit = clampLimit(limit)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// TouchConversation bumps updated_at, keeping it monotonic.
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return ErrUnavailable
	}

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
	return nil
}

// CreateMessage stores a message and publishes it to the feed.
func (m *MockStore) CreateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()

	if m.FailWrites {
		m.mu.Unlock()
		return ErrUnavailable
	}

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return ErrConstraintViolation
	}

	mm := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &mm)
	m.mu.Unlock()

	m.feed.publish(&mm)
	return nil
}

// ListMessages returns messages in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		mm := *msg
		out[i] = &mm
	}
	return out, nil
}

// DeleteConversationsInRange removes conversations created in [from, to]
// inclusive, cascading to their messages.
func (m *MockStore) DeleteConversationsInRange(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return 0, ErrUnavailable
	}

	count := 0
	for id, conv := range m.conversations {
		if conv.CreatedAt.Before(from) || conv.CreatedAt.After(to) {
			continue
		}
		delete(m.conversations, id)
		delete(m.messages, id)
		count++
	}
	return count, nil
}

// AggregateParticipantStats folds all messages into per-participant tallies.
func (m *MockStore) AggregateParticipantStats(ctx context.Context) ([]*ParticipantStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byParticipant := make(map[string]*ParticipantStats)
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			st, ok := byParticipant[msg.Participant]
			if !ok {
				st = &ParticipantStats{Participant: msg.Participant}
				byParticipant[msg.Participant] = st
			}
			st.Messages++
			st.InputTokens += msg.InputTokens
			st.OutputTokens += msg.OutputTokens
		}
	}

	stats := make([]*ParticipantStats, 0, len(byParticipant))
	for _, st := range byParticipant {
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Participant < stats[j].Participant
	})
	return stats, nil
}

// DailyStats returns the seeded daily aggregate rows.
func (m *MockStore) DailyStats(ctx context.Context, participant string) ([]*DailyStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats []*DailyStat
	for _, st := range m.daily {
		if participant != "" && st.Participant != participant {
			continue
		}
		s := *st
		stats = append(stats, &s)
	}
	return stats, nil
}

// SeedDailyStat adds a row to the mock daily aggregate table.
func (m *MockStore) SeedDailyStat(st *DailyStat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *st
	m.daily = append(m.daily, &s)
}

// InsertFeed returns the mock's message-insertion feed.
func (m *MockStore) InsertFeed() *Feed {
	return m.feed
}

// Close closes the feed.
func (m *MockStore) Close() error {
	m.feed.close()
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
