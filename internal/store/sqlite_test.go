// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation CRUD, message ordering, touch semantics, and range purge

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv := &Conversation{
		ID:             "conv-123",
		CorrelationKey: "session-abc",
		Initiator:      "nexar",
		Participants:   []string{"nexar", "rio"},
		Title:          "deploy planning",
		Status:         StatusActive,
		Metadata:       map[string]any{"env": "staging"},
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		UpdatedAt:      time.Now().UTC().Truncate(time.Second),
	}

	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := store.GetConversation(ctx, "conv-123")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}

	if got.ID != conv.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, conv.ID)
	}
	if got.CorrelationKey != conv.CorrelationKey {
		t.Errorf("CorrelationKey mismatch: got %q, want %q", got.CorrelationKey, conv.CorrelationKey)
	}
	if got.Initiator != conv.Initiator {
		t.Errorf("Initiator mismatch: got %q, want %q", got.Initiator, conv.Initiator)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "nexar" || got.Participants[1] != "rio" {
		t.Errorf("Participants mismatch: got %v", got.Participants)
	}
	if got.Title != conv.Title {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, conv.Title)
	}
	if got.Status != StatusActive {
		t.Errorf("Status mismatch: got %q, want %q", got.Status, StatusActive)
	}
	if got.Metadata["env"] != "staging" {
		t.Errorf("Metadata mismatch: got %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, conv.CreatedAt)
	}
	if got.MessageCount != 0 {
		t.Errorf("expected zero MessageCount, got %d", got.MessageCount)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.GetConversation(ctx, "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessage_AndMessageCount(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv := seedConversation(t, store, "conv-1", time.Now().UTC().Truncate(time.Second))

	for i := range 3 {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: conv.ID,
			Participant:    "rio",
			Role:           RoleResponder,
			Content:        fmt.Sprintf("reply %d", i),
			InputTokens:    5,
			OutputTokens:   10,
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage %d failed: %v", i, err)
		}
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.MessageCount != 3 {
		t.Errorf("expected MessageCount 3, got %d", got.MessageCount)
	}
}

func TestCreateMessage_MissingConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	msg := &Message{
		ID:             "msg-orphan",
		ConversationID: "no-such-conversation",
		Participant:    "rio",
		Role:           RoleResponder,
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}

	err := store.CreateMessage(ctx, msg)
	if !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("expected ErrConstraintViolation, got %v", err)
	}
}

func TestListMessages_InsertionOrder(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv := seedConversation(t, store, "conv-order", time.Now().UTC().Truncate(time.Second))

	// Same created_at for all three; insertion order must still hold.
	at := time.Now().UTC().Truncate(time.Second)
	for i := range 3 {
		msg := &Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: conv.ID,
			Participant:    "nexar",
			Role:           RoleRequester,
			Content:        fmt.Sprintf("step %d", i),
			CreatedAt:      at,
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage %d failed: %v", i, err)
		}
	}

	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		want := fmt.Sprintf("msg-%d", i)
		if msg.ID != want {
			t.Errorf("position %d: got %q, want %q", i, msg.ID, want)
		}
	}
}

func TestListMessages_EmptyConversation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv := seedConversation(t, store, "conv-empty", time.Now().UTC().Truncate(time.Second))

	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestTouchConversation_Monotonic(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	conv := seedConversation(t, store, "conv-touch", base)

	later := base.Add(time.Minute)
	if err := store.TouchConversation(ctx, conv.ID, later); err != nil {
		t.Fatalf("TouchConversation failed: %v", err)
	}

	// A touch with an older timestamp must not move updated_at backwards.
	if err := store.TouchConversation(ctx, conv.ID, base.Add(-time.Minute)); err != nil {
		t.Fatalf("TouchConversation with older time failed: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt regressed: got %v, want %v", got.UpdatedAt, later)
	}
}

func TestTouchConversation_SubSecondPrecision(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()
	conv := seedConversation(t, store, "conv-subsec", base)

	// A bump within the same wall-clock second must still advance
	// updated_at past created_at.
	touched := base.Add(10 * time.Millisecond)
	if err := store.TouchConversation(ctx, conv.ID, touched); err != nil {
		t.Fatalf("TouchConversation failed: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v not later than CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(touched) {
		t.Errorf("UpdatedAt mismatch: got %v, want %v", got.UpdatedAt, touched)
	}
}

func TestTimestampRoundTripKeepsNanoseconds(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2026, 5, 3, 8, 15, 42, 123456789, time.UTC)
	conv := seedConversation(t, store, "conv-nanos", at)

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt lost precision: got %v, want %v", got.CreatedAt, at)
	}
}

func TestTouchConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.TouchConversation(context.Background(), "nonexistent", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversations_NewestActivityFirst(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	seedConversation(t, store, "conv-old", base.Add(-2*time.Hour))
	seedConversation(t, store, "conv-mid", base.Add(-time.Hour))
	seedConversation(t, store, "conv-new", base)

	convs, err := store.ListConversations(ctx, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convs))
	}
	wantOrder := []string{"conv-new", "conv-mid", "conv-old"}
	for i, want := range wantOrder {
		if convs[i].ID != want {
			t.Errorf("position %d: got %q, want %q", i, convs[i].ID, want)
		}
	}
}

func TestListConversations_Limit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		seedConversation(t, store, fmt.Sprintf("conv-%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	convs, err := store.ListConversations(ctx, 2)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 2 {
		t.Errorf("expected 2 conversations, got %d", len(convs))
	}
}

func TestListConversationsByParticipant(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	asInitiator := &Conversation{
		ID: "conv-init", CorrelationKey: "k1", Initiator: "rio",
		Participants: []string{"rio", "nexar"}, Status: StatusActive,
		CreatedAt: base, UpdatedAt: base,
	}
	asMember := &Conversation{
		ID: "conv-member", CorrelationKey: "k2", Initiator: "nexar",
		Participants: []string{"nexar", "rio"}, Status: StatusActive,
		CreatedAt: base, UpdatedAt: base,
	}
	unrelated := &Conversation{
		ID: "conv-other", CorrelationKey: "k3", Initiator: "vex",
		Participants: []string{"vex", "ember"}, Status: StatusActive,
		CreatedAt: base, UpdatedAt: base,
	}
	// A participant whose name merely contains "rio" must not match.
	nearMiss := &Conversation{
		ID: "conv-nearmiss", CorrelationKey: "k4", Initiator: "vex",
		Participants: []string{"vex", "riordan"}, Status: StatusActive,
		CreatedAt: base, UpdatedAt: base,
	}

	for _, conv := range []*Conversation{asInitiator, asMember, unrelated, nearMiss} {
		if err := store.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation %s failed: %v", conv.ID, err)
		}
	}

	convs, err := store.ListConversationsByParticipant(ctx, "rio", 0)
	if err != nil {
		t.Fatalf("ListConversationsByParticipant failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	for _, conv := range convs {
		if conv.ID != "conv-init" && conv.ID != "conv-member" {
			t.Errorf("unexpected conversation %q in results", conv.ID)
		}
	}
}

func TestDeleteConversationsInRange(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	before := seedConversation(t, store, "conv-before", base.Add(-time.Hour))
	inside := seedConversation(t, store, "conv-inside", base)
	edge := seedConversation(t, store, "conv-edge", base.Add(time.Hour))
	after := seedConversation(t, store, "conv-after", base.Add(2*time.Hour))

	// Message on the purged conversation must cascade away.
	msg := &Message{
		ID: "msg-cascade", ConversationID: inside.ID, Participant: "rio",
		Role: RoleResponder, Content: "gone soon", CreatedAt: base,
	}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	// Range is inclusive on both ends.
	count, err := store.DeleteConversationsInRange(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteConversationsInRange failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 deleted, got %d", count)
	}

	for _, id := range []string{inside.ID, edge.ID} {
		if _, err := store.GetConversation(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("conversation %q should be gone, got %v", id, err)
		}
	}
	for _, id := range []string{before.ID, after.ID} {
		if _, err := store.GetConversation(ctx, id); err != nil {
			t.Errorf("conversation %q should survive, got %v", id, err)
		}
	}

	msgs, err := store.ListMessages(ctx, inside.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected cascade to remove messages, got %d", len(msgs))
	}
}

func TestDeleteConversationsInRange_EmptyRange(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	seedConversation(t, store, "conv-1", time.Now().UTC().Truncate(time.Second))

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	count, err := store.DeleteConversationsInRange(ctx, past, past.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteConversationsInRange failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 deleted, got %d", count)
	}
}

func TestInsertFeed_PublishesOnCreate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	conv := seedConversation(t, store, "conv-feed", time.Now().UTC().Truncate(time.Second))

	events := store.InsertFeed().Events()

	msg := &Message{
		ID: "msg-feed", ConversationID: conv.ID, Participant: "rio",
		Role: RoleResponder, Content: "observable", CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	select {
	case got := <-events:
		if got.ID != "msg-feed" {
			t.Errorf("feed delivered %q, want %q", got.ID, "msg-feed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
	}
}

func TestInsertFeed_NoEventOnFailedInsert(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	events := store.InsertFeed().Events()

	msg := &Message{
		ID: "msg-reject", ConversationID: "missing", Participant: "rio",
		Role: RoleResponder, Content: "never persisted", CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateMessage(ctx, msg); err == nil {
		t.Fatal("expected insert to fail")
	}

	select {
	case got := <-events:
		t.Errorf("feed must stay silent on failed insert, got %q", got.ID)
	case <-time.After(100 * time.Millisecond):
		// Expected: nothing published
	}
}

// seedConversation creates a minimal active conversation at the given time.
func seedConversation(t *testing.T, store *SQLiteStore, id string, at time.Time) *Conversation {
	t.Helper()

	conv := &Conversation{
		ID:             id,
		CorrelationKey: "key-" + id,
		Initiator:      "nexar",
		Participants:   []string{"nexar", "rio"},
		Status:         StatusActive,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := store.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("CreateConversation %s failed: %v", id, err)
	}
	return conv
}

// newTestStore creates a new SQLite store in a temporary directory for testing
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
