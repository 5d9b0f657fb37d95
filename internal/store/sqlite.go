// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is RFC3339 with fixed-width nanoseconds. Timestamps are
// compared as strings inside SQL (the MAX(updated_at, ?) bump, the
// ORDER BY clauses, the purge range bounds), so the width must be
// fixed for lexicographic order to equal chronological order —
// RFC3339Nano trims trailing zeros and would break that.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	feed   *Feed
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Foreign keys must be on for message cascade deletion
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		feed:   newFeed(logger),
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			correlation_key   TEXT NOT NULL,
			initiator         TEXT NOT NULL,
			participants_json TEXT NOT NULL,
			title             TEXT,
			status            TEXT NOT NULL DEFAULT 'active',
			metadata_json     TEXT,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,

			CHECK (status IN ('active', 'completed', 'archived'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_conversations_correlation
			ON conversations(correlation_key);

		CREATE INDEX IF NOT EXISTS idx_conversations_created
			ON conversations(created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			participant     TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			input_tokens    INTEGER NOT NULL DEFAULT 0,
			output_tokens   INTEGER NOT NULL DEFAULT 0,
			model           TEXT,
			metadata_json   TEXT,
			created_at      DATETIME NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (role IN ('requester', 'responder', 'system-note')),
			CHECK (input_tokens >= 0),
			CHECK (output_tokens >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_participant
			ON messages(participant);

		-- Reserved for a future incremental aggregation job; the core
		-- reads this table but never writes it.
		CREATE TABLE IF NOT EXISTS daily_participant_stats (
			date          TEXT NOT NULL,
			participant   TEXT NOT NULL,
			messages      INTEGER NOT NULL DEFAULT 0,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (date, participant)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the insert feed and the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	s.feed.close()
	return s.db.Close()
}

// InsertFeed returns the message-insertion change feed.
func (s *SQLiteStore) InsertFeed() *Feed {
	return s.feed
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	participantsJSON, err := json.Marshal(conv.Participants)
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}
	metadataJSON, err := metadataToJSON(conv.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `
		INSERT INTO conversations (id, correlation_key, initiator, participants_json, title, status, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.CorrelationKey,
		conv.Initiator,
		string(participantsJSON),
		nullString(conv.Title),
		conv.Status,
		metadataJSON,
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConstraintViolation
		}
		return unavailable("inserting conversation", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"correlation_key", conv.CorrelationKey,
		"initiator", conv.Initiator)
	return nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// unavailable wraps a driver-level failure as ErrUnavailable so callers
// can map it to a server error without inspecting driver strings.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

const conversationColumns = `id, correlation_key, initiator, participants_json, title, status, metadata_json, created_at, updated_at`

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id)
		FROM conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying conversation", err)
	}
	return conv, nil
}

// ListConversations retrieves conversations ordered by most recent
// activity, each with its message count.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	limit = clampLimit(limit)

	query := `
		SELECT ` + conversationColumns + `,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id)
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, unavailable("querying conversations", err)
	}
	defer rows.Close()

	return collectConversations(rows)
}

// ListConversationsByParticipant retrieves conversations where the
// participant is the initiator or a member of the participant set,
// ordered by most recent activity.
func (s *SQLiteStore) ListConversationsByParticipant(ctx context.Context, participant string, limit int) ([]*Conversation, error) {
	limit = clampLimit(limit)

	// The LIKE on the JSON array is a cheap pre-filter; membership is
	// re-verified in Go after decoding.
	query := `
		SELECT ` + conversationColumns + `,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id)
		FROM conversations
		WHERE initiator = ? OR participants_json LIKE '%"' || ? || '"%'
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, participant, participant, limit)
	if err != nil {
		return nil, unavailable("querying conversations by participant", err)
	}
	defer rows.Close()

	convs, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}

	filtered := make([]*Conversation, 0, len(convs))
	for _, c := range convs {
		if c.HasParticipant(participant) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// TouchConversation bumps the conversation's last-modified timestamp.
// The timestamp is monotonically non-decreasing: a touch with an earlier
// time than the stored value leaves the row unchanged.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE conversations
		SET updated_at = MAX(updated_at, ?)
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, at.UTC().Format(timeFormat), id)
	if err != nil {
		return unavailable("touching conversation", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable("getting rows affected", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("touched conversation", "id", id)
	return nil
}

// CreateMessage inserts a message and publishes it to the insert feed.
// Returns ErrConstraintViolation if the referenced conversation does not
// exist.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	metadataJSON, err := metadataToJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	query := `
		INSERT INTO messages (id, conversation_id, participant, role, content, input_tokens, output_tokens, model, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Participant,
		msg.Role,
		msg.Content,
		msg.InputTokens,
		msg.OutputTokens,
		nullString(msg.Model),
		metadataJSON,
		msg.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConstraintViolation
		}
		return unavailable("inserting message", err)
	}

	s.logger.Debug("saved message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role)

	// Feed publication happens only after the row is durable, so
	// observers never see a message that wasn't persisted.
	s.feed.publish(msg)
	return nil
}

// ListMessages retrieves all messages for a conversation in creation
// order. Rowid breaks ties between messages created within the same
// second.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, participant, role, content, input_tokens, output_tokens, model, metadata_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, unavailable("querying messages", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var model, metadataStr sql.NullString
		var createdAtStr string

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Participant,
			&msg.Role,
			&msg.Content,
			&msg.InputTokens,
			&msg.OutputTokens,
			&model,
			&metadataStr,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		if model.Valid {
			msg.Model = model.String
		}
		msg.Metadata, err = metadataFromJSON(metadataStr)
		if err != nil {
			return nil, fmt.Errorf("decoding message metadata: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// DeleteConversationsInRange deletes conversations whose creation
// timestamp falls within [from, to] inclusive. Message deletion rides on
// the foreign-key cascade. Returns the number of conversations removed.
func (s *SQLiteStore) DeleteConversationsInRange(ctx context.Context, from, to time.Time) (int, error) {
	query := `
		DELETE FROM conversations
		WHERE created_at >= ? AND created_at <= ?
	`

	result, err := s.db.ExecContext(ctx, query,
		from.UTC().Format(timeFormat),
		to.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, unavailable("deleting conversations", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable("getting rows affected", err)
	}

	s.logger.Info("purged conversations",
		"count", rowsAffected,
		"from", from.UTC().Format(time.RFC3339),
		"to", to.UTC().Format(time.RFC3339))
	return int(rowsAffected), nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// clampLimit applies the default and ceiling for listing queries
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// metadataToJSON encodes metadata for storage; empty maps become NULL
func metadataToJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// metadataFromJSON decodes a nullable metadata column
func metadataFromJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// scanConversation scans one conversation row (with message count) using
// the given scan function.
func scanConversation(scan func(...any) error) (*Conversation, error) {
	var conv Conversation
	var participantsStr string
	var title, metadataStr sql.NullString
	var createdAtStr, updatedAtStr string

	err := scan(
		&conv.ID,
		&conv.CorrelationKey,
		&conv.Initiator,
		&participantsStr,
		&title,
		&conv.Status,
		&metadataStr,
		&createdAtStr,
		&updatedAtStr,
		&conv.MessageCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participantsStr), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	if title.Valid {
		conv.Title = title.String
	}
	conv.Metadata, err = metadataFromJSON(metadataStr)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// collectConversations drains a conversation result set
func collectConversations(rows *sql.Rows) ([]*Conversation, error) {
	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
