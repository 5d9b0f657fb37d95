// ABOUTME: SQLite implementation for per-participant usage aggregation
// ABOUTME: Folds message counts and token totals for reporting endpoints

package store

import (
	"context"
)

// AggregateParticipantStats scans all messages and folds them into a
// per-participant tally. A full scan is acceptable at current volumes
// (low thousands of messages); if that changes this must become an
// incrementally maintained aggregate backed by daily_participant_stats.
func (s *SQLiteStore) AggregateParticipantStats(ctx context.Context) ([]*ParticipantStats, error) {
	query := `
		SELECT
			participant,
			COUNT(*) as messages,
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output
		FROM messages
		GROUP BY participant
		ORDER BY participant
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, unavailable("querying participant stats", err)
	}
	defer rows.Close()

	var stats []*ParticipantStats
	for rows.Next() {
		var st ParticipantStats
		if err := rows.Scan(&st.Participant, &st.Messages, &st.InputTokens, &st.OutputTokens); err != nil {
			return nil, unavailable("scanning stats row", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating stats rows", err)
	}

	return stats, nil
}

// DailyStats reads the reserved daily aggregate table. If participant is
// empty, rows for all participants are returned. The core never writes
// this table; rows appear only once the incremental aggregation job
// exists.
func (s *SQLiteStore) DailyStats(ctx context.Context, participant string) ([]*DailyStat, error) {
	query := `
		SELECT date, participant, messages, input_tokens, output_tokens
		FROM daily_participant_stats
	`
	var args []any
	if participant != "" {
		query += ` WHERE participant = ?`
		args = append(args, participant)
	}
	query += ` ORDER BY date ASC, participant ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying daily stats", err)
	}
	defer rows.Close()

	var stats []*DailyStat
	for rows.Next() {
		var st DailyStat
		if err := rows.Scan(&st.Date, &st.Participant, &st.Messages, &st.InputTokens, &st.OutputTokens); err != nil {
			return nil, unavailable("scanning daily stats row", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating daily stats rows", err)
	}

	return stats, nil
}
