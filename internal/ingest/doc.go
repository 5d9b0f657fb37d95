// Package ingest implements the stateless ingestion layer: it validates
// inbound open/append calls, translates them into store operations, and
// maintains the derived last-updated timestamp on conversations.
//
// Design notes:
//
//   - OpenConversation never deduplicates; every call creates a row.
//     Idempotency is pushed to callers (the client package), who hold
//     session continuity information the server does not have.
//   - AppendMessage's touch is best-effort. A failed touch is logged and
//     counted (scribe_ingest_touch_failures_total) but the append still
//     succeeds: message durability outranks metadata freshness.
//   - AggregateStatsByParticipant is a full scan, acceptable while
//     volumes stay in the low thousands of messages.
package ingest
