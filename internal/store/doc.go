// Package store provides persistent storage for scribe using SQLite.
//
// # Architecture
//
// The Store interface is the sole owner of persisted entity state.
// SQLiteStore implements it on modernc.org/sqlite; MockStore implements
// it in memory for tests.
//
// # Data Models
//
//   - Conversation: a grouping of messages among a set of participants,
//     keyed by an opaque generated ID and carrying a caller-supplied
//     (non-unique) correlation key
//   - Message: one immutable authored unit of content with role and
//     token counts; total tokens are derived, never stored
//   - ParticipantStats: per-participant message and token tallies
//   - DailyStat: a row of the reserved daily aggregate table
//
// # Change Feed
//
// Every successfully persisted message is published to the store's
// insert feed (InsertFeed). The feed is single-consumer: the stream
// bridge holds the one subscription and fans out to observers. There is
// no replay.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Foreign keys must stay on: message deletion rides on the
// ON DELETE CASCADE from conversations to messages.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConstraintViolation: a write referenced a missing entity
//   - ErrUnavailable: the backing store could not be reached
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") for
// integration tests with real SQLite.
package store
