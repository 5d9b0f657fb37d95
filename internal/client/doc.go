// ABOUTME: Package documentation for the embeddable logging client.
// ABOUTME: Explains handle affinity, lazy opening, and failure absorption.

// Package client is the embeddable side of scribe: applications hold a
// Logger, ask it for a Handle per interaction, and call Log as the
// exchange unfolds.
//
// Handles are cached by (initiator, participant, sessionKey) with a
// bounded TTL, so every Log call in one interaction lands on the same
// conversation without the caller threading IDs around. The server
// itself never deduplicates opens; affinity is purely a client concern.
//
// The conversation is opened lazily on the first Start or Log call.
// Log never returns an error: a gateway outage degrades to warnings on
// the client's diagnostic logger, and the host application keeps
// running. When a caller supplies no token counts, Log estimates one
// token per four characters of content; explicit counts, including
// explicit zeros, are never overwritten.
package client
