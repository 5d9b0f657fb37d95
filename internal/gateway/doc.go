// Package gateway wires the REST surface, the websocket live feed and
// the change-notification bridge into one HTTP server.
//
// # REST surface
//
//	GET    /api/health                                  liveness probe (no auth)
//	GET    /api/conversations                           list, newest activity first
//	GET    /api/conversations/{id}                      conversation + ordered messages
//	POST   /api/conversations                           open a conversation
//	POST   /api/conversations/{id}/messages             append a message
//	GET    /api/agents/{agentId}/conversations          by initiator or membership
//	GET    /api/stats/agents                            per-participant tallies
//	DELETE /api/conversations/delete-range?from&to      bulk purge, both bounds required
//
// The live feed is a websocket at server.stream_path (default
// /api/stream) delivering {"type":"new_message","data":Message} frames.
// /metrics serves Prometheus metrics when enabled.
package gateway
