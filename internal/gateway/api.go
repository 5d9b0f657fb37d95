// ABOUTME: HTTP API handlers for the conversation REST surface
// ABOUTME: JSON bodies in, JSON bodies out; errors mapped from the ingest taxonomy

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/scribe/internal/ingest"
	"github.com/2389/scribe/internal/store"
	"github.com/2389/scribe/internal/stream"
)

// OpenConversationRequest is the JSON request body for POST /api/conversations.
type OpenConversationRequest struct {
	Initiator      string         `json:"initiator"`
	Participants   []string       `json:"participants"`
	CorrelationKey string         `json:"correlationKey"`
	Title          string         `json:"title,omitempty"`
	Status         string         `json:"status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// AppendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type AppendMessageRequest struct {
	Author       string         `json:"author"`
	Role         string         `json:"role"`
	Content      string         `json:"content"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	Model        string         `json:"model,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ConversationResponse is the JSON representation of a conversation.
type ConversationResponse struct {
	ID             string         `json:"id"`
	CorrelationKey string         `json:"correlationKey"`
	Initiator      string         `json:"initiator"`
	Participants   []string       `json:"participants"`
	Title          string         `json:"title,omitempty"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	MessageCount   int            `json:"messageCount"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
}

// ConversationDetailResponse is a conversation plus its ordered messages.
type ConversationDetailResponse struct {
	ConversationResponse
	Messages []stream.MessagePayload `json:"messages"`
}

// StatsResponse is the JSON response for GET /api/stats/agents.
type StatsResponse struct {
	Agents []AgentStats `json:"agents"`
}

// AgentStats is one per-participant tally.
type AgentStats struct {
	Participant  string `json:"participant"`
	Messages     int    `json:"messages"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// PurgeResponse is the JSON response for DELETE /api/conversations/delete-range.
type PurgeResponse struct {
	Deleted int `json:"deleted"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             conv.ID,
		CorrelationKey: conv.CorrelationKey,
		Initiator:      conv.Initiator,
		Participants:   conv.Participants,
		Title:          conv.Title,
		Status:         conv.Status,
		Metadata:       conv.Metadata,
		MessageCount:   conv.MessageCount,
		CreatedAt:      conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// handleHealth handles GET /api/health. Liveness only; no auth.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleConversations handles /api/conversations: GET lists, POST creates.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListConversations(w, r)
	case http.MethodPost:
		g.handleOpenConversation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListConversations handles GET /api/conversations.
// Returns conversations with message counts, newest activity first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.ingest.ListConversations(r.Context(), 0)
	if err != nil {
		g.writeError(w, err)
		return
	}

	response := make([]ConversationResponse, len(convs))
	for i, c := range convs {
		response[i] = conversationResponse(c)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleOpenConversation handles POST /api/conversations.
func (g *Gateway) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	var req OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.ingest.OpenConversation(r.Context(), &ingest.OpenRequest{
		Initiator:      req.Initiator,
		Participants:   req.Participants,
		CorrelationKey: req.CorrelationKey,
		Title:          req.Title,
		Status:         req.Status,
		Metadata:       req.Metadata,
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, conversationResponse(conv))
}

// handleConversationSubtree routes /api/conversations/{...} paths:
//
//	DELETE /api/conversations/delete-range?from&to
//	GET    /api/conversations/{id}
//	POST   /api/conversations/{id}/messages
func (g *Gateway) handleConversationSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if rest == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	if rest == "delete-range" {
		g.handlePurgeRange(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/messages"); ok {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleAppendMessage(w, r, id)
		return
	}

	if strings.Contains(rest, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.handleGetConversation(w, r, rest)
}

// handleGetConversation handles GET /api/conversations/{id}.
// Returns the conversation with its messages in creation order.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request, id string) {
	conv, msgs, err := g.ingest.GetConversationWithMessages(r.Context(), id)
	if err != nil {
		g.writeError(w, err)
		return
	}

	response := ConversationDetailResponse{
		ConversationResponse: conversationResponse(conv),
		Messages:             make([]stream.MessagePayload, len(msgs)),
	}
	for i, m := range msgs {
		response.Messages[i] = stream.PayloadFromMessage(m)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAppendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleAppendMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.ingest.AppendMessage(r.Context(), &ingest.AppendRequest{
		ConversationID: conversationID,
		Participant:    req.Author,
		Role:           req.Role,
		Content:        req.Content,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		Model:          req.Model,
		Metadata:       req.Metadata,
	})
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, stream.PayloadFromMessage(msg))
}

// handleAgentConversations handles GET /api/agents/{agentId}/conversations.
// Matches conversations where the agent is initiator or participant.
func (g *Gateway) handleAgentConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Path
	prefix := "/api/agents/"
	suffix := "/conversations"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	agentID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if agentID == "" || strings.Contains(agentID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "agent id is required")
		return
	}

	convs, err := g.ingest.ListConversationsByParticipant(r.Context(), agentID, 0)
	if err != nil {
		g.writeError(w, err)
		return
	}

	response := make([]ConversationResponse, len(convs))
	for i, c := range convs {
		response[i] = conversationResponse(c)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAgentStats handles GET /api/stats/agents.
func (g *Gateway) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats, err := g.ingest.AggregateStatsByParticipant(r.Context())
	if err != nil {
		g.writeError(w, err)
		return
	}

	response := StatsResponse{Agents: make([]AgentStats, len(stats))}
	for i, st := range stats {
		response.Agents[i] = AgentStats{
			Participant:  st.Participant,
			Messages:     st.Messages,
			InputTokens:  st.InputTokens,
			OutputTokens: st.OutputTokens,
		}
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handlePurgeRange handles DELETE /api/conversations/delete-range.
// Both from and to query params are mandatory, RFC3339.
func (g *Gateway) handlePurgeRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := g.ingest.PurgeRange(r.Context(), from, to)
	if err != nil {
		g.writeError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, PurgeResponse{Deleted: count})
}

// parseTimeParam reads a mandatory RFC3339 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, &ingest.ValidationError{Field: name, Reason: "query param is required"}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &ingest.ValidationError{Field: name, Reason: "must be an RFC3339 timestamp"}
	}
	return t, nil
}

// writeError maps the error taxonomy to HTTP status codes.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		g.sendJSONError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConstraintViolation):
		g.sendJSONError(w, http.StatusNotFound, "referenced entity does not exist")
	case errors.Is(err, store.ErrUnavailable):
		g.logger.Error("store unavailable", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
