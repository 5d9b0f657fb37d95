// ABOUTME: Change notification bridge from the store's insert feed to live observers
// ABOUTME: One upstream subscription fanned out through the observer registry

package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/2389/scribe/internal/store"
)

// EnvelopeTypeNewMessage is the type tag on live-feed envelopes.
const EnvelopeTypeNewMessage = "new_message"

// MessagePayload is the wire representation of a persisted message.
type MessagePayload struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Participant    string         `json:"participant"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	InputTokens    int            `json:"inputTokens"`
	OutputTokens   int            `json:"outputTokens"`
	TotalTokens    int            `json:"totalTokens"`
	Model          string         `json:"model,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"createdAt"`
}

// Envelope is the live-feed frame pushed to observers.
type Envelope struct {
	Type string         `json:"type"`
	Data MessagePayload `json:"data"`
}

// PayloadFromMessage converts a persisted message to its wire form.
func PayloadFromMessage(msg *store.Message) MessagePayload {
	return MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Participant:    msg.Participant,
		Role:           msg.Role,
		Content:        msg.Content,
		InputTokens:    msg.InputTokens,
		OutputTokens:   msg.OutputTokens,
		TotalTokens:    msg.TotalTokens(),
		Model:          msg.Model,
		Metadata:       msg.Metadata,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Bridge holds the single upstream subscription to the store's
// message-insertion feed and republishes each change to all connected
// observers. The subscription count stays at one regardless of observer
// count; fan-out is the registry's job.
type Bridge struct {
	feed     *store.Feed
	registry *Registry
	logger   *slog.Logger
}

// NewBridge creates a bridge over the given feed and registry.
func NewBridge(feed *store.Feed, registry *Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		feed:     feed,
		registry: registry,
		logger:   logger.With("component", "bridge"),
	}
}

// Run consumes the feed until the context is cancelled or the feed
// closes, forwarding each insertion to every registered observer in the
// order received. On exit it closes the registry, transitioning every
// observer channel to closed.
func (b *Bridge) Run(ctx context.Context) {
	defer b.registry.Close()

	events := b.feed.Events()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopping", "reason", "context cancelled")
			return
		case msg, ok := <-events:
			if !ok {
				b.logger.Info("bridge stopping", "reason", "feed closed")
				return
			}
			b.forward(msg)
		}
	}
}

// forward serializes one insertion and broadcasts it.
func (b *Bridge) forward(msg *store.Message) {
	envelope := Envelope{
		Type: EnvelopeTypeNewMessage,
		Data: PayloadFromMessage(msg),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Error("failed to marshal envelope",
			"error", err,
			"message_id", msg.ID)
		return
	}

	b.registry.Broadcast(payload)
	envelopesForwarded.Inc()

	b.logger.Debug("forwarded insertion",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"observers", b.registry.Count())
}
