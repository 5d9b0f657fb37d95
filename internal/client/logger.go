// ABOUTME: Embeddable logging client for recording agent exchanges over HTTP.
// ABOUTME: Never lets a logging failure propagate into the host application.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL  = time.Hour
	defaultCacheSize = 1024
	defaultTimeout   = 10 * time.Second
)

// Options configures a Logger. The zero value is usable.
type Options struct {
	// Token is sent as a bearer token on every request. Empty means
	// the gateway runs without auth.
	Token string

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client

	// CacheTTL and CacheSize bound the handle affinity cache.
	// Defaults: one hour, 1024 entries.
	CacheTTL  time.Duration
	CacheSize int

	// Logger receives diagnostics for swallowed failures.
	Logger *slog.Logger
}

// Logger records agent conversations against a running gateway. All
// methods are safe for concurrent use. Log calls absorb transport and
// server failures so the host application's own work is never disturbed
// by its record keeping.
type Logger struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *HandleCache
	logger     *slog.Logger
}

// New creates a Logger targeting the gateway at baseURL, e.g.
// "http://localhost:8080". opts may be nil.
func New(baseURL string, opts *Options) *Logger {
	if opts == nil {
		opts = &Options{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Logger{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
		cache:      NewHandleCache(ttl, size),
		logger:     logger.With("component", "scribe-client"),
	}
}

// Close releases the Logger's cache resources.
func (l *Logger) Close() {
	l.cache.Close()
}

// GetOrCreateHandle returns the handle for the given interaction,
// creating one if no live handle exists for the key. Handles are cached
// so that repeated calls within the cache TTL share one conversation.
// No network traffic happens here; the conversation is opened lazily on
// first Start or Log.
func (l *Logger) GetOrCreateHandle(initiator, participant, sessionKey string) *Handle {
	key := HandleKey{Initiator: initiator, Participant: participant, SessionKey: sessionKey}
	return l.cache.GetOrPut(key, func() *Handle {
		return &Handle{client: l, key: key}
	})
}

// Handle tracks one logical interaction's conversation on the server.
// A handle starts unopened; the first Start or Log call creates the
// server-side conversation and later calls append to it.
type Handle struct {
	client *Logger
	key    HandleKey

	mu             sync.Mutex
	conversationID string
}

// ConversationID returns the server-side conversation ID, or the empty
// string if the conversation has not been opened yet.
func (h *Handle) ConversationID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conversationID
}

// Start opens the conversation on the server. Calling Start on an
// already-opened handle is a no-op, so callers don't need to track
// whether they were first.
func (h *Handle) Start(ctx context.Context, title string, metadata map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startLocked(ctx, title, metadata)
}

// startLocked opens the conversation if needed. Must be called with mu
// held.
func (h *Handle) startLocked(ctx context.Context, title string, metadata map[string]any) error {
	if h.conversationID != "" {
		return nil
	}

	req := openConversationRequest{
		Initiator:      h.key.Initiator,
		Participants:   []string{h.key.Participant},
		CorrelationKey: h.key.SessionKey,
		Title:          title,
		Metadata:       metadata,
	}

	var resp conversationResponse
	if err := h.client.post(ctx, "/api/conversations", req, &resp); err != nil {
		return fmt.Errorf("opening conversation: %w", err)
	}

	h.conversationID = resp.ID
	return nil
}

// LogOptions carries the optional fields of a Log call. Token counts
// are pointers so that an explicit zero is distinguishable from
// "unknown": nil counts get estimated from content length, explicit
// values (including zero) are recorded as given.
type LogOptions struct {
	InputTokens  *int
	OutputTokens *int
	Model        string
	Metadata     map[string]any
}

// Log records one message on the handle's conversation. If the
// conversation has not been opened yet it is opened first with an empty
// title. Log never returns an error: failures are logged through the
// client's diagnostic logger and swallowed, so instrumented application
// code cannot be broken by the gateway being down.
func (h *Handle) Log(ctx context.Context, author, role, content string, opts *LogOptions) {
	if opts == nil {
		opts = &LogOptions{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.startLocked(ctx, "", nil); err != nil {
		h.client.logger.Warn("dropping message, conversation open failed",
			"initiator", h.key.Initiator,
			"participant", h.key.Participant,
			"error", err)
		return
	}

	inputTokens, outputTokens := resolveTokens(role, content, opts)

	req := appendMessageRequest{
		Author:       author,
		Role:         role,
		Content:      content,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        opts.Model,
		Metadata:     opts.Metadata,
	}

	path := "/api/conversations/" + h.conversationID + "/messages"
	if err := h.client.post(ctx, path, req, nil); err != nil {
		h.client.logger.Warn("dropping message, append failed",
			"conversation_id", h.conversationID,
			"author", author,
			"error", err)
	}
}

// End closes out the handle: the conversation reference is cleared and
// the handle leaves the affinity cache, so the next GetOrCreateHandle
// for the same key starts a fresh conversation. Nothing is deleted on
// the server.
func (h *Handle) End() {
	h.mu.Lock()
	h.conversationID = ""
	h.mu.Unlock()

	h.client.cache.Remove(h.key)
}

// resolveTokens fills in token counts for a message. Explicit counts
// are always kept as given. When both are absent, the content length is
// estimated at one token per four characters and attributed to the side
// the role implies: responder output, everything else input.
func resolveTokens(role, content string, opts *LogOptions) (inputTokens, outputTokens int) {
	if opts.InputTokens != nil || opts.OutputTokens != nil {
		if opts.InputTokens != nil {
			inputTokens = *opts.InputTokens
		}
		if opts.OutputTokens != nil {
			outputTokens = *opts.OutputTokens
		}
		return inputTokens, outputTokens
	}

	estimate := EstimateTokens(content)
	if role == "responder" {
		return 0, estimate
	}
	return estimate, 0
}

// EstimateTokens approximates the token count of text at one token per
// four characters. Used only when a caller supplies no explicit counts.
func EstimateTokens(content string) int {
	return len(content) / 4
}

// openConversationRequest mirrors the gateway's open payload.
type openConversationRequest struct {
	Initiator      string         `json:"initiator"`
	Participants   []string       `json:"participants,omitempty"`
	CorrelationKey string         `json:"correlationKey"`
	Title          string         `json:"title,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// conversationResponse carries the fields the client needs back.
type conversationResponse struct {
	ID string `json:"id"`
}

// appendMessageRequest mirrors the gateway's append payload.
type appendMessageRequest struct {
	Author       string         `json:"author"`
	Role         string         `json:"role"`
	Content      string         `json:"content"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	Model        string         `json:"model,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// post sends a JSON request and decodes the response into out if out is
// non-nil. Non-2xx statuses become errors carrying the server's message.
func (l *Logger) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
