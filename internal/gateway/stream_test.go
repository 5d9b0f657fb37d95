// ABOUTME: Tests for the websocket live-feed handler
// ABOUTME: Covers observer registration, envelope delivery, and disconnect cleanup

package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/scribe/internal/stream"
)

func TestHandleStream_DeliversBroadcasts(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Wait for the observer to land in the registry before broadcasting.
	waitForObservers(t, gw, 1)

	envelope := stream.Envelope{
		Type: stream.EnvelopeTypeNewMessage,
		Data: stream.MessagePayload{ID: "msg-live", Content: "hello"},
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	gw.Registry().Broadcast(payload)

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Errorf("expected text frame, got %v", msgType)
	}

	var got stream.Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if got.Type != stream.EnvelopeTypeNewMessage {
		t.Errorf("expected type %q, got %q", stream.EnvelopeTypeNewMessage, got.Type)
	}
	if got.Data.ID != "msg-live" {
		t.Errorf("expected message msg-live, got %q", got.Data.ID)
	}
}

func TestHandleStream_DisconnectUnregistersObserver(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}

	waitForObservers(t, gw, 1)

	conn.Close(websocket.StatusNormalClosure, "leaving")

	waitForObservers(t, gw, 0)
}

func TestHandleStream_MultipleObservers(t *testing.T) {
	gw, _ := newTestGateway(t)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/stream"

	var conns []*websocket.Conn
	for range 3 {
		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			t.Fatalf("websocket dial failed: %v", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		conns = append(conns, conn)
	}

	waitForObservers(t, gw, 3)

	gw.Registry().Broadcast([]byte(`{"type":"new_message","data":{"id":"msg-all"}}`))

	for i, conn := range conns {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("observer %d read failed: %v", i, err)
		}
		var got stream.Envelope
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("observer %d decode failed: %v", i, err)
		}
		if got.Data.ID != "msg-all" {
			t.Errorf("observer %d got %q, want msg-all", i, got.Data.ID)
		}
	}
}

// waitForObservers polls until the registry reaches the wanted observer
// count or the deadline passes.
func waitForObservers(t *testing.T, gw *Gateway, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if gw.Registry().Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d observers (have %d)", want, gw.Registry().Count())
}
