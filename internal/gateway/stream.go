// ABOUTME: Websocket live-feed handler for observers
// ABOUTME: Registers the connection as an observer and pumps envelopes until it closes

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// streamWriteTimeout bounds a single envelope write so one stalled
	// connection cannot pin its pump goroutine forever.
	streamWriteTimeout = 5 * time.Second
)

// handleStream handles GET on the live-feed path. The connection is
// upgraded to a websocket, registered as an observer, and receives one
// `{"type":"new_message","data":...}` frame per message insertion that
// happens while it is open. There is no replay: observers fetch current
// state over the REST surface before relying on the feed, and
// reconnection is their responsibility.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Observers are trusted at the transport level; the dashboard
		// may be served from any origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}

	token, ch := g.registry.Register()
	defer g.registry.Unregister(token)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Observers never send data; reads only detect disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	g.logger.Info("observer connected", "token", token, "remote", r.RemoteAddr)
	defer g.logger.Info("observer disconnected", "token", token)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case payload, ok := <-ch:
			if !ok {
				// Registry closed (server shutdown).
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := g.writeFrame(ctx, conn, payload); err != nil {
				// A failed write closes this channel only; delivery to
				// other observers is unaffected.
				g.logger.Debug("observer write failed, closing",
					"token", token,
					"error", err)
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// writeFrame writes one envelope with a per-write timeout.
func (g *Gateway) writeFrame(parent context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(parent, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
