package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/discovery"
	"github.com/TheLostHomeyAppRepositories/com.ngbs.icon/internal/pairing"
)

// Scan stream message types.
const (
	WSTypeProgress = "progress"
	WSTypeResult   = "result"
	WSTypeError    = "error"

	// wsWriteTimeout bounds a single websocket write.
	wsWriteTimeout = 10 * time.Second
)

// WSMessage is one message of a scan stream. Percent is -1 once the scan
// stops reporting progress.
type WSMessage struct {
	Type    string            `json:"type"`
	Percent *int              `json:"percent,omitempty"`
	Found   *bool             `json:"found,omitempty"`
	Result  *discovery.Result `json:"result,omitempty"`
	Error   *Error            `json:"error,omitempty"`
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// scanFunc is a progress-reporting scan: the discoverer or a session prefill.
type scanFunc func(context.Context, discovery.ProgressFunc) (*discovery.Result, error)

// handleScan looks for a controller on the local /24 network.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.discoverer == nil {
		writeDomainError(w, pairing.ErrNoDiscovery)
		return
	}
	res, err := s.runScan(r.Context(), s.discoverer.Scan, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": res != nil, "result": res})
}

// handleScanStream is handleScan over a websocket, with progress.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	if s.discoverer == nil {
		writeDomainError(w, pairing.ErrNoDiscovery)
		return
	}
	s.streamScan(w, r, s.discoverer.Scan)
}

// streamScan upgrades the request and runs scan, sending one progress
// message per finished batch and a final result or error message. The scan
// is cancelled when the client goes away.
func (s *Server) streamScan(w http.ResponseWriter, r *http.Request, scan scanFunc) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Reader: any read error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg WSMessage) {
		//nolint:errcheck // Best-effort deadline; write error caught below
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			cancel()
		}
	}

	res, err := s.runScan(ctx, scan, func(percent int) {
		p := percent
		send(WSMessage{Type: WSTypeProgress, Percent: &p})
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		resp := errorResponse(err)
		send(WSMessage{Type: WSTypeError, Error: &resp})
	} else {
		found := res != nil
		send(WSMessage{Type: WSTypeResult, Found: &found, Result: res})
	}

	//nolint:errcheck // Best-effort close handshake
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}
