package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtiwari1/tradeflow/internal/pipeline"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// The client only ever sends control frames.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// streamMessage is the wire format of GET /uploads/stream. The first message
// is a snapshot; every later one is a single applied change.
type streamMessage struct {
	Type  string                `json:"type"` // snapshot | updated | removed
	Items []pipeline.UploadItem `json:"items,omitempty"`
	Item  *pipeline.UploadItem  `json:"item,omitempty"`
}

// ---------- GET /uploads/stream ----------

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	p, err := h.Sessions.For(r.Context())
	if err != nil {
		h.writeError(w, logger, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so no change falls between them.
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()

	logger.Info("stream opened")
	defer logger.Info("stream closed")

	closed := make(chan struct{})
	go readPump(conn, closed)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(streamMessage{Type: "snapshot", Items: p.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session released.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"))
				return
			}
			item := ev.Item
			if err := conn.WriteJSON(streamMessage{Type: string(ev.Type), Item: &item}); err != nil {
				logger.Debug("stream write", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames until the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
