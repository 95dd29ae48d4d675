package notifications

import (
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// Hub fans notification frames out to the websocket connections of each
// user. Frames are msgpack-encoded by the dispatcher; the hub only
// moves bytes.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*websocket.Conn]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		conns: make(map[int64]map[*websocket.Conn]struct{}),
		log:   log.With().Str("component", "notification_hub").Logger(),
	}
}

// Serve upgrades the request and keeps the connection registered until
// the client goes away. Blocks for the lifetime of the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are the gateway's job
	})
	if err != nil {
		return err
	}

	h.register(userID, conn)
	defer h.unregister(userID, conn)

	h.log.Debug().Int64("user_id", userID).Msg("Websocket client connected")

	// Reads are only used to detect the close; clients never send.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return nil
		}
	}
}

// Push sends a frame to every connection of a user. Dead connections
// are dropped silently; the persisted row is the source of truth.
func (h *Hub) Push(userID int64, frame []byte) {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[userID]))
	for conn := range h.conns[userID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageBinary, frame)
		cancel()
		if err != nil {
			h.log.Debug().Int64("user_id", userID).Err(err).Msg("Dropping dead websocket connection")
			h.unregister(userID, conn)
			conn.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

func (h *Hub) register(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Hub) unregister(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}
