package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satindergrewal/livewave/internal/audio"
)

const writeWait = 5 * time.Second

// Controller is the part of the engine a websocket client may drive.
type Controller interface {
	SetFormula(ctx context.Context, text string) error
	Play(ctx context.Context) error
	Pause() error
	Seek(position float64) float64
}

// Command is a control message sent by a websocket client.
type Command struct {
	Type     string  `json:"type"` // formula, play, pause or seek
	Formula  string  `json:"formula,omitempty"`
	Position float64 `json:"position,omitempty"`
}

// Reply reports a failed command back to its client.
type Reply struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// WSHandler pushes engine notifications to browsers and accepts control
// commands on the same socket.
type WSHandler struct {
	broadcaster *Broadcaster[audio.Notification]
	control     Controller
	log         *zap.Logger
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects conn writes
}

func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// NewWSHandler creates a websocket endpoint fed by b.
func NewWSHandler(b *Broadcaster[audio.Notification], control Controller, log *zap.Logger) *WSHandler {
	return &WSHandler{
		broadcaster: b,
		control:     control,
		log:         log.With(zap.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// ClientCount returns the number of connected sockets.
func (h *WSHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	log := h.log.With(zap.String("client", id))
	log.Info("client connected", zap.Int("clients", h.ClientCount()))

	listener := h.broadcaster.Subscribe()
	defer func() {
		h.broadcaster.Unsubscribe(listener)
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		conn.Close()
		log.Info("client disconnected")
	}()

	go func() {
		for {
			select {
			case <-listener.Done():
				return
			case n := <-listener.C:
				if err := c.send(n); err != nil {
					log.Debug("write failed", zap.Error(err))
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if err := h.apply(r.Context(), cmd); err != nil {
			log.Debug("command failed", zap.String("type", cmd.Type), zap.Error(err))
			if err := c.send(Reply{Kind: "error", Reason: err.Error()}); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case "formula":
		return h.control.SetFormula(ctx, cmd.Formula)
	case "play":
		return h.control.Play(ctx)
	case "pause":
		return h.control.Pause()
	case "seek":
		h.control.Seek(cmd.Position)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}
