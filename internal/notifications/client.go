package notifications

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"standings/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Streams are server to client; peers only send control frames.
	maxMessageSize = 512

	sendBuffer = 64
)

// KindDropped tells a client that notifications were lost and it should re-fetch its
// requests and synced characters.
const KindDropped Kind = "notifications_dropped"

// Conn is the part of a websocket connection the pumps use. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one open notification stream of a user.
type Client struct {
	Hub    *Hub
	Conn   Conn
	Send   chan []byte
	UserID uint

	// dropped counts notifications lost to a full buffer since the last drop notice.
	dropped atomic.Int64
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump drains the connection so pongs and close frames are processed. It returns when
// the peer goes away and unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("notification stream read error", "user_id", c.UserID, "error", err)
			}
			return
		}
	}
}

// WritePump writes queued notifications and keepalive pings until the send channel closes or
// a write fails. A drop notice goes out ahead of the next notification after any loss.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if notice := c.dropNotice(); notice != nil {
				if err := c.Conn.WriteMessage(websocket.TextMessage, notice); err != nil {
					return
				}
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dropNotice() []byte {
	n := c.dropped.Swap(0)
	if n == 0 {
		return nil
	}
	raw, _ := json.Marshal(Notification{
		Kind:      KindDropped,
		Title:     "Notifications dropped",
		Message:   "Some notifications were not delivered; refresh to see the current state.",
		Count:     n,
		CreatedAt: time.Now().UTC(),
	})
	return raw
}

// TrySend queues message without blocking. When the buffer is full the message is dropped and
// counted; sending on a closed client is a no-op.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		c.dropped.Add(1)
		observability.WebSocketBackpressureDrops.WithLabelValues("full").Inc()
		slog.Warn("notification buffer full, dropped message", "user_id", c.UserID)
	}
}
