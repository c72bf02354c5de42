package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub()

	c1, err := h.Register(1, nil)
	require.NoError(t, err)
	c2, err := h.Register(1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Connections(1))

	h.UnregisterClient(c1)
	h.UnregisterClient(c1)
	assert.Equal(t, 1, h.Connections(1))

	_, open := <-c1.Send
	assert.False(t, open, "unregister closes the send channel")

	h.UnregisterClient(c2)
	assert.Equal(t, 0, h.Connections(1))
}

func TestHub_PerUserLimit(t *testing.T) {
	h := NewHub()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := h.Register(7, nil)
		require.NoError(t, err)
	}
	_, err := h.Register(7, nil)
	assert.EqualError(t, err, "user connection limit reached")

	_, err = h.Register(8, nil)
	assert.NoError(t, err, "the limit is per user")
}

func TestHub_DeliverOnlyToOwner(t *testing.T) {
	h := NewHub()
	mine, _ := h.Register(1, nil)
	other, _ := h.Register(2, nil)

	assert.Equal(t, 1, h.Deliver(1, []byte("hello")))
	assert.Equal(t, 0, h.Deliver(3, []byte("nobody")))

	assert.Equal(t, []byte("hello"), <-mine.Send)
	assert.Empty(t, other.Send)
}

func TestClient_TrySendNeverBlocks(t *testing.T) {
	h := NewHub()
	c, _ := h.Register(1, nil)
	for i := 0; i < cap(c.Send)+5; i++ {
		c.TrySend([]byte("x"))
	}
	assert.Len(t, c.Send, cap(c.Send))

	h.UnregisterClient(c)
	assert.NotPanics(t, func() { c.TrySend([]byte("late")) })
}

func TestHub_RunRelaysNotifications(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewHub()
	c, _ := h.Register(42, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, rdb) }()

	n := NewNotifier(rdb)
	var got Notification
	require.Eventually(t, func() bool {
		if err := n.Notify(ctx, 42, Notification{Kind: KindRequestApproved, Title: "Standing approved"}); err != nil {
			return false
		}
		select {
		case raw := <-c.Send:
			return json.Unmarshal(raw, &got) == nil
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, KindRequestApproved, got.Kind)

	cancel()
	assert.NoError(t, <-done)
}

func TestHub_RunWithoutRedis(t *testing.T) {
	assert.NoError(t, NewHub().Run(context.Background(), nil))
}

func TestUserFromChannel(t *testing.T) {
	id, ok := userFromChannel("notifications:user:15")
	assert.True(t, ok)
	assert.Equal(t, uint(15), id)

	for _, ch := range []string{"notifications:user:", "notifications:user:abc", "notifications:user:0", "other:15"} {
		_, ok := userFromChannel(ch)
		assert.False(t, ok, ch)
	}
}

type frame struct {
	kind int
	data []byte
}

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	frames []frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame{kind: kind, data: data})
	return nil
}

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error                      { f.once.Do(func() { close(f.closed) }); return nil }
func (f *fakeConn) written() []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame(nil), f.frames...)
}

func TestClient_WritePumpReportsDrops(t *testing.T) {
	h := NewHub()
	conn := newFakeConn()
	c, err := h.Register(1, conn)
	require.NoError(t, err)

	for i := 0; i < cap(c.Send)+3; i++ {
		c.TrySend([]byte(`{"kind":"request_approved"}`))
	}

	done := make(chan struct{})
	go func() { c.WritePump(); close(done) }()
	h.UnregisterClient(c)
	<-done

	frames := conn.written()
	require.Len(t, frames, cap(c.Send)+2, "drop notice, buffered messages, close frame")

	var notice Notification
	require.NoError(t, json.Unmarshal(frames[0].data, &notice))
	assert.Equal(t, KindDropped, notice.Kind)
	assert.Equal(t, int64(3), notice.Count)
	assert.Equal(t, websocket.CloseMessage, frames[len(frames)-1].kind)
}

func TestClient_ReadPumpUnregistersOnClose(t *testing.T) {
	h := NewHub()
	conn := newFakeConn()
	c, err := h.Register(5, conn)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { c.ReadPump(); close(done) }()
	_ = conn.Close()
	<-done

	assert.Equal(t, 0, h.Connections(5))
}
