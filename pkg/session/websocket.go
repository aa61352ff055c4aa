package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bitechdev/tagstream/pkg/logger"
)

// WebSocketOptions tunes keep-alive and write behaviour
type WebSocketOptions struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	ReadLimit    int64
}

func (o *WebSocketOptions) applyDefaults() {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
}

// WebSocketTransport adapts a gorilla websocket connection to Transport.
// A read pump answers pongs and notices when the client goes away; a ping
// pump keeps idle connections alive. Writes are serialized.
type WebSocketTransport struct {
	id   string
	conn *websocket.Conn
	opts WebSocketOptions

	writeMu   sync.Mutex
	state     atomic.Int32
	closeSent atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
	startOnce sync.Once
}

// NewWebSocketTransport wraps an upgraded connection. Call Start before use.
func NewWebSocketTransport(conn *websocket.Conn, opts WebSocketOptions) *WebSocketTransport {
	opts.applyDefaults()
	t := &WebSocketTransport{
		id:   uuid.New().String(),
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	t.state.Store(int32(StateConnecting))
	return t
}

// Start marks the transport connected and launches the read and ping pumps
func (t *WebSocketTransport) Start() {
	t.startOnce.Do(func() {
		t.state.Store(int32(StateConnected))
		go t.readPump()
		go t.pingPump()
	})
}

func (t *WebSocketTransport) ID() string { return t.id }

func (t *WebSocketTransport) State() State { return State(t.state.Load()) }

func (t *WebSocketTransport) Done() <-chan struct{} { return t.done }

func (t *WebSocketTransport) SendJSON(v interface{}) error {
	if t.State() != StateConnected {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := t.conn.WriteJSON(v); err != nil {
		if isClosing(err) {
			t.markClosed()
			return fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return err
	}
	return nil
}

func (t *WebSocketTransport) Close(code int, reason string) error {
	if !t.closeSent.CompareAndSwap(false, true) {
		return ErrTransportClosed
	}
	wasOpen := t.State() == StateConnected
	t.state.Store(int32(StateDisconnected))

	var err error
	if wasOpen {
		t.writeMu.Lock()
		err = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(t.opts.WriteTimeout))
		t.writeMu.Unlock()
	}

	t.markClosed()
	if err != nil && isClosing(err) {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return err
}

// markClosed releases the socket and signals Done exactly once
func (t *WebSocketTransport) markClosed() {
	t.doneOnce.Do(func() {
		t.state.Store(int32(StateDisconnected))
		_ = t.conn.Close()
		close(t.done)
	})
}

func (t *WebSocketTransport) readPump() {
	defer t.markClosed()

	t.conn.SetReadLimit(t.opts.ReadLimit)
	_ = t.conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	})

	for {
		// Client messages carry nothing for us; reading drives pong and close handling
		if _, _, err := t.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !t.closeSent.Load() {
				logger.Debug("[Session] Connection %s read error: %v", t.id, err)
			}
			return
		}
	}
}

func (t *WebSocketTransport) pingPump() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.markClosed()
				return
			}
		case <-t.done:
			return
		}
	}
}

// isClosing reports errors that mean the connection is going or gone
func isClosing(err error) bool {
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
