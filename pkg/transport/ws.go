package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// wsTransport carries one JSON payload per binary WebSocket message.
// WebSocket does its own message boundaries, so the stream framing
// prefix is not used here.
type wsTransport struct {
	conn *websocket.Conn

	maxPayload uint32
	started    atomic.Bool
	closed     atomic.Bool
	done       chan struct{}

	// sendCtx bounds individual writes once the receive loop owns ctx.
	sendCtx context.Context
}

func dialWebSocket(ctx context.Context, url string, cfg options) (Transport, error) {
	opts := &websocket.DialOptions{}
	if cfg.authToken != "" {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+cfg.authToken)
		opts.HTTPHeader = h
	}
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	maxPayload := cfg.maxPayload
	if maxPayload == 0 {
		maxPayload = 16 << 20
	}
	conn.SetReadLimit(int64(maxPayload))
	return &wsTransport{
		conn:       conn,
		maxPayload: maxPayload,
		done:       make(chan struct{}),
		sendCtx:    context.Background(),
	}, nil
}

func (t *wsTransport) Protocol() Protocol { return ProtocolWebSocket }

func (t *wsTransport) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	t.sendCtx = ctx
	go t.receiveLoop(ctx, onMessage, onError)
	return nil
}

func (t *wsTransport) receiveLoop(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) {
	defer close(t.done)
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			if t.closed.Load() || ctx.Err() != nil {
				return
			}
			t.closed.Store(true)
			if onError != nil {
				onError(fmt.Errorf("websocket receive: %w", err))
			}
			return
		}
		if reply := onMessage(data); reply != nil {
			if err := t.Send(reply); err != nil && onError != nil {
				onError(err)
				return
			}
		}
	}
}

func (t *wsTransport) Send(payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(t.sendCtx, 30*time.Second)
	defer cancel()
	if err := t.conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

func (t *wsTransport) Stop(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close(websocket.StatusNormalClosure, "client shutdown")
	if t.started.Load() {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Connected pings the peer with a short deadline; the WebSocket layer is
// the authority on link health.
func (t *wsTransport) Connected() bool {
	if t.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return t.conn.Ping(ctx) == nil
}
