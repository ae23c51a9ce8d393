package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mcpwire/mcpd/pkg/bufpool"
	"github.com/mcpwire/mcpd/pkg/framing"
)

// stdioTransport frames messages over an arbitrary reader/writer pair.
// It backs both `mcpd serve --transport stdio` (stdin/stdout) and
// stdio:/path addresses, where the peer is a spawned subprocess.
type stdioTransport struct {
	r          io.Reader
	w          io.Writer
	closer     func() error
	pool       *bufpool.Pool
	maxPayload uint32

	writeMu sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
}

// NewStdio creates a stdio transport over the given reader and writer.
// closer, when non-nil, is invoked once on Stop; when nil, Stop closes
// the reader directly if it implements io.Closer so the receive loop
// can finish.
func NewStdio(r io.Reader, w io.Writer, closer func() error, opts ...Option) Transport {
	cfg := applyOptions(opts)
	return &stdioTransport{
		r:          r,
		w:          w,
		closer:     closer,
		pool:       bufpool.New(cfg.bufferSize),
		maxPayload: cfg.maxPayload,
		done:       make(chan struct{}),
	}
}

// NewProcessStdio creates a stdio transport over the current process's
// stdin and stdout. This is the server side of stdio transport.
func NewProcessStdio(opts ...Option) Transport {
	return NewStdio(os.Stdin, os.Stdout, nil, opts...)
}

// dialStdioCommand spawns the target binary and frames messages over its
// stdin/stdout.
func dialStdioCommand(ctx context.Context, command string, cfg options) (Transport, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty stdio command")
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdio transport: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", parts[0], err)
	}
	closer := func() error {
		stdin.Close()
		return cmd.Wait()
	}
	t := NewStdio(stdout, stdin, closer,
		WithMaxPayload(cfg.maxPayload), WithBufferSize(cfg.bufferSize))
	return t, nil
}

func (t *stdioTransport) Protocol() Protocol { return ProtocolStdio }

func (t *stdioTransport) Start(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go t.receiveLoop(ctx, onMessage, onError)
	return nil
}

func (t *stdioTransport) receiveLoop(ctx context.Context, onMessage MessageCallback, onError ErrorCallback) {
	defer close(t.done)

	buf := t.pool.Get()
	defer t.pool.Put(buf)

	for {
		payload, grown, err := framing.ReadFrameInto(t.r, buf, t.maxPayload)
		buf = grown
		if err != nil {
			if t.closed.Load() || ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(fmt.Errorf("stdio receive: %w", err))
			}
			return
		}
		if reply := onMessage(payload); reply != nil {
			if err := t.Send(reply); err != nil && onError != nil {
				onError(err)
				return
			}
		}
	}
}

func (t *stdioTransport) Send(payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return framing.WriteFrame(t.w, payload)
}

func (t *stdioTransport) Stop(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if t.closer != nil {
		err = t.closer()
	} else if c, ok := t.r.(io.Closer); ok {
		// The receive loop may be parked in a blocking read; closing
		// the reader is the only way to unpark it.
		err = c.Close()
	}
	if t.started.Load() {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Connected reports liveness; for stdio the pipe is assumed healthy until
// closed.
func (t *stdioTransport) Connected() bool { return !t.closed.Load() }
