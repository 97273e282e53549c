package miio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Helper protocol operations.
const (
	opPing  = "ping"
	opTypes = "types"
	opCall  = "call"
)

// helperRequest is one line written to the helper's stdin.
type helperRequest struct {
	ID   uint64       `json:"id"`
	Op   string       `json:"op"`
	Call *CallRequest `json:"call,omitempty"`
}

// helperResponse is one line read from the helper's stdout.
type helperResponse struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Fault          `json:"error,omitempty"`
}

// helperConn multiplexes requests over the helper's stdio. Each (re)started
// helper process is a new generation; requests pending against an older
// generation fail with ErrHelperExited.
type helperConn struct {
	mu      sync.Mutex
	stdin   io.WriteCloser
	gen     uint64
	nextID  uint64
	pending map[uint64]chan helperResponse

	logger Logger
}

func newHelperConn(logger Logger) *helperConn {
	return &helperConn{
		pending: make(map[uint64]chan helperResponse),
		logger:  logger,
	}
}

// attach binds a freshly started helper. It is the process manager's
// OnStdio hook.
func (c *helperConn) attach(stdin io.WriteCloser, stdout io.Reader) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.stdin != nil {
		_ = c.stdin.Close() //nolint:errcheck // previous helper is gone
	}
	c.stdin = stdin
	c.failPendingLocked()
	c.mu.Unlock()

	go c.readLoop(gen, stdout)
}

// attached reports whether a helper is currently bound.
func (c *helperConn) attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdin != nil
}

// busy reports whether any request is awaiting a response.
func (c *helperConn) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// close detaches the current helper and fails pending requests.
func (c *helperConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin != nil {
		_ = c.stdin.Close() //nolint:errcheck // process is going away
		c.stdin = nil
	}
	c.gen++
	c.failPendingLocked()
}

func (c *helperConn) failPendingLocked() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// roundTrip sends one request and waits for its response. When ctx ends
// first the request is abandoned: the helper still runs it and the late
// response is dropped.
func (c *helperConn) roundTrip(ctx context.Context, op string, call *CallRequest) (helperResponse, error) {
	c.mu.Lock()
	if c.stdin == nil {
		c.mu.Unlock()
		return helperResponse{}, ErrNotRunning
	}
	c.nextID++
	id := c.nextID
	line, err := json.Marshal(helperRequest{ID: id, Op: op, Call: call})
	if err != nil {
		c.mu.Unlock()
		return helperResponse{}, fmt.Errorf("encoding %s request: %w", op, err)
	}
	ch := make(chan helperResponse, 1)
	c.pending[id] = ch
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return helperResponse{}, fmt.Errorf("%w: writing request: %v", ErrHelperExited, err)
	}
	c.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return helperResponse{}, ErrHelperExited
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return helperResponse{}, ctx.Err()
	}
}

// readLoop delivers responses until the helper's stdout closes.
func (c *helperConn) readLoop(gen uint64, stdout io.Reader) {
	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			c.deliver(line)
		}
		if err != nil {
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.stdin = nil
	c.failPendingLocked()
}

func (c *helperConn) deliver(line []byte) {
	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil || resp.ID == 0 {
		if c.logger != nil {
			c.logger.Warn("discarding helper output", "error", fmt.Errorf("%w: %s", ErrProtocol, truncate(line, 200)))
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
