package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// sseConn is one open Server-Sent-Events stream. It may back a standalone
// GET stream or the response side of a POST whose caller negotiated SSE.
// Writes are serialized by mu; lastActivity feeds the idle reaper.
type sseConn struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	flusher      http.Flusher
	lastActivity atomic.Int64 // unix nanos
	done         chan struct{}
	closeOnce    sync.Once
}

// newSSEConn writes the SSE response headers and returns a live
// connection, or an error when the ResponseWriter cannot stream.
func newSSEConn(w http.ResponseWriter) (*sseConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &sseConn{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
	c.touch()
	return c, nil
}

// send frames a message as an SSE event and flushes it.
func (c *sseConn) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("transport: marshal sse event: %w", err)
	}
	return c.writeEvent("message", data)
}

// writeEvent emits one framed event. Event name defaults to "message".
func (c *sseConn) writeEvent(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("transport: connection closed")
	default:
	}

	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.flusher.Flush()
	c.touch()
	return nil
}

// comment emits an SSE comment line. Used on stream open to defeat
// intermediary buffering.
func (c *sseConn) comment(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, ": %s\n\n", text)
	c.flusher.Flush()
	c.touch()
}

// close marks the connection finished, releasing any goroutine blocked in
// wait. Idempotent.
func (c *sseConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *sseConn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *sseConn) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastActivity.Load()))
}
