// Package transport implements a streamable JSON-RPC 2.0 server over
// plain HTTP and Server-Sent Events. A POST carries one message or a
// batch; responses come back on the same HTTP exchange (buffered JSON or
// an SSE stream, per the Accept header). A GET opens a standalone SSE
// stream for server pushes. Sessions group streams under an opaque token
// carried in a header, and a background reaper closes idle streams.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionHeader carries the session token on every exchange.
const DefaultSessionHeader = "mcp-session-id"

// syntheticSessionID groups connections when session management is off.
const syntheticSessionID = "stateless"

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("transport: closed")

// MessageHandler receives every decoded inbound message. Returned errors
// are logged and reported through Options.OnError; they never abort the
// dispatch of sibling messages in the same batch.
type MessageHandler func(ctx context.Context, msg Message, sessionID string) error

// Options configures the transport.
type Options struct {
	// SessionHeader names the HTTP header carrying the session token.
	// Defaults to DefaultSessionHeader.
	SessionHeader string

	// EnableSessions turns on session management: the first POST without
	// a token mints a session, and later requests must present it.
	EnableSessions bool

	// MaxBodyBytes caps POST bodies. Oversized requests are rejected
	// before parsing. Defaults to 4 MiB.
	MaxBodyBytes int64

	// IdleTimeout is how long an SSE connection may sit without
	// activity before the reaper closes it. Defaults to 5 minutes.
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper sweeps. Defaults to 30 s.
	ReapInterval time.Duration

	// OnError, if non-nil, receives handler and dispatch errors.
	OnError func(error)

	// OnClose, if non-nil, fires exactly once when the transport closes.
	OnClose func()

	// Logger for transport events. Nil falls back to slog.Default().
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.SessionHeader == "" {
		o.SessionHeader = DefaultSessionHeader
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 4 << 20
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// session groups the SSE connections opened under one token. It is a
// routing construct only; it holds no request state.
type session struct {
	id    string
	conns map[*sseConn]struct{}
}

// waiter receives responses for the pending request ids of one POST.
// setExpect is called under the transport lock before any delivery can
// occur, so implementations may treat it as happens-before deliver.
type waiter interface {
	setExpect(n int)
	deliver(Message)
}

// pendingEntry links a request id to the HTTP exchange awaiting its reply.
type pendingEntry struct {
	sessionID string
	waiter    waiter
}

// Transport is the JSON-RPC over HTTP/SSE server. It implements
// http.Handler for POST, GET, and DELETE on its mount point.
type Transport struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	handler  MessageHandler
	sessions map[string]*session
	pending  map[string]pendingEntry
	closed   bool

	reapStop  chan struct{}
	reapDone  chan struct{}
	closeOnce sync.Once
}

// Compile-time check.
var _ http.Handler = (*Transport)(nil)

// New creates a transport and starts its idle-connection reaper.
func New(opts Options) *Transport {
	opts.defaults()
	t := &Transport{
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*session),
		pending:  make(map[string]pendingEntry),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	go t.reapLoop()
	return t
}

// RegisterHandler binds the message handler. Must be called before the
// first request is served; messages arriving with no handler bound are
// reported through OnError.
func (t *Transport) RegisterHandler(h MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// ServeHTTP routes by method. Every verb fails fast with 503 once the
// transport has closed.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost implements the message-ingestion state machine: size cap,
// parse, session resolution, batch validation, pending registration,
// dispatch, and response delivery.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > t.opts.MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}

	// Parse before touching any session state: malformed JSON never
	// opens a session.
	msgs, isBatch, err := splitBatch(body)
	if err != nil {
		if errors.Is(err, errNotJSON) {
			writeJSONRPCError(w, http.StatusBadRequest,
				NewError(nil, CodeParseError, "parse error", nil))
			return
		}
		writeJSONRPCError(w, http.StatusBadRequest,
			NewError(nil, CodeInvalidRequest, "invalid request", nil))
		return
	}

	sessionID, ok := t.resolveSession(w, r)
	if !ok {
		return
	}

	// Batch validity is all-or-nothing: one malformed sibling rejects
	// every message in the payload.
	for _, m := range msgs {
		if !m.Valid() {
			writeJSONRPCError(w, http.StatusBadRequest,
				NewError(nil, CodeInvalidRequest, "invalid request", nil))
			return
		}
	}

	var requests []Message
	for _, m := range msgs {
		if m.IsRequest() {
			requests = append(requests, m)
		}
	}

	wantsSSE := acceptsEventStream(r)

	// Nothing will ever resolve a pending entry for a payload with no
	// requests, so acknowledge and finish immediately after dispatch.
	if len(requests) == 0 {
		t.dispatchAll(r.Context(), msgs, sessionID)
		if wantsSSE {
			conn, err := newSSEConn(w)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_ = conn.writeEvent("accepted", []byte("{}"))
			conn.close()
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if wantsSSE {
		t.servePostSSE(w, r, msgs, requests, sessionID)
		return
	}
	t.servePostJSON(w, r, msgs, requests, sessionID, isBatch)
}

// servePostJSON handles a POST whose caller expects a buffered JSON
// reply: register a waiter per request id, dispatch, then block until
// every response has arrived (or the client goes away).
func (t *Transport) servePostJSON(w http.ResponseWriter, r *http.Request, msgs, requests []Message, sessionID string, isBatch bool) {
	jw := &jsonWaiter{done: make(chan struct{})}
	t.registerPending(requests, sessionID, jw)

	t.dispatchAll(r.Context(), msgs, sessionID)

	select {
	case <-jw.done:
	case <-r.Context().Done():
		// Client gone; any unresolved entries are cleaned up by a later
		// send, a session delete, or transport shutdown.
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if isBatch {
		_ = writeJSON(w, jw.snapshot())
		return
	}
	replies := jw.snapshot()
	if len(replies) > 0 {
		_ = writeJSON(w, replies[0])
	}
}

// servePostSSE handles a POST whose caller negotiated an event stream on
// the same HTTP response: responses are framed as SSE events as they
// arrive, and the stream closes once the last request is answered.
func (t *Transport) servePostSSE(w http.ResponseWriter, r *http.Request, msgs, requests []Message, sessionID string) {
	conn, err := newSSEConn(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.addConn(sessionID, conn)
	defer t.removeConn(sessionID, conn)

	sw := &sseWaiter{conn: conn}
	t.registerPending(requests, sessionID, sw)

	t.dispatchAll(r.Context(), msgs, sessionID)

	select {
	case <-conn.done:
	case <-r.Context().Done():
		conn.close()
	}
}

// registerPending creates one pending entry per unique request id and
// tells the waiter how many responses to expect, all under the same lock
// that Send takes to resolve entries — no response can race the count.
// A duplicate id already in flight is replaced; its previous waiter will
// simply never hear back, the stale side of a client bug.
func (t *Transport) registerPending(requests []Message, sessionID string, wt waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]struct{}, len(requests))
	for _, req := range requests {
		key := idKey(req.ID)
		if prev, dup := t.pending[key]; dup {
			t.logger.Warn("duplicate request id in flight, replacing waiter",
				"id", key, "session", prev.sessionID)
		}
		t.pending[key] = pendingEntry{sessionID: sessionID, waiter: wt}
		seen[key] = struct{}{}
	}
	wt.setExpect(len(seen))
}

// handleGet opens a standalone SSE stream bound to an existing session
// (or the synthetic one when session management is off).
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		http.Error(w, "this endpoint requires Accept: text/event-stream", http.StatusNotAcceptable)
		return
	}

	var sessionID string
	if t.opts.EnableSessions {
		sessionID = r.Header.Get(t.opts.SessionHeader)
		if sessionID == "" || !t.sessionExists(sessionID) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	} else {
		sessionID = syntheticSessionID
		t.ensureSession(sessionID)
	}

	conn, err := newSSEConn(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	t.addConn(sessionID, conn)
	defer t.removeConn(sessionID, conn)

	// Comment line defeats buffering in intermediaries.
	conn.comment("connected")

	select {
	case <-conn.done:
	case <-r.Context().Done():
		conn.close()
	}
}

// handleDelete tears a session down: every SSE connection is closed, every
// pending response still bound to the session is resolved with an error,
// and the session is removed. A deleted session leaves no dangling waiters.
func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !t.opts.EnableSessions {
		http.Error(w, "session management disabled", http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.Header.Get(t.opts.SessionHeader)
	if sessionID == "" {
		http.Error(w, "missing session header", http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	if !ok {
		t.mu.Unlock()
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	delete(t.sessions, sessionID)
	conns := make([]*sseConn, 0, len(sess.conns))
	for c := range sess.conns {
		conns = append(conns, c)
	}
	type orphan struct {
		id string
		pendingEntry
	}
	var orphans []orphan
	for key, entry := range t.pending {
		if entry.sessionID == sessionID {
			orphans = append(orphans, orphan{key, entry})
			delete(t.pending, key)
		}
	}
	t.mu.Unlock()

	for _, o := range orphans {
		id := json.RawMessage(o.id)
		o.waiter.deliver(NewError(&id, CodeTransportClosed, "session deleted", nil))
	}
	for _, c := range conns {
		c.close()
	}

	t.logger.Info("session deleted", "session", sessionID,
		"connections", len(conns), "pending_resolved", len(orphans))
	w.WriteHeader(http.StatusOK)
}

// Send delivers an outbound message. Responses are routed to the pending
// waiter for their request id and the entry is removed; a response with no
// waiter (timed out, already answered, stale) is dropped with a warning —
// a duplicate send is a no-op, not an error. Everything else is broadcast
// to every open SSE connection across every session.
func (t *Transport) Send(msg Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}

	if msg.IsResponse() {
		key := idKey(msg.ID)
		entry, ok := t.pending[key]
		if !ok {
			t.mu.Unlock()
			t.logger.Warn("no pending request for response, dropping", "id", key)
			return nil
		}
		delete(t.pending, key)
		t.mu.Unlock()
		entry.waiter.deliver(msg)
		return nil
	}

	// Notification / server push: broadcast.
	var conns []*sseConn
	for _, sess := range t.sessions {
		for c := range sess.conns {
			conns = append(conns, c)
		}
	}
	t.mu.Unlock()

	for _, c := range conns {
		if err := c.send(msg); err != nil {
			t.logger.Debug("broadcast to closed connection", "error", err)
		}
	}
	return nil
}

// Close shuts the transport down: the reaper stops, every pending request
// is resolved with a transport-closed error, every connection is closed,
// state is cleared, and the close callback fires exactly once. Public
// operations fail fast afterwards.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.reapStop)
		<-t.reapDone

		t.mu.Lock()
		t.closed = true
		orphaned := t.pending
		t.pending = make(map[string]pendingEntry)
		var conns []*sseConn
		for _, sess := range t.sessions {
			for c := range sess.conns {
				conns = append(conns, c)
			}
		}
		t.sessions = make(map[string]*session)
		t.mu.Unlock()

		for key, entry := range orphaned {
			id := json.RawMessage(key)
			entry.waiter.deliver(NewError(&id, CodeTransportClosed, "transport closed", nil))
		}
		for _, c := range conns {
			c.close()
		}

		t.logger.Info("transport closed", "pending_resolved", len(orphaned), "connections_closed", len(conns))
		if t.opts.OnClose != nil {
			t.opts.OnClose()
		}
	})
}

// Stats is a point-in-time view of transport state for health reporting.
type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
	Pending     int `json:"pending"`
}

// Stats reports current session, connection, and pending-request counts.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Sessions: len(t.sessions), Pending: len(t.pending)}
	for _, sess := range t.sessions {
		s.Connections += len(sess.conns)
	}
	return s
}

// resolveSession applies the POST session rules: with sessions enabled, a
// missing token mints a new session (returned via the session header) and
// an unknown token is a 404; with sessions disabled, everything shares the
// synthetic session.
func (t *Transport) resolveSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !t.opts.EnableSessions {
		t.ensureSession(syntheticSessionID)
		return syntheticSessionID, true
	}

	token := r.Header.Get(t.opts.SessionHeader)
	if token == "" {
		token = uuid.NewString()
		t.ensureSession(token)
		w.Header().Set(t.opts.SessionHeader, token)
		t.logger.Debug("session created", "session", token)
		return token, true
	}
	if !t.sessionExists(token) {
		http.Error(w, "session not found", http.StatusNotFound)
		return "", false
	}
	return token, true
}

func (t *Transport) ensureSession(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[id]; !ok {
		t.sessions[id] = &session{id: id, conns: make(map[*sseConn]struct{})}
	}
}

func (t *Transport) sessionExists(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[id]
	return ok
}

func (t *Transport) addConn(sessionID string, c *sseConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.sessions[sessionID]; ok {
		sess.conns[c] = struct{}{}
	}
}

func (t *Transport) removeConn(sessionID string, c *sseConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sess, ok := t.sessions[sessionID]; ok {
		delete(sess.conns, c)
	}
}

// dispatchAll forwards messages to the handler in receipt order. Handler
// errors and panics are contained per message: siblings still dispatch.
func (t *Transport) dispatchAll(ctx context.Context, msgs []Message, sessionID string) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()

	for _, m := range msgs {
		if h == nil {
			t.reportError(fmt.Errorf("transport: no message handler registered (method %q)", m.Method))
			continue
		}
		t.dispatchOne(ctx, h, m, sessionID)
	}
}

func (t *Transport) dispatchOne(ctx context.Context, h MessageHandler, m Message, sessionID string) {
	defer func() {
		if rec := recover(); rec != nil {
			t.reportError(fmt.Errorf("transport: handler panic on method %q: %v", m.Method, rec))
		}
	}()
	if err := h(ctx, m, sessionID); err != nil {
		t.reportError(fmt.Errorf("transport: handler error on method %q: %w", m.Method, err))
	}
}

func (t *Transport) reportError(err error) {
	t.logger.Error("dispatch failed", "error", err)
	if t.opts.OnError != nil {
		t.opts.OnError(err)
	}
}

// reapLoop closes SSE connections idle past the threshold. It removes
// connections only — never sessions — and runs concurrently with request
// handling, so the sweep snapshots victims under the lock and closes them
// outside it.
func (t *Transport) reapLoop() {
	defer close(t.reapDone)
	ticker := time.NewTicker(t.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reapStop:
			return
		case now := <-ticker.C:
			var victims []*sseConn
			t.mu.Lock()
			for _, sess := range t.sessions {
				for c := range sess.conns {
					if c.idleSince(now) > t.opts.IdleTimeout {
						delete(sess.conns, c)
						victims = append(victims, c)
					}
				}
			}
			t.mu.Unlock()

			for _, c := range victims {
				c.close()
			}
			if len(victims) > 0 {
				t.logger.Info("reaped idle connections", "count", len(victims))
			}
		}
	}
}

// acceptsEventStream reports whether the caller negotiated SSE.
func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// jsonWaiter collects buffered responses for a plain-HTTP POST. done is
// closed when every expected response has arrived.
type jsonWaiter struct {
	mu      sync.Mutex
	expect  int
	replies []Message
	done    chan struct{}
}

func (w *jsonWaiter) setExpect(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expect = n
}

func (w *jsonWaiter) deliver(m Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replies = append(w.replies, m)
	if len(w.replies) == w.expect {
		close(w.done)
	}
}

func (w *jsonWaiter) snapshot() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.replies))
	copy(out, w.replies)
	return out
}

// sseWaiter streams responses for an SSE-negotiated POST and closes the
// stream once the last one is out.
type sseWaiter struct {
	conn      *sseConn
	remaining atomic.Int32
}

func (w *sseWaiter) setExpect(n int) {
	w.remaining.Store(int32(n))
}

func (w *sseWaiter) deliver(m Message) {
	// A send to a stream the client already abandoned is dropped, which
	// matches the buffered path when a client disconnects mid-wait.
	_ = w.conn.send(m)
	if w.remaining.Add(-1) <= 0 {
		w.conn.close()
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func writeJSONRPCError(w http.ResponseWriter, status int, msg Message) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, msg)
}
