// Package stream owns the persistent websocket connection and multiplexes
// any number of request/response subscriptions over it. One reader
// goroutine demultiplexes inbound frames by subscription id; outbound
// frames go through a single writer goroutine so they never interleave.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voralbrecht/trtimeline/internal/wire"
)

// Options configures Dial.
type Options struct {
	URL              string
	Origin           string
	UserAgent        string
	SessionToken     string
	ProtocolVersion  int
	Handshake        wire.Handshake
	HandshakeTimeout time.Duration

	// NetDialTLSContext overrides the TLS dial (utls fingerprint). Nil
	// falls back to the default websocket dialer TLS.
	NetDialTLSContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

type subState int

const (
	statePending subState = iota
	stateOpen
	stateClosing
	stateClosed
)

type result struct {
	payload json.RawMessage
	err     error
}

// Subscription is one logical request on the stream. Its result channel
// is written once by the reader and consumed by exactly one awaiter.
type Subscription struct {
	id     uint32
	topic  string
	state  subState // guarded by Mux.mu
	result chan result
}

// ID returns the wire subscription id.
func (s *Subscription) ID() uint32 { return s.id }

// Mux is the stream multiplexer. All methods are safe for concurrent use.
type Mux struct {
	conn   *websocket.Conn
	connID string
	token  string

	mu     sync.Mutex
	subs   map[uint32]*Subscription
	nextID uint32

	writeCh  chan []byte
	closed   chan struct{}
	closeErr error
	closeOne sync.Once

	readerDone chan struct{}
	writerDone chan struct{}
}

// Dial opens the websocket, performs the connect handshake and starts the
// reader and writer. It fails if no "connected" frame arrives within the
// handshake deadline.
func Dial(ctx context.Context, opts Options) (*Mux, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout:  opts.HandshakeTimeout,
		NetDialTLSContext: opts.NetDialTLSContext,
	}

	header := http.Header{}
	header.Set("User-Agent", opts.UserAgent)
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	if opts.SessionToken != "" {
		header.Set("Cookie", "tr_session="+opts.SessionToken)
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &Error{Kind: KindAuthRejected, Err: err}
		}
		return nil, &Error{Kind: KindTransport, Err: fmt.Errorf("dial %s: %w", opts.URL, err)}
	}

	m := &Mux{
		conn:       conn,
		connID:     uuid.New().String(),
		token:      opts.SessionToken,
		subs:       make(map[uint32]*Subscription),
		writeCh:    make(chan []byte, 16),
		closed:     make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	if err := m.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}

	go m.readLoop()
	go m.writeLoop()

	slog.Info("stream ready", "connId", m.connID)
	return m, nil
}

// handshake sends the connect frame and waits for "connected". Runs
// before the reader starts, so it owns the connection reads.
func (m *Mux) handshake(opts Options) error {
	frame, err := wire.EncodeConnect(opts.ProtocolVersion, opts.Handshake)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("send connect: %w", err)}
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	if err := m.conn.SetReadDeadline(deadline); err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}

	for {
		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &Error{Kind: KindTimeout, Err: fmt.Errorf("no connected frame within %s", opts.HandshakeTimeout)}
			}
			return &Error{Kind: KindTransport, Err: fmt.Errorf("handshake read: %w", err)}
		}

		f, err := wire.Decode(msg)
		if err != nil {
			slog.Warn("dropping undecodable handshake frame", "connId", m.connID, "error", err)
			continue
		}
		switch f.Kind {
		case wire.Connected:
			_ = m.conn.SetReadDeadline(time.Time{})
			return nil
		case wire.Echo:
			continue
		default:
			// Nothing else is expected before connected; keep waiting
			// until the deadline fires.
			slog.Debug("frame before connected", "connId", m.connID, "kind", f.Kind.String())
		}
	}
}

// Subscribe allocates the next id, registers the subscription and queues
// the sub frame. Non-blocking; pair it with AwaitInitial.
func (m *Mux) Subscribe(topic string, fields map[string]any) (*Subscription, error) {
	payload := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		payload[k] = v
	}
	payload["type"] = topic
	payload["token"] = m.token

	m.mu.Lock()
	select {
	case <-m.closed:
		m.mu.Unlock()
		return nil, m.closedErr()
	default:
	}
	m.nextID++
	sub := &Subscription{
		id:     m.nextID,
		topic:  topic,
		state:  statePending,
		result: make(chan result, 1),
	}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	frame, err := wire.EncodeSub(sub.id, payload)
	if err != nil {
		m.forget(sub)
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	if err := m.enqueue(frame); err != nil {
		m.forget(sub)
		return nil, err
	}

	slog.Debug("subscribed", "connId", m.connID, "subId", sub.id, "type", topic)
	return sub, nil
}

// AwaitInitial blocks until the first "A" payload, a terminal "E", the
// timeout, or mux teardown. On return the subscription is done: the mux
// sends unsub on the caller's behalf unless the server already closed it.
func (m *Mux) AwaitInitial(ctx context.Context, sub *Subscription, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-sub.result:
		if res.err != nil {
			// Terminal error: reader already removed the subscription,
			// no unsub goes out.
			return nil, res.err
		}
		m.Unsubscribe(sub)
		return res.payload, nil
	case <-timer.C:
		m.Unsubscribe(sub)
		return nil, &Error{Kind: KindTimeout, Err: fmt.Errorf("no initial payload for sub %d within %s", sub.id, timeout)}
	case <-ctx.Done():
		m.Unsubscribe(sub)
		return nil, &Error{Kind: KindTimeout, Err: ctx.Err()}
	case <-m.closed:
		return nil, m.closedErr()
	}
}

// Unsubscribe removes the subscription and queues a bare unsub frame.
// Idempotent; safe after teardown.
func (m *Mux) Unsubscribe(sub *Subscription) {
	m.mu.Lock()
	_, live := m.subs[sub.id]
	if live {
		sub.state = stateClosing
		delete(m.subs, sub.id)
	}
	m.mu.Unlock()

	if !live {
		return
	}
	// Best effort: a teardown racing this unsub is fine, the server
	// drops the subscription with the socket.
	_ = m.enqueue(wire.EncodeUnsub(sub.id))
	m.mu.Lock()
	sub.state = stateClosed
	m.mu.Unlock()
	slog.Debug("unsubscribed", "connId", m.connID, "subId", sub.id)
}

// Close tears the mux down: every pending awaiter observes a closed
// error, the subscription table empties and the socket closes.
func (m *Mux) Close() error {
	m.teardown(&Error{Kind: KindClosed})
	<-m.readerDone
	<-m.writerDone
	return nil
}

// Done is closed when the mux has torn down for any reason.
func (m *Mux) Done() <-chan struct{} { return m.closed }

// Err reports why the mux tore down; nil while it is still up.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

// SubscriptionCount reports the live table size.
func (m *Mux) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// --- internals ---

func (m *Mux) readLoop() {
	defer close(m.readerDone)

	for {
		_, msg, err := m.conn.ReadMessage()
		if err != nil {
			m.teardown(&Error{Kind: KindTransport, Err: fmt.Errorf("read: %w", err)})
			return
		}

		f, err := wire.Decode(msg)
		if err != nil {
			// Malformed frames are logged and dropped, never fatal.
			slog.Warn("dropping undecodable frame", "connId", m.connID, "error", err)
			continue
		}
		m.dispatch(f)
	}
}

func (m *Mux) dispatch(f wire.Frame) {
	switch f.Kind {
	case wire.Echo:
		return
	case wire.Connected:
		// Duplicate connected after ready carries no information.
		slog.Debug("connected frame after ready", "connId", m.connID)
		return
	case wire.Continue, wire.Delta:
		// Interim progress and deltas are not part of the one-shot
		// contract; the awaiter only ever consumes the first A.
		return
	}

	m.mu.Lock()
	sub, ok := m.subs[f.SubID]
	if !ok {
		m.mu.Unlock()
		slog.Debug("frame for unknown subscription", "connId", m.connID, "subId", f.SubID, "kind", f.Kind.String())
		return
	}

	switch f.Kind {
	case wire.Answer:
		if sub.state != statePending {
			// The first A is canonical; later ones are no-ops.
			m.mu.Unlock()
			return
		}
		sub.state = stateOpen
		sub.result <- result{payload: json.RawMessage(f.Payload)}
		m.mu.Unlock()
	case wire.SubError:
		sub.state = stateClosed
		delete(m.subs, f.SubID)
		// Non-blocking: if an A already sits in the buffer the awaiter
		// keeps it and this E is moot.
		select {
		case sub.result <- result{err: &TerminalError{Payload: string(f.Payload)}}:
		default:
		}
		m.mu.Unlock()
		slog.Warn("subscription error", "connId", m.connID, "subId", f.SubID, "payload", string(f.Payload))
	default:
		m.mu.Unlock()
	}
}

func (m *Mux) writeLoop() {
	defer close(m.writerDone)

	for {
		select {
		case frame := <-m.writeCh:
			if err := m.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.teardown(&Error{Kind: KindTransport, Err: fmt.Errorf("write: %w", err)})
				return
			}
		case <-m.closed:
			return
		}
	}
}

func (m *Mux) enqueue(frame []byte) error {
	select {
	case m.writeCh <- frame:
		return nil
	case <-m.closed:
		return m.closedErr()
	}
}

// teardown cancels all subscriptions and closes the socket. Idempotent;
// the first cause wins.
func (m *Mux) teardown(cause error) {
	m.closeOne.Do(func() {
		m.mu.Lock()
		m.closeErr = cause
		for id, sub := range m.subs {
			sub.state = stateClosed
			select {
			case sub.result <- result{err: &Error{Kind: KindClosed, Err: cause}}:
			default:
			}
			delete(m.subs, id)
		}
		m.mu.Unlock()

		close(m.closed)
		m.conn.Close()
		slog.Info("stream closed", "connId", m.connID, "cause", cause)
	})
}

func (m *Mux) closedErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.closeErr.(*Error); ok && e.Kind == KindClosed {
		return e
	}
	return &Error{Kind: KindClosed, Err: m.closeErr}
}

func (m *Mux) forget(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub.id)
	sub.state = stateClosed
	m.mu.Unlock()
}
