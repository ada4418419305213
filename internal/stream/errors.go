package stream

import "fmt"

// Kind classifies a stream-level failure. Stream errors are never
// recovered inside the mux; reconnect is a full reset by the caller.
type Kind int

const (
	KindTransport Kind = iota
	KindTimeout
	KindAuthRejected
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthRejected:
		return "auth_rejected"
	case KindClosed:
		return "closed"
	default:
		return "transport"
	}
}

// Error is a connection-level failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %s: %v", e.Kind, e.Err)
	}
	return "stream " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// TerminalError is a per-subscription server error ("E" frame). It is
// local to the awaiter; the connection stays up.
type TerminalError struct {
	Payload string
}

func (e *TerminalError) Error() string {
	return "subscription error: " + e.Payload
}
