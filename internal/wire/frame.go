// Package wire encodes and decodes the line-oriented text protocol spoken
// on the stream. Each websocket message is exactly one frame; payloads stay
// opaque bytes until the subscription owner decodes them.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies an inbound frame.
type Kind int

const (
	// Answer carries the full initial payload for a subscription.
	Answer Kind = iota
	// Continue signals interim progress, no payload of interest.
	Continue
	// Delta carries an incremental update after the initial Answer.
	Delta
	// SubError terminates a subscription with a server error payload.
	SubError
	// Connected acknowledges the connect handshake (no sub id).
	Connected
	// Echo is a keepalive frame to be dropped silently.
	Echo
)

func (k Kind) String() string {
	switch k {
	case Answer:
		return "A"
	case Continue:
		return "C"
	case Delta:
		return "D"
	case SubError:
		return "E"
	case Connected:
		return "connected"
	case Echo:
		return "echo"
	}
	return "unknown"
}

// Frame is one decoded inbound message. SubID is meaningful only for the
// per-subscription kinds (Answer, Continue, Delta, SubError).
type Frame struct {
	SubID   uint32
	Kind    Kind
	Payload []byte
}

// Handshake is the JSON blob sent with the connect frame. Exact values are
// configuration, not logic.
type Handshake struct {
	Locale          string `json:"locale"`
	PlatformID      string `json:"platformId"`
	PlatformVersion string `json:"platformVersion"`
	ClientID        string `json:"clientId,omitempty"`
	ClientVersion   string `json:"clientVersion"`
}

// EncodeConnect builds the handshake frame: "connect <version> <json>".
func EncodeConnect(version int, hs Handshake) ([]byte, error) {
	payload, err := json.Marshal(hs)
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}
	return fmt.Appendf(nil, "connect %d %s", version, payload), nil
}

// EncodeSub builds "sub <id> <json>" from arbitrary payload fields.
func EncodeSub(id uint32, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode sub payload: %w", err)
	}
	return fmt.Appendf(nil, "sub %d %s", id, body), nil
}

// EncodeUnsub builds the bare "unsub <id>" frame. The server also accepts
// a trailing JSON blob but does not require one.
func EncodeUnsub(id uint32) []byte {
	return fmt.Appendf(nil, "unsub %d", id)
}

// Decode parses one inbound message. The rule is: split on the first one
// or two ASCII spaces, leave the remainder opaque. A non-numeric lead
// token is out-of-band (connected/echo); anything else is a decode error.
func Decode(msg []byte) (Frame, error) {
	text := string(msg)

	head, rest, _ := strings.Cut(text, " ")
	switch head {
	case "connected":
		return Frame{Kind: Connected, Payload: []byte(rest)}, nil
	case "echo":
		return Frame{Kind: Echo, Payload: []byte(rest)}, nil
	case "":
		return Frame{}, fmt.Errorf("empty frame")
	}

	id, err := strconv.ParseUint(head, 10, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("frame id %q: %w", head, err)
	}

	state, payload, _ := strings.Cut(rest, " ")
	f := Frame{SubID: uint32(id), Payload: []byte(payload)}
	switch state {
	case "A":
		f.Kind = Answer
	case "C":
		f.Kind = Continue
	case "D":
		f.Kind = Delta
	case "E":
		f.Kind = SubError
	default:
		return Frame{}, fmt.Errorf("frame state %q", state)
	}
	return f, nil
}
