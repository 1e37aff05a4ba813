package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the closed set of envelope types carried over the signaling socket.
type Kind string

const (
	// Server -> client.
	KindWelcome         Kind = "welcome"
	KindUserList        Kind = "user-list"
	KindParticipantLeft Kind = "participant-left"

	// Client -> server.
	KindJoin Kind = "join"

	// Client -> server -> client (routed).
	KindCallRequest  Kind = "call-request"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindHangup       Kind = "hangup"

	// KindUnrecognized is the explicit "none of the above" variant. Frames with
	// an unknown type parse into it instead of silently falling through.
	KindUnrecognized Kind = ""
)

var (
	ErrMissingType      = errors.New("signaling: missing type")
	ErrUnrecognizedKind = errors.New("signaling: unrecognized kind")
)

// UserInfo is one presence entry.
type UserInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Envelope is the wire message. The relay reads only the routing fields; SDP
// and Candidate are opaque blobs forwarded verbatim.
type Envelope struct {
	Type Kind   `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`

	From     string `json:"from,omitempty"`
	FromName string `json:"fromName,omitempty"`
	To       string `json:"to,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	Users []UserInfo `json:"users,omitempty"`
}

// Routed reports whether this kind is forwarded to a recipient rather than
// handled by the relay itself.
func (k Kind) Routed() bool {
	switch k {
	case KindCallRequest, KindOffer, KindAnswer, KindICECandidate, KindHangup:
		return true
	default:
		return false
	}
}

// ParseClientEnvelope decodes a frame received from a client and validates the
// fields required for its kind.
//
// The decoder is deliberately lenient about extra fields: clients evolve
// independently of the relay and unknown fields are not a protocol violation.
// A frame is malformed only when it is not a JSON object, has no known type,
// or is missing a field the relay needs for routing.
func ParseClientEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("signaling: decode frame: %w", err)
	}
	if err := env.validateFromClient(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validateFromClient() error {
	switch e.Type {
	case KindJoin:
		if e.Name == "" {
			return fmt.Errorf("signaling: join missing name")
		}
	case KindCallRequest:
		if e.To == "" {
			return fmt.Errorf("signaling: call-request missing to")
		}
	case KindOffer:
		if e.To == "" {
			return fmt.Errorf("signaling: offer missing to")
		}
		if len(e.SDP) == 0 {
			return fmt.Errorf("signaling: offer missing sdp")
		}
	case KindAnswer:
		if e.To == "" {
			return fmt.Errorf("signaling: answer missing to")
		}
		if len(e.SDP) == 0 {
			return fmt.Errorf("signaling: answer missing sdp")
		}
	case KindICECandidate:
		if e.To == "" {
			return fmt.Errorf("signaling: ice-candidate missing to")
		}
		if len(e.Candidate) == 0 {
			return fmt.Errorf("signaling: ice-candidate missing candidate")
		}
	case KindHangup:
		// To is optional: absent means "end every call I am part of".
	case "leave":
		// Accepted alias kept for the original web client.
	case KindWelcome, KindUserList, KindParticipantLeft:
		// Server-only kinds are not valid from a client.
		return fmt.Errorf("signaling: kind %q not valid from client", e.Type)
	default:
		if e.Type == KindUnrecognized {
			return ErrMissingType
		}
		return fmt.Errorf("%w: %q", ErrUnrecognizedKind, e.Type)
	}
	return nil
}

// Normalize folds protocol aliases into their canonical kind.
func (e *Envelope) Normalize() {
	if e.Type == "leave" {
		e.Type = KindHangup
	}
}
