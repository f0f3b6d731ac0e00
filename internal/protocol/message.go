// Package protocol defines the wire message schema shared by the agent and
// server: a tagged union of request/response/event/keepalive records,
// encoded as JSON with a "type" discriminator field using snake_case variant
// names, and the length-prefixed framing codec that carries them.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Variant names used as the JSON "type" discriminator.
const (
	TypeCliRequest   = "cli_request"
	TypeCliResponse  = "cli_response"
	TypeHTTPRequest  = "http_request"
	TypeHTTPResponse = "http_response"
	TypeSseEvent     = "sse_event"
	TypeError        = "error"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Message is implemented by every wire variant. ID returns the request id
// that correlates this message to its waiter; ok is false only for Error
// messages sent before a request id could be attributed.
type Message interface {
	messageType() string
	ID() (id string, ok bool)
}

// CliRequest asks the server to invoke a policy-checked command-line tool.
type CliRequest struct {
	RequestID string            `json:"id"`
	Tool      string            `json:"tool"`
	Argv      []string          `json:"argv"`
	Env       map[string]string `json:"env"`
	Stdin     *string           `json:"stdin,omitempty"`
	Cwd       string            `json:"cwd"`
}

func (m CliRequest) messageType() string { return TypeCliRequest }
func (m CliRequest) ID() (string, bool)  { return m.RequestID, true }

// CliResponse carries the completed process result back to the ingress
// that issued the matching CliRequest.
type CliResponse struct {
	RequestID string `json:"id"`
	ExitCode  int32  `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
}

func (m CliResponse) messageType() string { return TypeCliResponse }
func (m CliResponse) ID() (string, bool)  { return m.RequestID, true }

// HTTPRequest asks the server to forward a policy-checked upstream HTTP
// call on behalf of a tool.
type HTTPRequest struct {
	RequestID string            `json:"id"`
	Tool      string            `json:"tool"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      *string           `json:"body,omitempty"`
}

func (m HTTPRequest) messageType() string { return TypeHTTPRequest }
func (m HTTPRequest) ID() (string, bool)  { return m.RequestID, true }

// HTTPResponse carries a terminal upstream HTTP result.
type HTTPResponse struct {
	RequestID string            `json:"id"`
	Status    uint16            `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      *string           `json:"body,omitempty"`
}

func (m HTTPResponse) messageType() string { return TypeHTTPResponse }
func (m HTTPResponse) ID() (string, bool)  { return m.RequestID, true }

// SseEvent carries one Server-Sent Event parsed from an upstream stream.
// It correlates to the HTTPRequest.RequestID that opened the stream; many
// SseEvent messages may precede the stream's end.
type SseEvent struct {
	RequestID string `json:"id"`
	Tool      string `json:"tool"`
	Event     string `json:"event"`
	Data      string `json:"data"`
}

func (m SseEvent) messageType() string { return TypeSseEvent }
func (m SseEvent) ID() (string, bool)  { return m.RequestID, true }

// ErrorMessage reports a pipeline failure. RequestID is nil when the
// failure occurred before a request id could be attributed (e.g. a
// malformed frame).
type ErrorMessage struct {
	RequestID *string `json:"id,omitempty"`
	Code      string  `json:"code"`
	Message   string  `json:"message"`
}

func (m ErrorMessage) messageType() string { return TypeError }
func (m ErrorMessage) ID() (string, bool) {
	if m.RequestID == nil {
		return "", false
	}
	return *m.RequestID, true
}

// Ping is the agent-to-server keepalive probe.
type Ping struct {
	RequestID string `json:"id"`
	Timestamp uint64 `json:"timestamp"`
}

func (m Ping) messageType() string { return TypePing }
func (m Ping) ID() (string, bool)  { return m.RequestID, true }

// Pong is the server's reply to a Ping, echoing its id and timestamp.
type Pong struct {
	RequestID string `json:"id"`
	Timestamp uint64 `json:"timestamp"`
}

func (m Pong) messageType() string { return TypePong }
func (m Pong) ID() (string, bool)  { return m.RequestID, true }

// envelope is the wire shape used purely to discover the "type" tag before
// decoding into the concrete variant.
type envelope struct {
	Type string `json:"type"`
}

// Encode marshals m into its tagged-union wire form: the concrete fields
// plus a "type" discriminator.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(taggedFields(m.messageType(), m))
}

// taggedFields flattens the variant's fields alongside the type tag. Go's
// JSON encoder does not merge an embedded interface's fields into the
// parent object, so each variant is marshaled to a map and the tag is
// injected directly.
func taggedFields(typ string, m Message) map[string]json.RawMessage {
	raw, err := json.Marshal(m)
	if err != nil {
		// Marshal of a well-formed struct with only JSON-safe field types
		// never fails; surfacing a nil map here would be a silent bug.
		panic(fmt.Sprintf("protocol: marshal variant: %v", err))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		panic(fmt.Sprintf("protocol: flatten variant: %v", err))
	}
	typeJSON, _ := json.Marshal(typ)
	fields["type"] = typeJSON
	return fields
}

// Decode parses the tagged-union wire form into the matching concrete
// Message. It returns a *carapaceerr-free* decoding error directly; callers
// in the framing codec wrap it with ErrInvalidMessage.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case TypeCliRequest:
		var m CliRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode cli_request: %w", err)
		}
		return m, nil
	case TypeCliResponse:
		var m CliResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode cli_response: %w", err)
		}
		return m, nil
	case TypeHTTPRequest:
		var m HTTPRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode http_request: %w", err)
		}
		return m, nil
	case TypeHTTPResponse:
		var m HTTPResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode http_response: %w", err)
		}
		return m, nil
	case TypeSseEvent:
		var m SseEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode sse_event: %w", err)
		}
		return m, nil
	case TypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		return m, nil
	case TypePing:
		var m Ping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode ping: %w", err)
		}
		return m, nil
	case TypePong:
		var m Pong
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode pong: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
