package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Message{
		CliRequest{RequestID: "r1", Tool: "git", Argv: []string{"status"}, Env: map[string]string{"HOME": "/root"}, Cwd: "/tmp"},
		CliResponse{RequestID: "r1", ExitCode: 0, Stdout: "clean", Stderr: ""},
		HTTPRequest{RequestID: "r2", Tool: "signal-cli", Method: "POST", Path: "/rpc", Headers: map[string]string{"content-type": "application/json"}},
		HTTPResponse{RequestID: "r2", Status: 200},
		SseEvent{RequestID: "r3", Tool: "signal-cli", Event: "message", Data: "hello"},
		ErrorMessage{Code: "invalid_message", Message: "bad request"},
		Ping{RequestID: "p1", Timestamp: 42},
		Pong{RequestID: "p1", Timestamp: 42},
	}

	for _, want := range cases {
		encoded, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%T): %v", want, err)
		}
		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch: got %#v, want %#v", got, want)
		}
	}
}

func TestDecode_UnknownType(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"type":"not_a_real_type"}`)); err == nil {
		t.Error("expected an error decoding an unrecognized type discriminator")
	}
}

func TestErrorMessage_IDWithoutRequestID(t *testing.T) {
	t.Parallel()

	m := ErrorMessage{Code: "invalid_message", Message: "malformed frame"}
	if _, ok := m.ID(); ok {
		t.Error("an ErrorMessage with a nil RequestID should report ok=false")
	}
}

func TestEncode_IncludesTypeDiscriminator(t *testing.T) {
	t.Parallel()

	body, err := Encode(Ping{RequestID: "p1", Timestamp: 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypePing {
		t.Errorf("encoded Ping type = %q, want %q", env.Type, TypePing)
	}
}
