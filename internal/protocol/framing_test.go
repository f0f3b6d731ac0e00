package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeFrame_WriteFrame_ReadFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	want := CliResponse{RequestID: "r1", ExitCode: 1, Stdout: "out", Stderr: "err"}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got != Message(want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestReadFrame_CleanEOF(t *testing.T) {
	t.Parallel()

	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame on an empty reader: err = %v, want io.EOF", err)
	}
}

func TestReadFrame_PartialFrameIsUnexpectedEOF(t *testing.T) {
	t.Parallel()

	frame, err := EncodeFrame(Ping{RequestID: "p1", Timestamp: 1})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	truncated := frame[:len(frame)-2]

	_, err = ReadFrame(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
	if errors.Is(err, io.EOF) {
		t.Error("a truncated frame should not be reported as a clean EOF")
	}
}

func TestDecoder_IncrementalPush(t *testing.T) {
	t.Parallel()

	frame, err := EncodeFrame(Pong{RequestID: "p1", Timestamp: 7})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	d := NewDecoder()
	d.Push(frame[:2])
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Next with a partial header: err = %v, want ErrIncomplete", err)
	}

	d.Push(frame[2:])
	msg, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg != Message(Pong{RequestID: "p1", Timestamp: 7}) {
		t.Errorf("got %#v, want Pong{p1,7}", msg)
	}
}

func TestDecoder_MultipleFramesInOnePush(t *testing.T) {
	t.Parallel()

	f1, _ := EncodeFrame(Ping{RequestID: "a", Timestamp: 1})
	f2, _ := EncodeFrame(Ping{RequestID: "b", Timestamp: 2})

	d := NewDecoder()
	d.Push(append(append([]byte{}, f1...), f2...))

	first, err := d.Next()
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	if first.(Ping).RequestID != "a" {
		t.Errorf("first message id = %q, want a", first.(Ping).RequestID)
	}

	second, err := d.Next()
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if second.(Ping).RequestID != "b" {
		t.Errorf("second message id = %q, want b", second.(Ping).RequestID)
	}

	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Next after draining both frames: err = %v, want ErrIncomplete", err)
	}
}

func TestEncodeFrame_RejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	huge := make([]byte, MaxFrameSize+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := EncodeFrame(CliResponse{RequestID: "r1", Stdout: string(huge)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("EncodeFrame with an oversized payload: err = %v, want ErrFrameTooLarge", err)
	}
}
