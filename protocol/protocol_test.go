package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"typed-rpc/message"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	req := &message.Request{ID: 12345, Payload: []byte("hello world")}
	if err := w.WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}

	// 4 length + 4 id + payload
	raw := buf.Bytes()
	if got := binary.BigEndian.Uint32(raw[:4]); got != uint32(4+len(req.Payload)) {
		t.Fatalf("length prefix mismatch: got %d", got)
	}
	if got := binary.BigEndian.Uint32(raw[4:8]); got != 12345 {
		t.Fatalf("id mismatch: got %d", got)
	}

	decoded, err := NewReader(&buf, 0).ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if decoded.ID != req.ID {
		t.Errorf("ID mismatch: got %d, want %d", decoded.ID, req.ID)
	}
	if !bytes.Equal(decoded.Payload, req.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, req.Payload)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	for _, status := range []message.Status{message.StatusOK, message.StatusError} {
		var buf bytes.Buffer
		resp := &message.Response{Status: status, Payload: []byte{1, 2, 3}}
		if err := NewWriter(&buf, 0).WriteResponse(resp); err != nil {
			t.Fatalf("WriteResponse failed: %v", err)
		}
		if buf.Bytes()[4] != byte(status) {
			t.Fatalf("status byte mismatch: got %d", buf.Bytes()[4])
		}

		decoded, err := NewReader(&buf, 0).ReadResponse()
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if decoded.Status != status || !bytes.Equal(decoded.Payload, resp.Payload) {
			t.Errorf("response mismatch: got %+v, want %+v", decoded, resp)
		}
	}
}

func TestEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, 0).WriteRequest(&message.Request{ID: 1}); err != nil {
		t.Fatal(err)
	}
	req, err := NewReader(&buf, 0).ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if len(req.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(req.Payload))
	}
}

func TestSequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	for i := 1; i <= 3; i++ {
		if err := w.WriteRequest(&message.Request{ID: message.ID(i), Payload: bytes.Repeat([]byte{byte(i)}, i)}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(&buf, 0)
	for i := 1; i <= 3; i++ {
		req, err := r.ReadRequest()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if req.ID != message.ID(i) || len(req.Payload) != i {
			t.Fatalf("frame %d out of order: %+v", i, req)
		}
	}

	if _, err := r.ReadRequest(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed at end of stream, got %v", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[:4], 1<<20)
	binary.BigEndian.PutUint32(header[4:], 1)
	buf.Write(header)

	_, err := NewReader(&buf, 1024).ReadRequest()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	w := NewWriter(&bytes.Buffer{}, 16)
	err = w.WriteRequest(&message.Request{ID: 1, Payload: make([]byte, 32)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected writer to refuse oversized frame, got %v", err)
	}
	if w.Fits(RequestHeaderSize, 12) != true || w.Fits(RequestHeaderSize, 13) != false {
		t.Fatal("Fits boundary is off")
	}
}

func TestMalformedFrames(t *testing.T) {
	t.Run("short request", func(t *testing.T) {
		raw := []byte{0, 0, 0, 2, 0xAA, 0xBB}
		_, err := NewReader(bytes.NewReader(raw), 0).ReadRequest()
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		raw := []byte{0, 0, 0, 0}
		_, err := NewReader(bytes.NewReader(raw), 0).ReadResponse()
		if !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("expected ErrMalformedFrame, got %v", err)
		}
	})

	t.Run("bad status", func(t *testing.T) {
		raw := []byte{0, 0, 0, 2, 7, 0x00}
		_, err := NewReader(bytes.NewReader(raw), 0).ReadResponse()
		if !errors.Is(err, ErrBadStatus) {
			t.Fatalf("expected ErrBadStatus, got %v", err)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		raw := []byte{0, 0, 0, 10, 0, 0, 0, 1}
		_, err := NewReader(bytes.NewReader(raw), 0).ReadRequest()
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	})
}

func TestReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	if err := server.SetReadDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	_, err := NewReader(server, 0).ReadRequest()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLargePayload(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	if err := NewWriter(&buf, 0).WriteResponse(&message.Response{Status: message.StatusOK, Payload: largeBody}); err != nil {
		t.Fatalf("WriteResponse failed: %v", err)
	}
	resp, err := NewReader(&buf, 0).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if !bytes.Equal(resp.Payload, largeBody) {
		t.Errorf("large payload mismatch")
	}
}
