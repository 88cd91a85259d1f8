// Package protocol implements the length-prefixed frame format used on every connection.
//
// Each frame starts with a 4-byte big-endian length counting every byte that follows it.
// The receiver reads the length first, checks it against the configured maximum, then
// reads exactly that many bytes, which solves TCP's sticky packet problem.
//
// Request frame:
//
//	0         4         8
//	┌─────────┬─────────┬──────────────────┐
//	│ length  │   id    │   payload ...    │
//	│ uint32  │ uint32  │ length-4 bytes   │
//	└─────────┴─────────┴──────────────────┘
//
// Response frame:
//
//	0         4  5
//	┌─────────┬──┬──────────────────┐
//	│ length  │st│   payload ...    │
//	│ uint32  │  │ length-1 bytes   │
//	└─────────┴──┴──────────────────┘
//
// The status byte is 0 for success (payload = encoded result) and 1 for failure
// (payload = encoded message.Error). Any other value is a protocol violation.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/libp2p/go-msgio"

	"typed-rpc/message"
)

const (
	LengthSize         = 4
	RequestHeaderSize  = 4 // identifier tag
	ResponseHeaderSize = 1 // status byte

	DefaultMaxFrameSize = 4 << 20
)

var (
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrBadStatus        = errors.New("invalid response status")
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("i/o timeout")
)

// Reader reads frames from a stream. It is not safe for concurrent use; a connection
// has exactly one reader.
type Reader struct {
	r msgio.Reader
}

// NewReader returns a Reader that rejects frames whose length exceeds maxFrameSize.
// A non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewReader(r io.Reader, maxFrameSize int) *Reader {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Reader{r: msgio.NewReaderSize(r, maxFrameSize)}
}

func (r *Reader) next() ([]byte, error) {
	body, err := r.r.ReadMsg()
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

// ReadRequest blocks until a whole request frame is available.
func (r *Reader) ReadRequest() (*message.Request, error) {
	body, err := r.next()
	if err != nil {
		return nil, err
	}
	if len(body) < RequestHeaderSize {
		return nil, fmt.Errorf("%w: request body of %d bytes", ErrMalformedFrame, len(body))
	}
	return &message.Request{
		ID:      message.ID(binary.BigEndian.Uint32(body[:RequestHeaderSize])),
		Payload: body[RequestHeaderSize:],
	}, nil
}

// ReadResponse blocks until a whole response frame is available.
func (r *Reader) ReadResponse() (*message.Response, error) {
	body, err := r.next()
	if err != nil {
		return nil, err
	}
	if len(body) < ResponseHeaderSize {
		return nil, fmt.Errorf("%w: empty response body", ErrMalformedFrame)
	}
	status := message.Status(body[0])
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, body[0])
	}
	return &message.Response{Status: status, Payload: body[ResponseHeaderSize:]}, nil
}

// Writer writes whole frames. Each frame is assembled in one buffer and handed to the
// underlying writer in a single Write under a mutex, so frames from concurrent writers
// never interleave.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	max int
}

// NewWriter returns a Writer that refuses to emit frames longer than maxFrameSize.
func NewWriter(w io.Writer, maxFrameSize int) *Writer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Writer{w: w, max: maxFrameSize}
}

func (w *Writer) WriteRequest(req *message.Request) error {
	buf, err := w.frame(RequestHeaderSize, req.Payload)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[LengthSize:LengthSize+RequestHeaderSize], uint32(req.ID))
	return w.write(buf)
}

func (w *Writer) WriteResponse(resp *message.Response) error {
	if !resp.Status.Valid() {
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.Status)
	}
	buf, err := w.frame(ResponseHeaderSize, resp.Payload)
	if err != nil {
		return err
	}
	buf[LengthSize] = byte(resp.Status)
	return w.write(buf)
}

// Fits reports whether a payload of n bytes fits in a frame with the given header size.
func (w *Writer) Fits(headerSize, n int) bool {
	return headerSize+n <= w.max
}

func (w *Writer) MaxFrameSize() int {
	return w.max
}

func (w *Writer) frame(headerSize int, payload []byte) ([]byte, error) {
	bodyLen := headerSize + len(payload)
	if bodyLen > w.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, w.max)
	}
	buf := make([]byte, LengthSize+bodyLen)
	binary.BigEndian.PutUint32(buf[:LengthSize], uint32(bodyLen))
	copy(buf[LengthSize+headerSize:], payload)
	return buf, nil
}

func (w *Writer) write(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(buf); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps stream errors onto the package's sentinels, keeping the cause wrapped.
func classify(err error) error {
	switch {
	case errors.Is(err, msgio.ErrMsgTooLarge):
		return fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
