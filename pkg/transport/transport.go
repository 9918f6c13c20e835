// Package transport wraps raw byte streams with one of two interchangeable
// encryption strategies: certificate-based TLS or a pre-shared-key symmetric
// cipher. Both present the same record-oriented contract upward, so the
// layers above are oblivious to which variant is active.
package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
)

const (
	// MaxRecordSize is the maximum allowed record size (64 KiB). An
	// envelope is at most a few KiB of JSON, so anything near this limit
	// indicates a corrupt or hostile peer.
	MaxRecordSize = 64 * 1024
)

var (
	ErrRecordTooLarge = errors.New("record exceeds maximum size (64 KiB)")
	ErrEmptyRecord    = errors.New("record has zero length")
)

// Stream is a secured, record-delimited byte stream. Send transmits one
// record; Recv blocks for the next one and returns io.EOF when the peer is
// gone. Implementations are not safe for concurrent writers; callers that
// share a Stream across goroutines must serialize Send.
type Stream interface {
	Send(p []byte) error
	Recv() ([]byte, error)
	Close() error
	RemoteAddr() net.Addr
}

// Listener accepts secured streams.
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() net.Addr
}

// Records are length-delimited: [Length (4 bytes, big-endian)][Body (N bytes)].
// The explicit prefix makes framing robust against coalesced or split TCP
// segments; a receiver never relies on read granularity.

func writeRecord(w io.Writer, p []byte) error {
	if len(p) > MaxRecordSize {
		return ErrRecordTooLarge
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(p)
	return err
}

func readRecord(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	if length == 0 {
		return nil, ErrEmptyRecord
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// recordStream carries plaintext records over an already-secured net.Conn
// (a TLS connection, or a WebSocket bridge whose encryption is terminated
// by the HTTP layer).
type recordStream struct {
	conn net.Conn
}

// NewRecordStream wraps a connection with record framing and no additional
// encryption. Used for TLS connections, where crypto sits below, and as the
// carrier for WebSocket bridges.
func NewRecordStream(conn net.Conn) Stream {
	return &recordStream{conn: conn}
}

func (s *recordStream) Send(p []byte) error {
	return writeRecord(s.conn, p)
}

func (s *recordStream) Recv() ([]byte, error) {
	return readRecord(s.conn)
}

func (s *recordStream) Close() error {
	return s.conn.Close()
}

func (s *recordStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
