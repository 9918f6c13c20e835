package server

import (
	"net"
	"sync"

	"github.com/securechat-io/securechat/pkg/protocol"
	"github.com/securechat-io/securechat/pkg/transport"
)

// SafeStream serializes writes to a transport stream. Broadcast sweeps
// and direct replies run on different goroutines and would otherwise
// interleave records on the wire.
type SafeStream struct {
	stream  transport.Stream
	writeMu sync.Mutex
}

func NewSafeStream(stream transport.Stream) *SafeStream {
	return &SafeStream{stream: stream}
}

// Send writes one record, holding the write lock for the duration.
func (s *SafeStream) Send(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stream.Send(p)
}

// SendEnvelope marshals env and sends it as a single record.
func (s *SafeStream) SendEnvelope(env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := s.Send(data); err != nil {
		return err
	}
	metricMessagesSent.WithLabelValues(string(env.Type)).Inc()
	return nil
}

// Recv reads the next record. Only the session's read loop calls Recv,
// so it takes no lock.
func (s *SafeStream) Recv() ([]byte, error) {
	return s.stream.Recv()
}

func (s *SafeStream) Close() error {
	return s.stream.Close()
}

func (s *SafeStream) RemoteAddr() net.Addr {
	return s.stream.RemoteAddr()
}
