package transport

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"net"

	"golang.org/x/crypto/chacha20poly1305"
)

// Symmetric-cipher variant. There is no upgrade handshake: every record body
// is sealed with ChaCha20-Poly1305 under a pre-shared key loaded once at
// startup and shared by the whole process. Wire format per record:
//
//	[nonce (12 bytes)][ciphertext incl. auth tag]
//
// A record that fails to open is a transport error: the channel cannot be
// trusted, so the connection dies without a reply.

const (
	// KeySize is the pre-shared key length in bytes.
	KeySize = chacha20poly1305.KeySize
)

var (
	ErrBadKeySize        = fmt.Errorf("pre-shared key must be %d bytes", KeySize)
	ErrDecryptionFailed  = errors.New("record decryption failed: wrong key or tampered data")
	ErrCiphertextTooShort = errors.New("record too short to contain nonce and tag")
)

// PSK holds the process-wide symmetric cipher state.
type PSK struct {
	aead cipher.AEAD
}

// NewPSK builds the cipher context from a 32-byte pre-shared key.
func NewPSK(key []byte) (*PSK, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &PSK{aead: aead}, nil
}

// Wrap secures an established connection with the pre-shared cipher.
func (p *PSK) Wrap(conn net.Conn) Stream {
	return &pskStream{conn: conn, aead: p.aead}
}

// Listen binds addr; accepted connections are wrapped with the cipher.
func (p *PSK) Listen(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &pskListener{ln: ln, psk: p}, nil
}

// Dial connects to a server using the same pre-shared key.
func (p *PSK) Dial(addr string) (Stream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return p.Wrap(conn), nil
}

type pskListener struct {
	ln  net.Listener
	psk *PSK
}

func (l *pskListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return l.psk.Wrap(conn), nil
}

func (l *pskListener) Close() error {
	return l.ln.Close()
}

func (l *pskListener) Addr() net.Addr {
	return l.ln.Addr()
}

type pskStream struct {
	conn net.Conn
	aead cipher.AEAD
}

func (s *pskStream) Send(p []byte) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(p)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := s.aead.Seal(nonce, nonce, p, nil)
	return writeRecord(s.conn, sealed)
}

func (s *pskStream) Recv() ([]byte, error) {
	sealed, err := readRecord(s.conn)
	if err != nil {
		return nil, err
	}
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func (s *pskStream) Close() error {
	return s.conn.Close()
}

func (s *pskStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
