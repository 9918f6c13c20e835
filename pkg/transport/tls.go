package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Certificate-based variant. The raw TCP stream is upgraded with the server
// certificate and private key; record framing rides on top of the TLS
// session. A failed handshake kills the connection before any application
// byte is exchanged.

type tlsListener struct {
	ln net.Listener
}

// ListenTLS binds addr and upgrades every accepted connection with the
// given certificate material. Missing or malformed material fails here, at
// startup, not per connection.
func ListenTLS(addr, certFile, keyFile string) (Listener, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate material: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &tlsListener{ln: ln}, nil
}

func (l *tlsListener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewRecordStream(conn), nil
}

func (l *tlsListener) Close() error {
	return l.ln.Close()
}

func (l *tlsListener) Addr() net.Addr {
	return l.ln.Addr()
}

// DialTLS connects to a TLS server. With insecure set, self-signed
// certificates are accepted; production deployments should leave it unset
// and rely on real trust validation.
func DialTLS(addr string, insecure bool) (Stream, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
		MinVersion:         tls.VersionTLS12,
	}
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return NewRecordStream(conn), nil
}
