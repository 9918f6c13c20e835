// Package client implements the connection layer for securechat
// clients: dialing any supported transport, the name handshake, and a
// channel-based receive loop for UIs to consume.
package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/securechat-io/securechat/pkg/protocol"
	"github.com/securechat-io/securechat/pkg/transport"
)

// Options configures Dial.
type Options struct {
	// Insecure skips certificate verification on tls:// addresses.
	Insecure bool
	// Key is the pre-shared key, required for psk:// addresses and
	// used to encrypt records on ws:// addresses when set.
	Key []byte
}

// AuthError is a handshake rejection from the server.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (%s): %s", e.Code, e.Message)
}

var ErrClosed = errors.New("connection closed")

// Connection is one live link to a securechat server. After Handshake
// and Start, envelopes arrive on Incoming and read failures on Errors.
type Connection struct {
	stream transport.Stream

	sendMu sync.Mutex
	name   string

	incoming chan *protocol.Envelope
	errs     chan error
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Dial connects using the scheme prefix of addr: tls://host:port,
// psk://host:port, or ws://host:port. A bare host:port dials TLS.
func Dial(addr string, opts Options) (*Connection, error) {
	scheme, hostport := splitScheme(addr)

	var (
		stream transport.Stream
		err    error
	)
	switch scheme {
	case "tls", "":
		stream, err = transport.DialTLS(hostport, opts.Insecure)

	case "psk":
		if opts.Key == nil {
			return nil, errors.New("psk transport requires a key")
		}
		var psk *transport.PSK
		psk, err = transport.NewPSK(opts.Key)
		if err == nil {
			stream, err = psk.Dial(hostport)
		}

	case "ws", "wss":
		wsConn, dialErr := transport.DialWebSocket(hostport, scheme == "wss")
		if dialErr != nil {
			return nil, dialErr
		}
		if opts.Key != nil {
			var psk *transport.PSK
			psk, err = transport.NewPSK(opts.Key)
			if err != nil {
				wsConn.Close()
				return nil, err
			}
			stream = psk.Wrap(wsConn)
		} else {
			stream = transport.NewRecordStream(wsConn)
		}

	default:
		return nil, fmt.Errorf("unknown scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}

	return &Connection{
		stream:   stream,
		incoming: make(chan *protocol.Envelope, 64),
		errs:     make(chan error, 1),
		shutdown: make(chan struct{}),
	}, nil
}

func splitScheme(addr string) (scheme, hostport string) {
	if i := strings.Index(addr, "://"); i >= 0 {
		return addr[:i], addr[i+3:]
	}
	return "", addr
}

// Handshake consumes the server's name prompt, proposes name, and
// waits for the verdict. On rejection the returned error is an
// *AuthError and the connection is no longer usable.
func (c *Connection) Handshake(name string) error {
	// Server speaks first with a system prompt.
	if _, err := c.recv(); err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}

	if err := c.send(protocol.NewAuth(name)); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}

	for {
		env, err := c.recv()
		if err != nil {
			return fmt.Errorf("read verdict: %w", err)
		}
		switch env.Type {
		case protocol.TypeSystem:
			c.name = name
			return nil
		case protocol.TypeError:
			return &AuthError{Code: env.ErrorCode(), Message: env.Content}
		default:
			// Broadcast traffic racing the verdict; keep reading.
		}
	}
}

// Start launches the receive loop. Call after a successful Handshake.
func (c *Connection) Start() {
	c.wg.Add(1)
	go c.readLoop()
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)

	for {
		data, err := c.stream.Recv()
		if err != nil {
			select {
			case <-c.shutdown:
			default:
				c.errs <- err
			}
			return
		}
		env, err := protocol.Unmarshal(data)
		if err != nil {
			// A malformed server frame is not fatal to the session.
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.shutdown:
			return
		}
	}
}

// Name returns the name accepted during Handshake.
func (c *Connection) Name() string {
	return c.name
}

// Incoming delivers server envelopes. The channel closes when the
// connection drops or Close is called.
func (c *Connection) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// Errors reports the read failure that ended the session, if any.
func (c *Connection) Errors() <-chan error {
	return c.errs
}

// SendChat sends content to the room.
func (c *Connection) SendChat(content string) error {
	return c.send(protocol.NewChat(c.name, content, ""))
}

// SendCommand sends a command envelope.
func (c *Connection) SendCommand(cmd protocol.Command) error {
	return c.send(protocol.NewCommand(c.name, cmd, nil))
}

func (c *Connection) send(env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case <-c.shutdown:
		return ErrClosed
	default:
	}
	return c.stream.Send(data)
}

// recv reads one envelope synchronously, used only during Handshake
// before the read loop starts.
func (c *Connection) recv() (*protocol.Envelope, error) {
	data, err := c.stream.Recv()
	if err != nil {
		return nil, err
	}
	return protocol.Unmarshal(data)
}

// Close shuts the connection down and waits for the read loop.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.shutdown)
		err = c.stream.Close()
		c.wg.Wait()
	})
	return err
}
