package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/securechat-io/securechat/pkg/protocol"
	"github.com/securechat-io/securechat/pkg/transport"
)

var (
	errorLog *log.Logger
	debugLog *log.Logger

	loggerInit sync.Once
)

func initLoggers() {
	loggerInit.Do(func() {
		errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
		debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	})
}

// EnableDebugLogging routes debug output to stderr. Call before Start.
func EnableDebugLogging() {
	initLoggers()
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
}

// Server accepts secured connections, runs the name handshake, and
// fans chat out to the room.
type Server struct {
	config   ServerConfig
	registry *Registry
	psk      *transport.PSK

	listener      transport.Listener
	httpServer    *http.Server
	metricsServer *http.Server

	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startTime time.Time
}

// New validates the configuration and loads transport credentials.
// Missing or malformed credentials are fatal here, before any socket
// is opened.
func New(config ServerConfig) (*Server, error) {
	initLoggers()

	s := &Server{
		config:   config,
		registry: NewRegistry(),
		shutdown: make(chan struct{}),
	}

	switch config.Transport {
	case TransportPSK:
		key, err := transport.LoadKey(config.PSKFile)
		if err != nil {
			return nil, fmt.Errorf("load pre-shared key: %w", err)
		}
		psk, err := transport.NewPSK(key)
		if err != nil {
			return nil, fmt.Errorf("init cipher: %w", err)
		}
		s.psk = psk
	case TransportTLS:
		// Certificate errors surface in Start via ListenTLS.
	default:
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}

	return s, nil
}

// Start opens the listener and companion HTTP endpoints and begins
// accepting connections. It returns once the server is listening.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var err error
	switch s.config.Transport {
	case TransportPSK:
		s.listener, err = s.psk.Listen(addr)
	case TransportTLS:
		s.listener, err = transport.ListenTLS(addr, s.config.CertFile, s.config.KeyFile)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.startTime = time.Now()
	log.Printf("securechat server listening on %s (transport=%s)", s.listener.Addr(), s.config.Transport)

	if s.config.MetricsPort > 0 {
		s.startMetricsServer()
	}
	if s.config.HTTPPort > 0 {
		s.startHTTPServer()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener address, for tests binding port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener and every live session, then waits for the
// accept loop to drain.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}
		if s.metricsServer != nil {
			s.metricsServer.Close()
		}
		if s.httpServer != nil {
			s.httpServer.Close()
		}

		s.registry.CloseAll()
		s.wg.Wait()
		log.Printf("securechat server stopped")
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		stream, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("accept: %v", err)
				continue
			}
		}
		go s.handleConnection(stream)
	}
}

// handleConnection owns one client for its whole life: register,
// handshake, message loop, teardown.
func (s *Server) handleConnection(stream transport.Stream) {
	sess := s.registry.Add(NewSafeStream(stream))
	metricConnectionsTotal.Inc()
	metricActiveSessions.Set(float64(s.registry.Count()))
	debugLog.Printf("session %d connected from %s", sess.ID, stream.RemoteAddr())

	if err := s.runHandshake(sess); err != nil {
		if !errors.Is(err, errHandshakeRejected) {
			debugLog.Printf("session %d handshake transport error: %v", sess.ID, err)
		}
		s.teardownSession(sess.ID, "handshake failed")
		return
	}

	s.messageLoop(sess)
}

func (s *Server) messageLoop(sess *Session) {
	defer s.teardownSession(sess.ID, "connection closed")

	for {
		data, err := sess.Stream.Recv()
		if err != nil {
			select {
			case <-s.shutdown:
			default:
				if !errors.Is(err, io.EOF) {
					debugLog.Printf("session %d read: %v", sess.ID, err)
					metricTransportErrors.Inc()
				}
			}
			return
		}
		sess.Touch()

		if err := s.handleFrame(sess, data); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				return
			}
			errorLog.Printf("session %d: %v", sess.ID, err)
			s.sendError(sess, protocol.CodeProcessingError, "error processing message")
		}
	}
}

func (s *Server) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.metricsServer = &http.Server{
		Addr:    net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.MetricsPort)),
		Handler: mux,
	}
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("metrics on http://%s/metrics", s.metricsServer.Addr)
}

func (s *Server) startHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.HTTPPort)),
		Handler: mux,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("websocket server: %v", err)
		}
	}()
	log.Printf("websocket endpoint on ws://%s/ws", s.httpServer.Addr)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from arbitrary origins; the name
	// handshake is the gate, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the request and feeds the connection into
// the same session pipeline as raw TCP clients. PSK deployments
// encrypt records inside the websocket; TLS deployments rely on wss.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}

	conn := transport.NewWSConn(ws)
	var stream transport.Stream
	if s.psk != nil {
		stream = s.psk.Wrap(conn)
	} else {
		stream = transport.NewRecordStream(conn)
	}
	s.handleConnection(stream)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"sessions":       s.registry.Count(),
	})
}
