package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/securechat-io/securechat/pkg/protocol"
)

// ErrClientDisconnecting signals a clean client-initiated shutdown up
// through the message loop.
var ErrClientDisconnecting = errors.New("client disconnecting")

// errHandshakeRejected means the client was told why and the
// connection must close without a departure broadcast.
var errHandshakeRejected = errors.New("handshake rejected")

// runHandshake drives a session from connected to authenticated. The
// server speaks first with a name prompt. Chat and command envelopes
// arriving before authentication get NOT_AUTHENTICATED and the
// handshake keeps waiting; only a malformed frame or a bad name ends
// the connection.
func (s *Server) runHandshake(sess *Session) error {
	prompt := protocol.NewSystem("Welcome to SecureChat! Please enter your username:", protocol.LevelInfo)
	if err := sess.Stream.SendEnvelope(prompt); err != nil {
		return err
	}

	for {
		data, err := sess.Stream.Recv()
		if err != nil {
			return err
		}
		sess.Touch()

		env, err := protocol.Unmarshal(data)
		if err != nil {
			metricAuthFailures.WithLabelValues("invalid_message").Inc()
			s.sendError(sess, protocol.CodeInvalidMessage, "malformed authentication message")
			return errHandshakeRejected
		}
		metricMessagesReceived.WithLabelValues(string(env.Type)).Inc()

		switch env.Type {
		case protocol.TypeAuth:
			if err := s.authenticate(sess, env.Sender); err != nil {
				return err
			}
			return nil

		case protocol.TypeChat, protocol.TypeCommand:
			s.sendError(sess, protocol.CodeNotAuthenticated, "authenticate before sending messages")

		default:
			debugLog.Printf("session %d sent %s during handshake, ignoring", sess.ID, env.Type)
		}
	}
}

// authenticate validates the requested name and claims it. Any
// rejection closes the handshake.
func (s *Server) authenticate(sess *Session, requested string) error {
	name := strings.TrimSpace(requested)

	if name == "" || name == protocol.SystemSender {
		metricAuthFailures.WithLabelValues("invalid_username").Inc()
		s.sendError(sess, protocol.CodeInvalidUsername, "username must be non-empty")
		return errHandshakeRejected
	}
	if len([]rune(name)) > s.config.MaxNameLength {
		metricAuthFailures.WithLabelValues("invalid_username").Inc()
		s.sendError(sess, protocol.CodeInvalidUsername,
			fmt.Sprintf("username exceeds %d characters", s.config.MaxNameLength))
		return errHandshakeRejected
	}

	if err := s.registry.Claim(sess, name); err != nil {
		metricAuthFailures.WithLabelValues("username_taken").Inc()
		s.sendError(sess, protocol.CodeUsernameTaken,
			fmt.Sprintf("username %q is already in use", name))
		return errHandshakeRejected
	}

	debugLog.Printf("session %d authenticated as %q (%s)", sess.ID, name, sess.Stream.RemoteAddr())

	welcome := protocol.NewSystem(fmt.Sprintf("Welcome, %s! You are now connected.", name), protocol.LevelSuccess)
	if err := sess.Stream.SendEnvelope(welcome); err != nil {
		return err
	}

	s.broadcast(protocol.NewSystem(fmt.Sprintf("%s has joined the chat", name), protocol.LevelInfo), sess.ID)
	return nil
}

// handleFrame dispatches one post-handshake frame by envelope type.
func (s *Server) handleFrame(sess *Session, data []byte) error {
	env, err := protocol.Unmarshal(data)
	if err != nil {
		s.sendError(sess, protocol.CodeInvalidMessage, "message failed validation")
		return nil
	}
	metricMessagesReceived.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case protocol.TypeChat:
		return s.handleChat(sess, env)
	case protocol.TypeCommand:
		return s.handleCommand(sess, env)
	default:
		// auth, system, error, and status originate on the server side.
		debugLog.Printf("session %d sent server-only type %s, dropping", sess.ID, env.Type)
		return nil
	}
}

// handleChat rewraps the content with the session's claimed name and
// timestamp, then fans it out. The sender gets the same envelope back
// as delivery confirmation.
func (s *Server) handleChat(sess *Session, env *protocol.Envelope) error {
	if !sess.Authenticated() {
		s.sendError(sess, protocol.CodeNotAuthenticated, "authenticate before sending messages")
		return nil
	}

	out := protocol.NewChat(sess.Name(), protocol.Sanitize(env.Content), env.Room())
	s.broadcast(out, sess.ID)
	return sess.Stream.SendEnvelope(out)
}

func (s *Server) handleCommand(sess *Session, env *protocol.Envelope) error {
	if !sess.Authenticated() {
		s.sendError(sess, protocol.CodeNotAuthenticated, "authenticate before sending commands")
		return nil
	}

	switch protocol.Command(env.Content) {
	case protocol.CommandListUsers:
		names := s.registry.Names()
		reply := protocol.NewSystem(
			fmt.Sprintf("Connected users (%d): %s", len(names), strings.Join(names, ", ")),
			protocol.LevelInfo)
		return sess.Stream.SendEnvelope(reply)

	case protocol.CommandQuit:
		return ErrClientDisconnecting

	default:
		s.sendError(sess, protocol.CodeUnknownCommand,
			fmt.Sprintf("command %q not recognized", env.Content))
		return nil
	}
}

// broadcast fans env out to every authenticated session except
// excludeID. Failed sends are collected and torn down after the sweep
// so one dead peer cannot starve the rest.
func (s *Server) broadcast(env *protocol.Envelope, excludeID uint64) {
	data, err := env.Marshal()
	if err != nil {
		errorLog.Printf("broadcast marshal failed: %v", err)
		return
	}

	var failed []uint64
	recipients := 0
	for _, peer := range s.registry.Snapshot() {
		if peer.ID == excludeID {
			continue
		}
		if err := peer.Stream.Send(data); err != nil {
			debugLog.Printf("broadcast to session %d failed: %v", peer.ID, err)
			metricTransportErrors.Inc()
			failed = append(failed, peer.ID)
			continue
		}
		metricMessagesSent.WithLabelValues(string(env.Type)).Inc()
		recipients++
	}

	metricBroadcastsTotal.Inc()
	metricBroadcastRecipients.Observe(float64(recipients))

	for _, id := range failed {
		s.teardownSession(id, "send failure")
	}
}

// teardownSession removes the session, closes its stream, and tells
// the room when an authenticated member leaves. Safe to call twice;
// the registry removal is the single point of no return.
func (s *Server) teardownSession(id uint64, reason string) {
	sess, wasAuthenticated := s.registry.Remove(id)
	if sess == nil {
		return
	}
	sess.Stream.Close()
	metricActiveSessions.Set(float64(s.registry.Count()))

	if wasAuthenticated {
		debugLog.Printf("session %d (%q) disconnected: %s", id, sess.Name(), reason)
		s.broadcast(protocol.NewSystem(
			fmt.Sprintf("%s has left the chat", sess.Name()), protocol.LevelInfo), 0)
	} else {
		debugLog.Printf("session %d disconnected before authenticating: %s", id, reason)
	}
}

// sendError delivers an error envelope, best effort. A failed error
// delivery means the connection is already dying and the read loop
// will notice.
func (s *Server) sendError(sess *Session, code, message string) {
	if err := sess.Stream.SendEnvelope(protocol.NewError(code, message, nil)); err != nil {
		debugLog.Printf("session %d error delivery failed: %v", sess.ID, err)
	}
}
