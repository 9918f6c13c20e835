package protocol

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"
)

// MessageType discriminates envelopes on the wire. Types are encoded as
// their string tag, never an integer, so the format stays stable across
// implementations.
type MessageType string

const (
	TypeAuth    MessageType = "auth"
	TypeChat    MessageType = "chat"
	TypeSystem  MessageType = "system"
	TypeCommand MessageType = "command"
	TypeError   MessageType = "error"
	TypeStatus  MessageType = "status"
)

// Valid reports whether t is part of the protocol enumeration.
func (t MessageType) Valid() bool {
	switch t {
	case TypeAuth, TypeChat, TypeSystem, TypeCommand, TypeError, TypeStatus:
		return true
	}
	return false
}

// Command values carried in the content field of COMMAND envelopes.
// join, leave and whisper are declared for wire compatibility but the
// server only handles list_users and quit.
type Command string

const (
	CommandJoin      Command = "join"
	CommandLeave     Command = "leave"
	CommandListUsers Command = "list_users"
	CommandWhisper   Command = "whisper"
	CommandQuit      Command = "quit"
)

// SYSTEM envelope severity levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Stable error codes for ERROR envelopes.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeInvalidUsername  = "INVALID_USERNAME"
	CodeUsernameTaken    = "USERNAME_TAKEN"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeProcessingError  = "PROCESSING_ERROR"
)

const (
	// SystemSender is the sender identity on server-authored envelopes.
	SystemSender = "system"

	// DefaultRoom is the single implicit room. The envelope carries a
	// room field but the server never routes on it.
	DefaultRoom = "general"

	// MaxContentLength is the rune limit enforced by Sanitize.
	MaxContentLength = 516
)

// Envelope is the wire-level unit of communication. It is constructed
// immediately before transmission, consumed once by the receiver, and
// never mutated after construction.
type Envelope struct {
	Type      MessageType    `json:"type"`
	Timestamp float64        `json:"timestamp"`
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ValidationError reports a frame that failed envelope validation. It is a
// protocol error: callers reply with an ERROR envelope (or reject the
// handshake) rather than tearing the connection down.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid envelope: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Marshal serializes the envelope to its JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses and validates a wire envelope. On any violation it
// returns a *ValidationError and no partial envelope: required fields must
// all be present with the right kinds and the type tag must be known.
func Unmarshal(data []byte) (*Envelope, error) {
	var raw struct {
		Type      *string        `json:"type"`
		Timestamp *float64       `json:"timestamp"`
		Sender    *string        `json:"sender"`
		Content   *string        `json:"content"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, invalid("malformed JSON: %v", err)
	}
	switch {
	case raw.Type == nil:
		return nil, invalid("missing field %q", "type")
	case raw.Timestamp == nil:
		return nil, invalid("missing field %q", "timestamp")
	case raw.Sender == nil:
		return nil, invalid("missing field %q", "sender")
	case raw.Content == nil:
		return nil, invalid("missing field %q", "content")
	}
	typ := MessageType(*raw.Type)
	if !typ.Valid() {
		return nil, invalid("unknown type %q", *raw.Type)
	}
	return &Envelope{
		Type:      typ,
		Timestamp: *raw.Timestamp,
		Sender:    *raw.Sender,
		Content:   *raw.Content,
		Metadata:  raw.Metadata,
	}, nil
}

// Sanitize strips control characters other than newline and tab, then
// truncates to MaxContentLength runes. Idempotent.
func Sanitize(content string) string {
	out := make([]rune, 0, len(content))
	for _, r := range content {
		if r == '\n' || r == '\t' || unicode.IsPrint(r) {
			out = append(out, r)
		}
		if len(out) == MaxContentLength {
			break
		}
	}
	return string(out)
}

// metaString reads a string value from the metadata mapping.
func (e *Envelope) metaString(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key].(string)
	return v, ok
}

// Room returns the CHAT room tag, defaulting to the implicit room.
func (e *Envelope) Room() string {
	if room, ok := e.metaString("room"); ok && room != "" {
		return room
	}
	return DefaultRoom
}

// Level returns the SYSTEM severity level, defaulting to info.
func (e *Envelope) Level() string {
	if level, ok := e.metaString("level"); ok && level != "" {
		return level
	}
	return LevelInfo
}

// ErrorCode returns the stable code of an ERROR envelope, or "" if absent.
func (e *Envelope) ErrorCode() string {
	code, _ := e.metaString("error_code")
	return code
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewChat builds a CHAT envelope. An empty room resolves to DefaultRoom.
func NewChat(sender, content, room string) *Envelope {
	if room == "" {
		room = DefaultRoom
	}
	return &Envelope{
		Type:      TypeChat,
		Timestamp: now(),
		Sender:    sender,
		Content:   content,
		Metadata:  map[string]any{"room": room},
	}
}

// NewSystem builds a server-authored SYSTEM envelope.
func NewSystem(content, level string) *Envelope {
	if level == "" {
		level = LevelInfo
	}
	return &Envelope{
		Type:      TypeSystem,
		Timestamp: now(),
		Sender:    SystemSender,
		Content:   content,
		Metadata:  map[string]any{"level": level},
	}
}

// NewAuth builds the handshake envelope carrying the proposed name.
func NewAuth(username string) *Envelope {
	return &Envelope{
		Type:      TypeAuth,
		Timestamp: now(),
		Sender:    username,
		Content:   "authentication",
	}
}

// NewCommand builds a COMMAND envelope; params may be nil.
func NewCommand(sender string, cmd Command, params map[string]any) *Envelope {
	e := &Envelope{
		Type:      TypeCommand,
		Timestamp: now(),
		Sender:    sender,
		Content:   string(cmd),
	}
	if params != nil {
		e.Metadata = map[string]any{"params": params}
	}
	return e
}

// NewError builds a server-authored ERROR envelope; details may be nil.
func NewError(code, message string, details map[string]any) *Envelope {
	meta := map[string]any{"error_code": code}
	if details != nil {
		meta["details"] = details
	}
	return &Envelope{
		Type:      TypeError,
		Timestamp: now(),
		Sender:    SystemSender,
		Content:   message,
		Metadata:  meta,
	}
}

// NewStatus builds a STATUS envelope.
func NewStatus(sender, content string) *Envelope {
	return &Envelope{
		Type:      TypeStatus,
		Timestamp: now(),
		Sender:    sender,
		Content:   content,
	}
}
