package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalValid(t *testing.T) {
	data := []byte(`{"type":"chat","timestamp":1700000000.5,"sender":"alice","content":"hi","metadata":{"room":"general"}}`)

	env, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, TypeChat, env.Type)
	assert.Equal(t, 1700000000.5, env.Timestamp)
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, "hi", env.Content)
	assert.Equal(t, "general", env.Room())
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not JSON", `this is not json`},
		{"empty object", `{}`},
		{"missing type", `{"timestamp":1,"sender":"a","content":"x"}`},
		{"missing timestamp", `{"type":"chat","sender":"a","content":"x"}`},
		{"missing sender", `{"type":"chat","timestamp":1,"content":"x"}`},
		{"missing content", `{"type":"chat","timestamp":1,"sender":"a"}`},
		{"unknown type tag", `{"type":"teleport","timestamp":1,"sender":"a","content":"x"}`},
		{"integer type tag", `{"type":3,"timestamp":1,"sender":"a","content":"x"}`},
		{"string timestamp", `{"type":"chat","timestamp":"now","sender":"a","content":"x"}`},
		{"numeric sender", `{"type":"chat","timestamp":1,"sender":42,"content":"x"}`},
		{"array content", `{"type":"chat","timestamp":1,"sender":"a","content":[]}`},
		{"JSON array", `[1,2,3]`},
		{"empty input", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Unmarshal([]byte(tt.data))
			require.Error(t, err)
			assert.Nil(t, env, "no partial construction on validation failure")

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	original := NewChat("alice", "hello world", "general")

	data, err := original.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestFactories(t *testing.T) {
	t.Run("chat defaults room", func(t *testing.T) {
		env := NewChat("bob", "hey", "")
		assert.Equal(t, TypeChat, env.Type)
		assert.Equal(t, DefaultRoom, env.Room())
		assert.NotZero(t, env.Timestamp)
	})

	t.Run("system carries level and system sender", func(t *testing.T) {
		env := NewSystem("user joined", LevelSuccess)
		assert.Equal(t, SystemSender, env.Sender)
		assert.Equal(t, LevelSuccess, env.Level())
	})

	t.Run("system defaults level to info", func(t *testing.T) {
		assert.Equal(t, LevelInfo, NewSystem("note", "").Level())
	})

	t.Run("auth carries name in sender", func(t *testing.T) {
		env := NewAuth("carol")
		assert.Equal(t, TypeAuth, env.Type)
		assert.Equal(t, "carol", env.Sender)
	})

	t.Run("command content is the command tag", func(t *testing.T) {
		env := NewCommand("dave", CommandListUsers, nil)
		assert.Equal(t, string(CommandListUsers), env.Content)
		assert.Nil(t, env.Metadata)
	})

	t.Run("command params land in metadata", func(t *testing.T) {
		env := NewCommand("dave", CommandWhisper, map[string]any{"target": "erin"})
		assert.NotNil(t, env.Metadata["params"])
	})

	t.Run("error carries stable code", func(t *testing.T) {
		env := NewError(CodeUsernameTaken, "name in use", nil)
		assert.Equal(t, SystemSender, env.Sender)
		assert.Equal(t, CodeUsernameTaken, env.ErrorCode())
		assert.Equal(t, "name in use", env.Content)
	})
}

func TestMessageTypeValid(t *testing.T) {
	for _, typ := range []MessageType{TypeAuth, TypeChat, TypeSystem, TypeCommand, TypeError, TypeStatus} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, MessageType("").Valid())
	assert.False(t, MessageType("CHAT").Valid(), "tags are lowercase on the wire")
	assert.False(t, MessageType("teleport").Valid())
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "hello world", "hello world"},
		{"newline and tab kept", "a\nb\tc", "a\nb\tc"},
		{"control characters stripped", "a\x00b\x1bc\rd", "abcd"},
		{"bell and backspace stripped", "ding\a\bdong", "dingdong"},
		{"unicode kept", "héllo würld ñ", "héllo würld ñ"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxContentLength*2)
	got := Sanitize(long)
	assert.Len(t, []rune(got), MaxContentLength)

	// Stripped characters do not count toward the limit.
	padded := strings.Repeat("\x00", 100) + strings.Repeat("y", MaxContentLength)
	assert.Len(t, []rune(Sanitize(padded)), MaxContentLength)
}

func TestEnvelopeAccessors(t *testing.T) {
	t.Run("room default without metadata", func(t *testing.T) {
		env := &Envelope{Type: TypeChat, Sender: "a", Content: "x"}
		assert.Equal(t, DefaultRoom, env.Room())
	})

	t.Run("room ignores non-string metadata", func(t *testing.T) {
		env := &Envelope{Type: TypeChat, Metadata: map[string]any{"room": 7}}
		assert.Equal(t, DefaultRoom, env.Room())
	})

	t.Run("error code empty without metadata", func(t *testing.T) {
		env := &Envelope{Type: TypeError}
		assert.Equal(t, "", env.ErrorCode())
	})
}
