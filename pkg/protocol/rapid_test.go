package protocol

import (
	"testing"
	"unicode"

	"pgregory.net/rapid"
)

// TestEnvelopeRoundTrip checks deserialize(serialize(e)) == e for arbitrary
// valid envelopes.
func TestEnvelopeRoundTrip(t *testing.T) {
	types := []MessageType{TypeAuth, TypeChat, TypeSystem, TypeCommand, TypeError, TypeStatus}

	rapid.Check(t, func(t *rapid.T) {
		original := &Envelope{
			Type:      rapid.SampledFrom(types).Draw(t, "type"),
			Timestamp: rapid.Float64Range(0, 4e9).Draw(t, "timestamp"),
			Sender:    rapid.String().Draw(t, "sender"),
			Content:   rapid.String().Draw(t, "content"),
		}
		if rapid.Bool().Draw(t, "withMetadata") {
			keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z_]{1,10}`), 1, 4, rapid.ID).Draw(t, "keys")
			meta := make(map[string]any, len(keys))
			for _, k := range keys {
				meta[k] = rapid.String().Draw(t, "value-"+k)
			}
			original.Metadata = meta
		}

		data, err := original.Marshal()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		decoded, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if decoded.Type != original.Type {
			t.Fatalf("type mismatch: got %q, want %q", decoded.Type, original.Type)
		}
		if decoded.Timestamp != original.Timestamp {
			t.Fatalf("timestamp mismatch: got %v, want %v", decoded.Timestamp, original.Timestamp)
		}
		if decoded.Sender != original.Sender {
			t.Fatalf("sender mismatch: got %q, want %q", decoded.Sender, original.Sender)
		}
		if decoded.Content != original.Content {
			t.Fatalf("content mismatch: got %q, want %q", decoded.Content, original.Content)
		}
		if len(decoded.Metadata) != len(original.Metadata) {
			t.Fatalf("metadata size mismatch: got %d, want %d", len(decoded.Metadata), len(original.Metadata))
		}
		for k, v := range original.Metadata {
			if decoded.Metadata[k] != v {
				t.Fatalf("metadata[%q] mismatch: got %v, want %v", k, decoded.Metadata[k], v)
			}
		}
	})
}

// TestSanitizeIdempotent checks sanitize(sanitize(s)) == sanitize(s) and the
// length bound for arbitrary strings.
func TestSanitizeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")

		once := Sanitize(s)
		twice := Sanitize(once)

		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", s, once, twice)
		}
		if n := len([]rune(once)); n > MaxContentLength {
			t.Fatalf("length %d exceeds %d", n, MaxContentLength)
		}
		for _, r := range once {
			if r != '\n' && r != '\t' && !unicode.IsPrint(r) {
				t.Fatalf("control character %q survived sanitization", r)
			}
		}
	})
}

// TestUnmarshalNeverPanics feeds arbitrary bytes to Unmarshal.
func TestUnmarshalNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(t, "data")

		env, err := Unmarshal(data)
		if err == nil && env == nil {
			t.Fatal("nil envelope without error")
		}
		if err != nil && env != nil {
			t.Fatal("partial envelope returned alongside error")
		}
	})
}
