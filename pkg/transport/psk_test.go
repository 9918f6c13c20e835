package transport

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

// pipePair returns both ends of an in-memory connection wrapped with the
// given ciphers.
func pipePair(t *testing.T, a, b *PSK) (Stream, Stream) {
	t.Helper()
	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return a.Wrap(c1), b.Wrap(c2)
}

func TestPSKSendRecv(t *testing.T) {
	psk, err := NewPSK(testKey(t))
	require.NoError(t, err)

	left, right := pipePair(t, psk, psk)

	done := make(chan []byte, 1)
	go func() {
		got, err := right.Recv()
		if err != nil {
			done <- nil
			return
		}
		done <- got
	}()

	require.NoError(t, left.Send([]byte(`{"type":"chat"}`)))
	assert.Equal(t, []byte(`{"type":"chat"}`), <-done)
}

func TestPSKNoncesDiffer(t *testing.T) {
	psk, err := NewPSK(testKey(t))
	require.NoError(t, err)

	left, right := pipePair(t, psk, psk)

	seen := make(chan []byte, 2)
	go func() {
		for i := 0; i < 2; i++ {
			got, err := right.Recv()
			if err != nil {
				return
			}
			seen <- got
		}
	}()

	require.NoError(t, left.Send([]byte("same plaintext")))
	require.NoError(t, left.Send([]byte("same plaintext")))
	assert.Equal(t, []byte("same plaintext"), <-seen)
	assert.Equal(t, []byte("same plaintext"), <-seen)
}

func TestPSKWrongKeyFailsToOpen(t *testing.T) {
	sender, err := NewPSK(testKey(t))
	require.NoError(t, err)
	receiver, err := NewPSK(testKey(t))
	require.NoError(t, err)

	left, right := pipePair(t, sender, receiver)

	errs := make(chan error, 1)
	go func() {
		_, err := right.Recv()
		errs <- err
	}()

	require.NoError(t, left.Send([]byte("secret")))
	assert.ErrorIs(t, <-errs, ErrDecryptionFailed)
}

func TestPSKTamperedRecordFailsToOpen(t *testing.T) {
	psk, err := NewPSK(testKey(t))
	require.NoError(t, err)

	// Capture the sealed wire bytes of one Send, flip a ciphertext bit,
	// and deliver the mangled record to a receiving stream.
	capture1, capture2 := net.Pipe()
	sender := psk.Wrap(capture1)
	go func() {
		_ = sender.Send([]byte("payload"))
	}()
	sealed, err := readRecord(capture2)
	require.NoError(t, err)
	capture1.Close()
	capture2.Close()

	sealed[len(sealed)-1] ^= 0x01

	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	right := psk.Wrap(c2)

	errs := make(chan error, 1)
	go func() {
		_, err := right.Recv()
		errs <- err
	}()

	go func() {
		_ = writeRecord(c1, sealed)
	}()
	assert.ErrorIs(t, <-errs, ErrDecryptionFailed)
}

func TestPSKShortRecordRejected(t *testing.T) {
	psk, err := NewPSK(testKey(t))
	require.NoError(t, err)

	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	right := psk.Wrap(c2)

	errs := make(chan error, 1)
	go func() {
		_, err := right.Recv()
		errs <- err
	}()

	require.NoError(t, writeRecord(c1, []byte("short")))
	assert.ErrorIs(t, <-errs, ErrCiphertextTooShort)
}

func TestNewPSKRejectsBadKeySize(t *testing.T) {
	_, err := NewPSK([]byte("too short"))
	assert.ErrorIs(t, err, ErrBadKeySize)
}

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.key")
	key := testKey(t)

	require.NoError(t, WriteKeyFile(path, key))
	loaded, err := LoadKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)
}

func TestLoadKeyErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKey(filepath.Join(t.TempDir(), "absent.key"))
		assert.Error(t, err)
	})

	t.Run("not base64", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.key")
		require.NoError(t, os.WriteFile(path, []byte("%%% not base64 %%%"), 0o600))
		_, err := LoadKey(path)
		assert.Error(t, err)
	})

	t.Run("wrong decoded length", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.key")
		require.NoError(t, os.WriteFile(path, []byte("c2hvcnQ=\n"), 0o600)) // "short"
		_, err := LoadKey(path)
		assert.ErrorIs(t, err, ErrBadKeySize)
	})
}
