package transport

import (
	"os"
	"testing"

	"github.com/abgutierrez/buntime/internal/ringbuf"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesRingsAndSocket(t *testing.T) {
	name := "buntime-test-shm"
	h, err := Open(name, 4096)
	require.NoError(t, err)
	defer h.Close()

	require.NotNil(t, h.S2W)
	require.NotNil(t, h.W2S)
	require.EqualValues(t, 2048-ringbuf.HeaderSize, h.S2W.Capacity())
	require.FileExists(t, h.SocketPath)
}

func TestSendAndDrainAcrossRings(t *testing.T) {
	h, err := Open("buntime-test-shm-2", 4096)
	require.NoError(t, err)
	defer h.Close()

	payload := []byte("print('hi')")
	n := h.S2W.Write(payload)
	require.Equal(t, len(payload), n)

	got, ok := h.S2W.Read()
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestCloseIsIdempotentAndUnlinksArtifacts(t *testing.T) {
	h, err := Open("buntime-test-shm-3", 4096)
	require.NoError(t, err)

	socketPath := h.SocketPath
	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "second Close must be a no-op, not an error")

	_, err = os.Stat(socketPath)
	require.True(t, os.IsNotExist(err), "socket path must be removed after Close")
}
