// Package transport implements the shared-memory + control-socket wiring
// between the buntime Supervisor and its sandboxed Worker: two ring buffers
// (S->W and W->S) co-located in one shared-memory object, plus a Unix
// domain socket carrying small out-of-band signals.
package transport

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/abgutierrez/buntime/internal/ringbuf"
)

// maxUnixSockPathLen is the conservative portability ceiling for
// sockaddr_un.sun_path across the platforms this repository targets (104 on
// BSD/Darwin, 108 on Linux); spec §3/§9 require probing and falling back to
// /tmp rather than assuming either bound.
const maxUnixSockPathLen = 100

// Handle owns the shared-memory mapping, the backing descriptor, the
// control socket, and their filesystem names. Its lifetime is the
// Transport's lifetime: nothing it owns may outlive a single Close.
type Handle struct {
	S2W *ringbuf.Ring // supervisor -> worker
	W2S *ringbuf.Ring // worker -> supervisor

	ShmName string
	ShmSize int

	SocketPath string

	mu       sync.Mutex
	region   []byte
	shmPath  string
	shmFile  *os.File
	listener *net.UnixListener
	stopped  bool
}

// Open creates shared memory named name of totalSize bytes (split evenly
// into the two rings, each with its own HeaderSize-byte header) and a
// listening Unix domain socket at a freshly randomized path. Any prior
// shared-memory object of the same name is unlinked first.
func Open(name string, totalSize int) (*Handle, error) {
	if totalSize%2 != 0 {
		return nil, fmt.Errorf("transport: shared memory size %d must be even (split into two halves)", totalSize)
	}
	half := totalSize / 2
	if half <= ringbuf.HeaderSize {
		return nil, fmt.Errorf("transport: half-region of %d bytes too small for a %d-byte ring header", half, ringbuf.HeaderSize)
	}

	region, shmFilePath, shmFile, err := openSharedMemory(name, totalSize)
	if err != nil {
		return nil, err
	}

	s2w, err := ringbuf.New(region[:half])
	if err != nil {
		_ = closeSharedMemory(region, shmFilePath, shmFile)
		return nil, fmt.Errorf("transport: init s2w ring: %w", err)
	}
	w2s, err := ringbuf.New(region[half:])
	if err != nil {
		_ = closeSharedMemory(region, shmFilePath, shmFile)
		return nil, fmt.Errorf("transport: init w2s ring: %w", err)
	}

	socketPath, err := newSocketPath()
	if err != nil {
		_ = closeSharedMemory(region, shmFilePath, shmFile)
		return nil, err
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		_ = closeSharedMemory(region, shmFilePath, shmFile)
		return nil, fmt.Errorf("transport: listen on control socket %q: %w", socketPath, err)
	}

	h := &Handle{
		S2W:        s2w,
		W2S:        w2s,
		ShmName:    name,
		ShmSize:    totalSize,
		SocketPath: socketPath,
		region:     region,
		shmPath:    shmFilePath,
		shmFile:    shmFile,
		listener:   listener,
	}
	return h, nil
}

// newSocketPath generates a short random Unix socket path under the current
// working directory, falling back to the OS temp directory when the
// candidate would exceed the platform's sun_path limit.
func newSocketPath() (string, error) {
	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return "", fmt.Errorf("transport: generate socket id: %w", err)
	}
	name := fmt.Sprintf("buntime-%s.sock", hex.EncodeToString(id))

	cwd, err := os.Getwd()
	if err == nil {
		candidate := filepath.Join(cwd, name)
		if len(candidate) <= maxUnixSockPathLen {
			return candidate, nil
		}
	}

	candidate := filepath.Join(os.TempDir(), name)
	if len(candidate) <= maxUnixSockPathLen {
		return candidate, nil
	}
	return "", fmt.Errorf("transport: no candidate socket path within %d bytes", maxUnixSockPathLen)
}

// Listener exposes the control socket listener so the caller can Accept the
// worker's connection once it has been launched.
func (h *Handle) Listener() *net.UnixListener {
	return h.listener
}

// Close tears the transport down in the mandated order: unmap before close
// before unlink for shared memory, and stop listening / unlink the socket.
// Close is idempotent; a second call is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if h.listener != nil {
		if err := h.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.SocketPath != "" {
		if err := os.Remove(h.SocketPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := closeSharedMemory(h.region, h.shmPath, h.shmFile); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("transport: teardown errors: %v", errs)
}
