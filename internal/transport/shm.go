//go:build unix

package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"
)

// MaxShmName is the portability ceiling on shared-memory object names (spec
// §6: "≤31 characters for cross-platform portability").
const MaxShmName = 31

// shmPath resolves the backing file for a named shared-memory object.
// Linux exposes a real tmpfs-backed /dev/shm; other unix targets (notably
// macOS, which the teacher also supports) do not reliably expose a
// world-writable /dev/shm, so those fall back to a plain temp file — still
// mmap'd MAP_SHARED, just not POSIX shm_open-backed.
func shmPath(name string) string {
	if runtime.GOOS == "linux" {
		if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
			return filepath.Join("/dev/shm", name)
		}
	}
	return filepath.Join(os.TempDir(), name+".buntime-shm")
}

// openSharedMemory creates (unlinking any stale object of the same name
// first), sizes, and memory-maps a region of exactly totalSize bytes with
// read+write, MAP_SHARED visibility.
func openSharedMemory(name string, totalSize int) (region []byte, path string, file *os.File, err error) {
	if len(name) > MaxShmName {
		return nil, "", nil, fmt.Errorf("transport: shared memory name %q exceeds %d characters", name, MaxShmName)
	}
	path = shmPath(name)

	// Unlink any prior segment of the same name before creating a fresh one.
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, "", nil, fmt.Errorf("transport: create shared memory object %q: %w", path, err)
	}
	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, "", nil, fmt.Errorf("transport: size shared memory object %q: %w", path, err)
	}

	region, err = unix.Mmap(int(f.Fd()), 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, "", nil, fmt.Errorf("transport: mmap shared memory object %q: %w", path, err)
	}

	return region, path, f, nil
}

// closeSharedMemory unmaps the region, closes the backing descriptor, and
// unlinks the name, in that mandatory order. Every step is attempted even
// if an earlier one fails; errors are joined, not discarded, so teardown
// failures are still observable by the caller even though they are never
// treated as fatal.
func closeSharedMemory(region []byte, path string, file *os.File) error {
	var errs []error
	if region != nil {
		if err := unix.Munmap(region); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
	}
	if file != nil {
		if err := file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("unlink: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("transport: shared memory teardown: %v", errs)
}
