//go:build linux

package sandbox

import (
	"os/exec"
	"path/filepath"
	"sync"
)

var (
	unshareNetOnce   sync.Once
	unshareNetResult bool
)

// CanUnshareNet probes whether this host can actually create a network
// namespace under bwrap: containerized environments (Docker, many CI
// runners) often lack CAP_NET_ADMIN even though bwrap itself is present, in
// which case --unshare-net would make bwrap fail outright rather than
// degrade gracefully. The probe result is cached for the process lifetime
// since the answer cannot change between launches.
func CanUnshareNet() bool {
	unshareNetOnce.Do(func() {
		if _, err := exec.LookPath("bwrap"); err != nil {
			unshareNetResult = false
			return
		}
		cmd := exec.Command("bwrap", "--unshare-net", "--ro-bind", "/", "/", "--", "true")
		unshareNetResult = cmd.Run() == nil
	})
	return unshareNetResult
}

// resolvePathForMount resolves path through any symlinks before it is handed
// to bwrap as a bind-mount source: bwrap binds the literal path it is given,
// so a dangling symlink (a stale .gitconfig left in a dotfiles checkout, for
// instance) would otherwise silently bind nothing useful inside the sandbox.
// ok is false when path does not resolve to a real file (a broken symlink),
// in which case the caller should skip the mount entirely.
func resolvePathForMount(path string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	return resolved, true
}

// ResolveMountSource is resolvePathForMount's exported form, called by
// internal/launcher when it builds the bwrap bind-mount argument list for an
// fs rule's path.
func ResolveMountSource(path string) (string, bool) {
	return resolvePathForMount(path)
}
