//go:build !linux

package sandbox

// CanUnshareNet is always false off Linux: bwrap and network namespaces are
// a Linux-only concept, so internal/launcher falls back to its unsandboxed
// stub on other platforms.
func CanUnshareNet() bool { return false }
