//go:build !linux

package telemetry

// newCollector is always NoopCollector off Linux: eBPF syscall telemetry is
// a Linux-only concept (spec.md §9).
func newCollector() Collector { return NoopCollector{} }
