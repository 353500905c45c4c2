//go:build linux

package telemetry

import (
	"fmt"
	"os"
)

// newCollector reports (and then declines) the one condition under which a
// real eBPF syscall collector could attach: running as root on Linux. The
// attach/load itself is the external eBPF collaborator spec.md §1 marks out
// of scope for the core, so this still returns NoopCollector — the
// attachment point for that collaborator, once it exists, is here.
func newCollector() Collector {
	if os.Geteuid() != 0 {
		return NoopCollector{}
	}
	fmt.Fprintln(os.Stderr, "[buntime:telemetry] running as root but no eBPF syscall collector is attached; syscall heatmap disabled")
	return NoopCollector{}
}
