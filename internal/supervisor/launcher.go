package supervisor

import (
	"context"

	"github.com/abgutierrez/buntime/internal/policy"
)

// LaunchSpec is everything a Launcher needs to start a worker process. The
// Supervisor is deliberately agnostic to how (or whether) the launcher
// constructs namespaces, chroots, or a veth pair: it only needs the returned
// Process back.
type LaunchSpec struct {
	SocketPath string
	ShmName    string
	ShmSize    int

	// WorkerBinary is the interpreter runtime harness to execute
	// (resolved from the CLI's --worker flag, e.g. a bundled python3 or
	// bun script that speaks the ring/socket protocol). Entry and Args
	// are the guest script and its argv, forwarded to the runtime
	// harness as informational environment rather than process argv:
	// spec.md §6 fixes the worker's positional arguments to exactly
	// (socket_path, shm_name, shm_size_bytes).
	WorkerBinary string
	Entry        string
	Args         []string

	Env         []string
	Policy      policy.Policy
	Interactive bool
}

// Process is the handle a Launcher hands back for the spawned worker. It is
// intentionally narrow: the Supervisor never needs anything about the
// process beyond waiting on it, signaling it, and killing it.
type Process interface {
	Wait() (exitCode int, err error)
	Signal(name string) error
	Kill() error
}

// Launcher is the worker-spawning collaborator the core is agnostic to
// (spec.md §2 item 8). internal/launcher supplies the real Linux
// implementation and the non-Linux stub; tests use an in-package fake.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}
