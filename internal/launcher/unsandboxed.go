//go:build !linux

package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/abgutierrez/buntime/internal/supervisor"
)

// Unsandboxed runs the worker as a plain child process with no namespace,
// chroot, or veth isolation: the non-Linux counterpart to Linux, which
// requires bubblewrap. Every filesystem/network/exec check still flows
// through the ring-buffer transport and the Supervisor's policy
// evaluation; only OS-level containment is absent.
type Unsandboxed struct {
	Debug bool
}

// New constructs the Unsandboxed launcher on non-Linux platforms. noSandbox
// is accepted only so callers can use the same signature as the Linux
// launcher's New; non-Linux platforms have no sandboxed mode to opt out of.
func New(noSandbox, debug bool) *Unsandboxed {
	return &Unsandboxed{Debug: debug}
}

func (l *Unsandboxed) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	binary := spec.WorkerBinary
	if binary == "" {
		return nil, fmt.Errorf("launcher: no worker binary configured")
	}
	binaryPath, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("launcher: worker runtime %q not found: %w", binary, err)
	}

	fmt.Fprintln(os.Stderr, "[buntime:launcher] WARNING: running worker without OS-level sandboxing (namespaces require Linux)")

	args := workerArgv(spec)
	if l.Debug {
		fmt.Fprintf(os.Stderr, "[buntime:launcher] %s %v\n", binaryPath, args)
	}

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Env = sanitizedEnv(spec)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	proc, err := startInteractiveOrPlain(cmd, spec.Interactive)
	if err != nil {
		return nil, fmt.Errorf("launcher: start worker: %w", err)
	}
	return proc, nil
}
