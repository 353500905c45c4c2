// Package launcher provides the Worker Launcher collaborator the Supervisor
// core is deliberately agnostic to: given a Transport's socket path, shared
// memory name/size, and a normalized Policy, spawn the worker process and
// return a handle the Supervisor can wait on, signal, and kill.
//
// internal/launcher.Linux (linux.go) adapts the teacher's bubblewrap-based
// sandbox into a policy-driven one; the //go:build !linux stub runs the
// worker unsandboxed with a loud warning, matching the teacher's
// linux.go/linux_stub.go split.
package launcher

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/abgutierrez/buntime/internal/supervisor"
)

// ProxyHostPort is the veth-side address the Linux launcher injects as
// HTTP_PROXY/HTTPS_PROXY and the address the Supervisor's netproxy listener
// binds to when the network domain isn't fully open (spec.md §6).
const ProxyHostPort = "169.254.1.1:8080"

// InteractiveTTY, when non-nil, is consulted instead of cmd.Start whenever a
// LaunchSpec has Interactive set. cmd/buntime wires this to its
// creack/pty-backed relay (pty_runtime_linux.go) at startup so
// internal/launcher, which must stay buildable without a controlling
// terminal in tests, never imports the pty package directly. The returned
// cleanup func is called once, from Wait, after the command exits.
var InteractiveTTY func(cmd *exec.Cmd) (cleanup func(), err error)

// process adapts an *exec.Cmd to supervisor.Process.
type process struct {
	cmd     *exec.Cmd
	cleanup func()
}

func newProcess(cmd *exec.Cmd) *process {
	return &process{cmd: cmd}
}

// startInteractiveOrPlain starts cmd via InteractiveTTY when set and the
// spec requests an interactive session, falling back to a plain cmd.Start.
func startInteractiveOrPlain(cmd *exec.Cmd, interactive bool) (*process, error) {
	if interactive && InteractiveTTY != nil {
		cleanup, err := InteractiveTTY(cmd)
		if err != nil {
			return nil, err
		}
		return &process{cmd: cmd, cleanup: cleanup}, nil
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return newProcess(cmd), nil
}

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if p.cleanup != nil {
		p.cleanup()
	}
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *process) Signal(name string) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(signalByName(name))
}

func (p *process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func signalByName(name string) os.Signal {
	switch name {
	case "INT":
		return syscall.SIGINT
	case "TERM":
		return syscall.SIGTERM
	case "HUP":
		return syscall.SIGHUP
	default:
		return syscall.SIGTERM
	}
}

// workerArgv builds the fixed three-element positional argv spec.md §6
// mandates: socket path, shared-memory name, shared-memory size in bytes.
func workerArgv(spec supervisor.LaunchSpec) []string {
	return []string{spec.SocketPath, spec.ShmName, strconv.Itoa(spec.ShmSize)}
}

// sanitizedEnv scrubs POD_* from the inherited environment (spec.md §6: all
// POD_* are consumed and scrubbed before spawning the worker) and merges in
// spec.Env, which already carries the WORKER_*-derived overrides the config
// layer computed; a name present in both wins from spec.Env, since the
// worker's WORKER_* request always takes precedence over an inherited or
// supervisor-injected default of the same name.
func sanitizedEnv(spec supervisor.LaunchSpec) []string {
	order := make([]string, 0, len(os.Environ())+len(spec.Env))
	values := map[string]string{}
	set := func(kv string) {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			return
		}
		name := kv[:idx]
		if _, exists := values[name]; !exists {
			order = append(order, name)
		}
		values[name] = kv[idx+1:]
	}

	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "POD_") {
			continue
		}
		set(kv)
	}
	for _, kv := range spec.Env {
		set(kv)
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		out = append(out, name+"="+values[name])
	}
	return out
}
