//go:build linux

package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/sandbox"
	"github.com/abgutierrez/buntime/internal/supervisor"
)

// Linux launches the worker under a bubblewrap sandbox, deriving bind mounts
// and network isolation from the active Policy instead of the teacher's
// config.Config. It requires bwrap on PATH: unless NoSandbox is set, Launch
// returns an error when bwrap isn't found, and nothing falls back to an
// unsandboxed launch.
type Linux struct {
	Debug bool
	// NoSandbox, when set, skips bubblewrap entirely and runs the worker as
	// a plain child process (the --no-sandbox CLI flag, honored on Linux
	// too rather than only on platforms that lack bwrap).
	NoSandbox bool
}

// New constructs the Linux launcher.
func New(noSandbox, debug bool) *Linux {
	return &Linux{Debug: debug, NoSandbox: noSandbox}
}

func (l *Linux) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	binary := spec.WorkerBinary
	if binary == "" {
		return nil, fmt.Errorf("launcher: no worker binary configured")
	}
	binaryPath, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("launcher: worker runtime %q not found: %w", binary, err)
	}

	if l.NoSandbox {
		return l.launchUnsandboxed(ctx, binaryPath, spec)
	}

	if _, err := exec.LookPath("bwrap"); err != nil {
		return nil, fmt.Errorf("launcher: bubblewrap (bwrap) required on linux: %w", err)
	}

	args := l.buildBwrapArgs(spec)
	args = append(args, "--", binaryPath)
	args = append(args, workerArgv(spec)...)

	if l.Debug {
		fmt.Fprintf(os.Stderr, "[buntime:launcher] bwrap %v\n", args)
	}

	cmd := exec.CommandContext(ctx, "bwrap", args...)
	cmd.Env = l.workerEnv(spec)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	proc, err := startInteractiveOrPlain(cmd, spec.Interactive)
	if err != nil {
		return nil, fmt.Errorf("launcher: start bwrap: %w", err)
	}
	return proc, nil
}

// launchUnsandboxed runs the worker binary directly with no bwrap namespace
// or chroot, used when --no-sandbox is passed even on a Linux host.
func (l *Linux) launchUnsandboxed(ctx context.Context, binaryPath string, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	args := workerArgv(spec)
	if l.Debug {
		fmt.Fprintf(os.Stderr, "[buntime:launcher] (unsandboxed) %s %v\n", binaryPath, args)
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

// workerEnv sanitizes POD_* and, when the network domain isn't fully open,
// injects the proxy hints spec.md §6 fixes: HTTP_PROXY/HTTPS_PROXY pointed
// at the supervisor-side veth address, NO_PROXY for loopback.
func (l *Linux) workerEnv(spec supervisor.LaunchSpec) []string {
	env := sanitizedEnv(spec)
	if !sandbox.NetworkFullyOpen(spec.Policy) {
		// These override whatever the worker requested via WORKER_*: the
		// sandboxed proxy route is not something a guest script may opt out
		// of by smuggling its own HTTP_PROXY through the env domain. The
		// veth-side address is fixed by spec.md §6, not by whatever
		// localhost resolves to inside the unshared network namespace.
		overrides := map[string]bool{
			"HTTP_PROXY": true, "HTTPS_PROXY": true, "NO_PROXY": true, "BUNTIME_SANDBOX": true,
		}
		filtered := env[:0]
		for _, kv := range env {
			if idx := indexByte(kv, '='); idx >= 0 && overrides[kv[:idx]] {
				continue
			}
			filtered = append(filtered, kv)
		}
		proxyURL := "http://" + ProxyHostPort
		env = append(filtered,
			"HTTP_PROXY="+proxyURL,
			"HTTPS_PROXY="+proxyURL,
			"NO_PROXY=localhost,127.0.0.1",
			"BUNTIME_SANDBOX=1",
		)
	}
	return env
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// buildBwrapArgs adapts WrapCommandLinuxWithOptions from a config.Config
// reading to a policy.Policy reading: every allow-write fs rule becomes a
// writable bind, every deny fs rule becomes a mask, and the network
// namespace is unshared unless the policy leaves net fully open.
func (l *Linux) buildBwrapArgs(spec supervisor.LaunchSpec) []string {
	args := []string{"--new-session", "--die-with-parent", "--unshare-pid"}

	if !sandbox.NetworkFullyOpen(spec.Policy) && sandbox.CanUnshareNet() {
		args = append(args, "--unshare-net")
	}

	args = append(args, "--ro-bind", "/", "/")
	args = append(args, "--dev-bind", "/dev", "/dev")
	args = append(args, "--proc", "/proc")
	args = append(args, "--tmpfs", "/tmp")

	seen := map[string]bool{}
	for _, r := range spec.Policy.FSRules {
		// A rule path carrying a trailing "/**" glob (allow everything under a
		// directory) names no literal file bwrap can bind; mount the directory
		// the glob is rooted at instead.
		mountPath := sandbox.RemoveTrailingGlobSuffix(r.Path)
		if !sandbox.PathExists(mountPath) || seen[r.Path] {
			continue
		}
		switch r.Action {
		case policy.Allow:
			if r.HasPerm(policy.PermWriteFile) || r.HasPerm(policy.PermWriteDir) || r.HasPerm(policy.PermMakeFile) || r.HasPerm(policy.PermMakeDir) {
				seen[r.Path] = true
				if source, ok := sandbox.ResolveMountSource(mountPath); ok {
					args = append(args, "--bind", source, mountPath)
				}
			}
		case policy.Deny:
			seen[r.Path] = true
			if sandbox.IsDirectory(mountPath) {
				args = append(args, "--tmpfs", mountPath)
			} else {
				args = append(args, "--ro-bind", "/dev/null", mountPath)
			}
		}
	}

	for _, p := range sandbox.DangerousPaths(mustGetwd()) {
		if seen[p] || !sandbox.CanMountOver(p) {
			continue
		}
		seen[p] = true
		args = append(args, "--ro-bind", "/dev/null", p)
	}

	return args
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	return filepath.Clean(wd)
}
