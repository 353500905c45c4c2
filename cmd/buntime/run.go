package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abgutierrez/buntime/internal/config"
	"github.com/abgutierrez/buntime/internal/launcher"
	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/supervisor"
)

// policyFlagNames lists every --allow-*/--deny-* list flag registered as a
// raw, comma-separated string (spec.md §6: "repeatable, comma-separated...
// empty value = all"). Each is wired with NoOptDefVal so a bare flag with no
// "=value" still registers as Changed with an empty string, which
// splitFlagValue maps to the "*" (all) sentinel.
var policyFlagNames = []string{
	"allow-net", "deny-net", "allow-read", "deny-read",
	"allow-write", "deny-write", "allow-run", "deny-run",
	"allow-env", "deny-env", "allow-sys", "deny-sys",
}

func newRunCmd() *cobra.Command {
	raw := map[string]*string{}
	var (
		f          flagSet
		policyPath string
		shmSizeRaw string
		workerName string
		noSandbox  bool
		debugUI    bool
	)

	cmd := &cobra.Command{
		Use:   "run <entry> [args...]",
		Short: "Run a guest script under a supervised sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := map[string]bool{}
			for _, name := range policyFlagNames {
				if cmd.Flags().Changed(name) {
					explicit[name] = true
				}
			}
			if cmd.Flags().Changed("allow-ffi") {
				explicit["allow-ffi"] = true
			}
			if cmd.Flags().Changed("deny-ffi") {
				explicit["deny-ffi"] = true
			}
			if cmd.Flags().Changed("allow-all") {
				explicit["allow-all"] = true
			}

			f.AllowNet = splitFlagValue(*raw["allow-net"], explicit["allow-net"])
			f.DenyNet = splitFlagValue(*raw["deny-net"], explicit["deny-net"])
			f.AllowRead = splitFlagValue(*raw["allow-read"], explicit["allow-read"])
			f.DenyRead = splitFlagValue(*raw["deny-read"], explicit["deny-read"])
			f.AllowWrite = splitFlagValue(*raw["allow-write"], explicit["allow-write"])
			f.DenyWrite = splitFlagValue(*raw["deny-write"], explicit["deny-write"])
			f.AllowRun = splitFlagValue(*raw["allow-run"], explicit["allow-run"])
			f.DenyRun = splitFlagValue(*raw["deny-run"], explicit["deny-run"])
			f.AllowEnv = splitFlagValue(*raw["allow-env"], explicit["allow-env"])
			f.DenyEnv = splitFlagValue(*raw["deny-env"], explicit["deny-env"])
			f.AllowSys = splitFlagValue(*raw["allow-sys"], explicit["allow-sys"])
			f.DenySys = splitFlagValue(*raw["deny-sys"], explicit["deny-sys"])

			applyPodOverrides(&f, os.Environ(), explicit)
			// The remaining POD_* variables fill their plain flags through
			// cobra, so they are parsed exactly like the flag values.
			for podName, flag := range podFlagNames {
				switch flag {
				case "policy", "shm-size", "worker", "no-sandbox", "debug-ui":
					if v, ok := lookupEnv(os.Environ(), podName); ok && !cmd.Flags().Changed(flag) {
						_ = cmd.Flags().Set(flag, v)
					}
				}
			}
			warnIfUnknownPodVar(os.Stderr, os.Environ())

			return runGuest(cmd, runOptions{
				entry:      args[0],
				args:       args[1:],
				flags:      f,
				policyPath: policyPath,
				shmSizeRaw: shmSizeRaw,
				workerName: workerName,
				noSandbox:  noSandbox,
				debugUI:    debugUI,
			})
		},
	}

	for _, name := range policyFlagNames {
		raw[name] = cmd.Flags().String(name, "", policyFlagUsage[name])
		cmd.Flags().Lookup(name).NoOptDefVal = ""
	}

	cmd.Flags().BoolVar(&f.AllowFFI, "allow-ffi", false, "advise the worker it may use FFI (advisory only, not enforced by the supervisor)")
	cmd.Flags().BoolVar(&f.DenyFFI, "deny-ffi", false, "advise the worker to deny FFI (advisory only)")
	cmd.Flags().BoolVar(&f.AllowAll, "allow-all", false, "disable all policy enforcement (fs/net/exec default to allow)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "load a policy document from this file")
	cmd.Flags().StringVar(&shmSizeRaw, "shm-size", "", "shared memory region size, e.g. 4mb (default 1mb)")
	cmd.Flags().StringVar(&workerName, "worker", "bun", "worker runtime: python or bun")
	cmd.Flags().BoolVar(&noSandbox, "no-sandbox", false, "run the worker without OS-level namespace/chroot isolation")
	cmd.Flags().BoolVar(&debugUI, "debug-ui", false, "enable verbose launcher diagnostics on stderr")

	return cmd
}

var policyFlagUsage = map[string]string{
	"allow-net":   "allow network destinations (comma-separated host[:ports], empty = all)",
	"deny-net":    "deny network destinations",
	"allow-read":  "allow filesystem read paths (empty = all)",
	"deny-read":   "deny filesystem read paths",
	"allow-write": "allow filesystem write paths",
	"deny-write":  "deny filesystem write paths",
	"allow-run":   "allow exec of these commands (empty = all)",
	"deny-run":    "deny exec of these commands",
	"allow-env":   "allow these environment variables through to the worker (empty = all)",
	"deny-env":    "deny these environment variables from the worker",
	"allow-sys":   "remove these syscalls from the worker's deny-list",
	"deny-sys":    "add these syscalls to the worker's deny-list",
}

type runOptions struct {
	entry      string
	args       []string
	flags      flagSet
	policyPath string
	shmSizeRaw string
	workerName string
	noSandbox  bool
	debugUI    bool
}

func runGuest(cmd *cobra.Command, opts runOptions) error {
	doc, err := opts.flags.toDocument()
	if err != nil {
		return fmt.Errorf("build policy from flags: %w", err)
	}

	policyKeys := []string{"cli-flags"}
	policies := []policy.Policy{}

	flagPolicy, err := policy.Normalize(doc)
	if err != nil {
		return fmt.Errorf("normalize flag-derived policy: %w", err)
	}
	policies = append(policies, flagPolicy)

	if opts.policyPath != "" {
		policyKeys = append(policyKeys, opts.policyPath)
	}

	if podDoc, ok, err := podPolicyDocument(os.Environ()); err != nil {
		return err
	} else if ok {
		podPolicy, err := policy.Normalize(podDoc)
		if err != nil {
			return fmt.Errorf("normalize POD_POLICY_JSON: %w", err)
		}
		policies = append(policies, podPolicy)
		policyKeys = append(policyKeys, "pod-policy-json")
	}

	composite := policy.Compose(policies)

	shmSize, err := parseShmSize(opts.shmSizeRaw)
	if err != nil {
		return err
	}
	workerBinary, err := workerBinaryFor(opts.workerName)
	if err != nil {
		return err
	}

	entryBytes, err := os.ReadFile(opts.entry)
	if err != nil {
		return fmt.Errorf("read entry %q: %w", opts.entry, err)
	}

	workdir, err := os.Getwd()
	if err != nil {
		workdir = "."
	}

	l := launcher.New(opts.noSandbox, opts.debugUI)
	sup := supervisor.New(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		_ = sup.Interrupt()
	}()

	events := sup.Events()
	done := make(chan int, 1)
	go watchEvents(cmd, events, done)

	workerEnv := workerEnvFromPrefixed(os.Environ(), nil)
	startCfg := supervisor.StartConfig{
		PolicyPath:   opts.policyPath,
		Override:     composite,
		HasOverride:  true,
		WorkerBinary: workerBinary,
		Entry:        filepath.Base(opts.entry),
		Args:         opts.args,
		Env:          workerEnv,
		ShmName:      fmt.Sprintf("buntime-%d", os.Getpid()),
		ShmSize:      shmSize,
		ReadyTimeout: 10 * time.Second,
		Interactive:  isTerminal(os.Stdin),
		ProxyAddr:    proxyAddrFor(opts.noSandbox),
	}

	if err := sup.Start(ctx, startCfg); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	if err := config.PersistActive(workdir, sup.ActivePolicy(), policyKeys, config.SourceRun); err != nil {
		fmt.Fprintf(os.Stderr, "[buntime] WARNING: failed to persist active policy: %v\n", err)
	}

	if ok := sup.SendCode(entryBytes); !ok {
		_ = sup.Stop()
		return fmt.Errorf("submit code: ring buffer rejected or supervisor not running")
	}

	exitCode := <-done
	_ = sup.Stop()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func watchEvents(cmd *cobra.Command, events <-chan supervisor.Event, done chan<- int) {
	for ev := range events {
		switch ev.Kind {
		case supervisor.EventOutput:
			_, _ = cmd.OutOrStdout().Write(ev.Output)
		case supervisor.EventError:
			fmt.Fprintf(os.Stderr, "[buntime] %s\n", ev.Message)
		case supervisor.EventState:
			if ev.Signal == "exec_end" {
				done <- ev.ExitCode
				return
			}
			if ev.Worker == supervisor.Stopped {
				done <- 0
				return
			}
		}
	}
	done <- 0
}

// proxyAddrFor reports the veth-side address the Supervisor's netproxy
// listeners should bind to, or "" to disable them entirely: the proxy only
// makes sense in front of the isolated network namespace the Linux launcher
// builds, never for --no-sandbox or non-Linux runs.
func proxyAddrFor(noSandbox bool) string {
	if noSandbox || runtime.GOOS != "linux" {
		return ""
	}
	return launcher.ProxyHostPort
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
