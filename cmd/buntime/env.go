package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abgutierrez/buntime/internal/policy"
)

// podFlagNames maps each POD_* environment variable to the flag it mirrors,
// per spec.md §6. A POD_* variable is read only when the matching CLI flag
// was never explicitly set, so a flag on the command line always wins.
var podFlagNames = map[string]string{
	"POD_ALLOW_NET":   "allow-net",
	"POD_DENY_NET":    "deny-net",
	"POD_ALLOW_READ":  "allow-read",
	"POD_DENY_READ":   "deny-read",
	"POD_ALLOW_WRITE": "allow-write",
	"POD_DENY_WRITE":  "deny-write",
	"POD_ALLOW_RUN":   "allow-run",
	"POD_DENY_RUN":    "deny-run",
	"POD_ALLOW_ENV":   "allow-env",
	"POD_DENY_ENV":    "deny-env",
	"POD_ALLOW_FFI":   "allow-ffi",
	"POD_DENY_FFI":    "deny-ffi",
	"POD_ALLOW_SYS":   "allow-sys",
	"POD_DENY_SYS":    "deny-sys",
	"POD_ALLOW_ALL":   "allow-all",
	"POD_POLICY":      "policy",
	"POD_SHM_SIZE":    "shm-size",
	"POD_WORKER":      "worker",
	"POD_NO_SANDBOX":  "no-sandbox",
	"POD_DEBUG_UI":    "debug-ui",
}

// scrubPodEnv returns the process environment with every POD_* variable
// removed, per spec.md §6: "All POD_* are consumed and scrubbed before
// spawning the worker."
func scrubPodEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			name = kv[:idx]
		}
		if strings.HasPrefix(name, "POD_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// workerEnvFromPrefixed strips the WORKER_ prefix from every WORKER_*
// environment variable and forwards it as a plain variable, per spec.md §6:
// "WORKER_FOO=bar becomes FOO=bar"; a later WORKER_* entry overrides an
// earlier supervisor-supplied default of the same name.
func workerEnvFromPrefixed(env []string, defaults []string) []string {
	merged := map[string]string{}
	order := []string{}
	set := func(name, value string) {
		if _, exists := merged[name]; !exists {
			order = append(order, name)
		}
		merged[name] = value
	}

	for _, kv := range defaults {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		set(kv[:idx], kv[idx+1:])
	}

	for _, kv := range env {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		name, value := kv[:idx], kv[idx+1:]
		if !strings.HasPrefix(name, "WORKER_") {
			continue
		}
		set(strings.TrimPrefix(name, "WORKER_"), value)
	}

	out := make([]string, 0, len(order))
	for _, name := range order {
		out = append(out, name+"="+merged[name])
	}
	return out
}

// podPolicyDocument decodes POD_POLICY_JSON, a base64-encoded policy
// document, when present.
func podPolicyDocument(env []string) (policy.Document, bool, error) {
	raw, ok := lookupEnv(env, "POD_POLICY_JSON")
	if !ok || raw == "" {
		return policy.Document{}, false, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return policy.Document{}, false, fmt.Errorf("decode POD_POLICY_JSON: %w", err)
	}
	doc, err := policy.ParseDocument(decoded)
	if err != nil {
		return policy.Document{}, false, fmt.Errorf("parse POD_POLICY_JSON: %w", err)
	}
	return doc, true, nil
}

func lookupEnv(env []string, name string) (string, bool) {
	prefix := name + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// applyPodOverrides fills any flag the caller did not set explicitly from
// its matching POD_* variable, mutating f in place. explicit records which
// flag names were passed on the command line (cobra's Changed).
func applyPodOverrides(f *flagSet, env []string, explicit map[string]bool) {
	get := func(name string) (string, bool) { return lookupEnv(env, name) }

	assignList := func(flag string, dst *[]string, podName string) {
		if explicit[flag] {
			return
		}
		if raw, ok := get(podName); ok {
			*dst = splitFlagValue(raw, true)
		}
	}

	assignList("allow-net", &f.AllowNet, "POD_ALLOW_NET")
	assignList("deny-net", &f.DenyNet, "POD_DENY_NET")
	assignList("allow-read", &f.AllowRead, "POD_ALLOW_READ")
	assignList("deny-read", &f.DenyRead, "POD_DENY_READ")
	assignList("allow-write", &f.AllowWrite, "POD_ALLOW_WRITE")
	assignList("deny-write", &f.DenyWrite, "POD_DENY_WRITE")
	assignList("allow-run", &f.AllowRun, "POD_ALLOW_RUN")
	assignList("deny-run", &f.DenyRun, "POD_DENY_RUN")
	assignList("allow-env", &f.AllowEnv, "POD_ALLOW_ENV")
	assignList("deny-env", &f.DenyEnv, "POD_DENY_ENV")
	assignList("allow-sys", &f.AllowSys, "POD_ALLOW_SYS")
	assignList("deny-sys", &f.DenySys, "POD_DENY_SYS")

	if !explicit["allow-ffi"] {
		if raw, ok := get("POD_ALLOW_FFI"); ok {
			f.AllowFFI, _ = strconv.ParseBool(raw)
		}
	}
	if !explicit["deny-ffi"] {
		if raw, ok := get("POD_DENY_FFI"); ok {
			f.DenyFFI, _ = strconv.ParseBool(raw)
		}
	}
	if !explicit["allow-all"] {
		if raw, ok := get("POD_ALLOW_ALL"); ok {
			f.AllowAll, _ = strconv.ParseBool(raw)
		}
	}
}

func warnIfUnknownPodVar(stderr *os.File, env []string) {
	for _, kv := range env {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		name := kv[:idx]
		if !strings.HasPrefix(name, "POD_") {
			continue
		}
		if name == "POD_POLICY_JSON" {
			continue
		}
		if _, known := podFlagNames[name]; !known {
			fmt.Fprintf(stderr, "[buntime] WARNING: unrecognized %s environment variable\n", name)
		}
	}
}
