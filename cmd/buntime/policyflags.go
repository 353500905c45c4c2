package main

import (
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/abgutierrez/buntime/internal/policy"
	"github.com/abgutierrez/buntime/internal/sandbox"
)

// flagSet mirrors spec.md §6's repeatable, comma-separated CLI flags: every
// --allow-*/--deny-* accepts a comma-separated list, and an empty value
// after the flag (e.g. bare "--allow-net") means "all" for that domain.
type flagSet struct {
	AllowNet  []string
	DenyNet   []string
	AllowRead []string
	DenyRead  []string
	AllowWrite []string
	DenyWrite  []string
	AllowRun  []string
	DenyRun   []string
	AllowEnv  []string
	DenyEnv   []string
	AllowFFI  bool
	DenyFFI   bool
	AllowSys  []string
	DenySys   []string
	AllowAll  bool
}

// splitFlagValue implements the "empty value = all" convention: a flag that
// was set but given no list means every entry matches, signaled here by a
// single "*" sentinel element.
func splitFlagValue(raw string, wasSet bool) []string {
	if !wasSet {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// toDocument lowers the parsed CLI flags into a policy.Document ready for
// Normalize. Network entries that aren't already an IP or CIDR are resolved
// once via the system resolver into a /32 (or /128) CIDR — a CLI
// convenience the on-disk policy schema itself does not offer (spec.md §3's
// net rules are CIDR-only).
func (f flagSet) toDocument() (policy.Document, error) {
	doc := policy.Document{Version: 1}

	doc.Defaults.FS = policy.Allow
	doc.Defaults.Net = policy.Allow
	doc.Defaults.Exec = policy.Allow

	if f.AllowAll {
		return doc, nil
	}

	if len(f.AllowRead) > 0 || len(f.DenyRead) > 0 {
		if !containsStar(f.AllowRead) {
			doc.Defaults.FS = policy.Deny
			// A fully-deny read default still needs the core system paths
			// (libc, /etc for DNS/SSL/locale, /proc, package-manager and
			// version-manager install trees) readable, or the worker
			// runtime itself fails to start. See sandbox.GetDefaultReadablePaths.
			for _, p := range sandbox.GetDefaultReadablePaths() {
				doc.FSRules = append(doc.FSRules, readRule(policy.Allow, p))
			}
		}
	}

	for _, p := range f.AllowWrite {
		doc.FSRules = append(doc.FSRules, writeRule(policy.Allow, p))
	}
	for _, p := range f.DenyWrite {
		doc.FSRules = append(doc.FSRules, writeRule(policy.Deny, p))
	}
	for _, p := range f.AllowRead {
		if p == "*" {
			continue
		}
		doc.FSRules = append(doc.FSRules, readRule(policy.Allow, p))
	}
	for _, p := range f.DenyRead {
		if p == "*" {
			continue
		}
		doc.FSRules = append(doc.FSRules, readRule(policy.Deny, p))
	}

	if len(f.AllowRun) > 0 && !containsStar(f.AllowRun) {
		doc.Defaults.Exec = policy.Deny
	}
	for _, p := range f.AllowRun {
		if p == "*" {
			continue
		}
		resolved, err := resolveExecPath(p)
		if err != nil {
			return policy.Document{}, err
		}
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Allow, Path: resolved})
	}
	for _, p := range f.DenyRun {
		if p == "*" {
			doc.Defaults.Exec = policy.Deny
			continue
		}
		resolved, err := resolveExecPath(p)
		if err != nil {
			return policy.Document{}, err
		}
		doc.ExecRules = append(doc.ExecRules, policy.ExecRule{Action: policy.Deny, Path: resolved})
	}

	if len(f.AllowNet) > 0 && !containsStar(f.AllowNet) {
		doc.Defaults.Net = policy.Deny
	}
	for _, entry := range f.AllowNet {
		if entry == "*" {
			continue
		}
		rule, err := parseNetEntry(policy.Allow, entry)
		if err != nil {
			return policy.Document{}, err
		}
		doc.NetRules = append(doc.NetRules, rule)
	}
	for _, entry := range f.DenyNet {
		if entry == "*" {
			doc.Defaults.Net = policy.Deny
			continue
		}
		rule, err := parseNetEntry(policy.Deny, entry)
		if err != nil {
			return policy.Document{}, err
		}
		doc.NetRules = append(doc.NetRules, rule)
	}

	syscalls := map[string]bool{}
	for _, s := range f.DenySys {
		if s == "*" {
			continue
		}
		syscalls[s] = true
	}
	for _, s := range f.AllowSys {
		delete(syscalls, s)
	}
	if len(syscalls) > 0 {
		doc.AntiEscape = policy.AntiEscape{DenySyscalls: syscalls}
	}

	return doc, nil
}

func containsStar(vals []string) bool {
	for _, v := range vals {
		if v == "*" {
			return true
		}
	}
	return false
}

// writeRule builds a write-permission FSRule from a CLI --allow-write/
// --deny-write entry. The path is run through sandbox.NormalizePath first so
// "~", "./relative", and bare relative entries resolve the same way they
// would for a human typing a path at a shell, rather than matching literally
// against whatever string the user happened to type.
func writeRule(action policy.Action, path string) policy.FSRule {
	return policy.FSRule{
		Action: action,
		Path:   sandbox.NormalizePath(path),
		Perms: map[policy.FSPerm]bool{
			policy.PermWriteFile: true,
			policy.PermWriteDir:  true,
			policy.PermMakeFile:  true,
			policy.PermMakeDir:   true,
			policy.PermRemoveFile: true,
			policy.PermRemoveDir:  true,
		},
	}
}

func readRule(action policy.Action, path string) policy.FSRule {
	return policy.FSRule{
		Action: action,
		Path:   sandbox.NormalizePath(path),
		Perms: map[policy.FSPerm]bool{
			policy.PermReadFile: true,
			policy.PermReadDir:  true,
		},
	}
}

// resolveExecPath resolves a bare command name (e.g. "python3") to an
// absolute path via PATH lookup; entries already absolute pass through.
func resolveExecPath(entry string) (string, error) {
	if strings.HasPrefix(entry, "/") {
		return entry, nil
	}
	resolved, err := exec.LookPath(entry)
	if err != nil {
		return "", fmt.Errorf("resolve --allow-run/--deny-run entry %q: %w", entry, err)
	}
	return resolved, nil
}

// parseNetEntry parses a "host[:ports]" or "cidr[:ports]" CLI entry into a
// NetRule. A bare hostname is resolved once via the system resolver into a
// host-exact CIDR (/32 for IPv4, /128 for IPv6).
func parseNetEntry(action policy.Action, entry string) (policy.NetRule, error) {
	host := entry
	portSpec := ""
	if idx := strings.LastIndex(entry, ":"); idx >= 0 && !strings.Contains(entry[idx+1:], "/") {
		candidatePort := entry[idx+1:]
		if _, err := policy.ParsePortSpec(candidatePort); err == nil {
			host = entry[:idx]
			portSpec = candidatePort
		}
	}

	cidr := host
	if !strings.Contains(host, "/") {
		ip := net.ParseIP(host)
		if ip == nil {
			ips, err := net.LookupHost(host)
			if err != nil || len(ips) == 0 {
				return policy.NetRule{}, fmt.Errorf("resolve net entry %q: %w", entry, err)
			}
			ip = net.ParseIP(ips[0])
		}
		if ip.To4() != nil {
			cidr = ip.String() + "/32"
		} else {
			cidr = ip.String() + "/128"
		}
	}

	ports, err := policy.ParsePortSpec(portSpec)
	if err != nil {
		return policy.NetRule{}, fmt.Errorf("net entry %q: %w", entry, err)
	}
	if len(ports) == 0 {
		ports = []policy.PortRange{{From: 0, To: 65535}}
	}

	return policy.NetRule{Action: action, Proto: policy.ProtoTCP, CIDR: cidr, Ports: ports}, nil
}

// envAllowList computes which inherited environment variable names the
// worker may see: buntime's env domain sits outside the fs/net/exec policy
// model (spec.md §3 has no "env" domain), so it is enforced here, at the
// launch boundary, rather than in the Evaluator.
func (f flagSet) envAllowList(names []string) map[string]bool {
	allow := map[string]bool{}
	if f.AllowEnv == nil && f.DenyEnv == nil {
		for _, n := range names {
			allow[n] = true
		}
		return allow
	}
	if containsStar(f.AllowEnv) {
		for _, n := range names {
			allow[n] = true
		}
	} else {
		for _, n := range f.AllowEnv {
			allow[n] = true
		}
	}
	if containsStar(f.DenyEnv) {
		return map[string]bool{}
	}
	for _, n := range f.DenyEnv {
		delete(allow, n)
	}
	return allow
}
