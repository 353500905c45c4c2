package policy

// Compose merges an ordered list of normalized policies into one, per
// spec.md §4.5:
//   - version is always 1
//   - plugins.* is the logical OR of every input
//   - defaults.<domain> is deny if any input says deny, else allow
//   - rule arrays are concatenated in order, never deduplicated (the
//     evaluator resolves matches by deny > warn > allow, not by order)
//   - antiEscape.denySyscalls and audit.events are set-unioned
//   - audit.enabled is the logical OR of every input
//
// An empty input list yields the fully open policy: all defaults allow, no
// rules, no audit.
func Compose(policies []Policy) Policy {
	out := Policy{
		Version: 1,
		Defaults: Defaults{
			FS:   Allow,
			Net:  Allow,
			Exec: Allow,
		},
		AntiEscape: AntiEscape{DenySyscalls: map[string]bool{}},
		Audit:      Audit{Events: map[AuditEvent]bool{}},
	}

	for _, p := range policies {
		out.Plugins.Namespaces = out.Plugins.Namespaces || p.Plugins.Namespaces
		out.Plugins.Landlock = out.Plugins.Landlock || p.Plugins.Landlock
		out.Plugins.Seccomp = out.Plugins.Seccomp || p.Plugins.Seccomp

		if p.Defaults.FS == Deny {
			out.Defaults.FS = Deny
		}
		if p.Defaults.Net == Deny {
			out.Defaults.Net = Deny
		}
		if p.Defaults.Exec == Deny {
			out.Defaults.Exec = Deny
		}

		out.FSRules = append(out.FSRules, p.FSRules...)
		out.NetRules = append(out.NetRules, p.NetRules...)
		out.ExecRules = append(out.ExecRules, p.ExecRules...)

		for syscall := range p.AntiEscape.DenySyscalls {
			out.AntiEscape.DenySyscalls[syscall] = true
		}
		for event := range p.Audit.Events {
			out.Audit.Events[event] = true
		}
		out.Audit.Enabled = out.Audit.Enabled || p.Audit.Enabled
	}

	return out
}
