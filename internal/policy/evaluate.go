package policy

import (
	"net"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Evaluator is a pure function object over one normalized Policy: no I/O,
// no logging, just (request) -> Action. Construct one per active policy
// (typically the Compose of every loaded policy) and reuse it for the
// lifetime of a Supervisor run.
type Evaluator struct {
	policy Policy
}

// NewEvaluator wraps a normalized Policy for repeated evaluation.
func NewEvaluator(p Policy) *Evaluator {
	return &Evaluator{policy: p}
}

// Policy returns the normalized policy this evaluator was built from.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// CheckFS evaluates a filesystem request: perm on the canonical path.
func (e *Evaluator) CheckFS(path string, perm FSPerm) Action {
	path = CanonicalizePath(path)
	var matched []Action
	for _, r := range e.policy.FSRules {
		if !r.HasPerm(perm) {
			continue
		}
		if fsPathMatches(r.Path, path) {
			matched = append(matched, r.Action)
		}
	}
	return resolve(matched, e.policy.Defaults.FS)
}

// fsPathMatches implements spec.md §4.6's fs matching rule: a glob-bearing
// rule path is matched with doublestar; otherwise canonical(path) must
// begin with the rule's path prefix at the string level — deliberately
// preserving the surprising "/tmp matches /tmpfile" source behavior spec.md
// §9 calls out, rather than enforcing path-segment boundaries.
func fsPathMatches(rulePath, path string) bool {
	if containsGlobChars(rulePath) {
		ok, err := doublestar.Match(rulePath, path)
		return err == nil && ok
	}
	return strings.HasPrefix(path, rulePath)
}

func containsGlobChars(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}

// CheckNet evaluates a network connect request.
func (e *Evaluator) CheckNet(ip net.IP, port int, proto Proto) Action {
	var matched []Action
	for _, r := range e.policy.NetRules {
		if r.Proto != proto {
			continue
		}
		if !cidrContains(r.CIDR, ip) {
			continue
		}
		if !portInAny(r.Ports, port) {
			continue
		}
		matched = append(matched, r.Action)
	}
	return resolve(matched, e.policy.Defaults.Net)
}

func cidrContains(cidr string, ip net.IP) bool {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return network.Contains(ip)
}

func portInAny(ranges []PortRange, port int) bool {
	for _, r := range ranges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

// CheckExec evaluates an exec request against exact-path rules.
func (e *Evaluator) CheckExec(path string) Action {
	var matched []Action
	for _, r := range e.policy.ExecRules {
		if r.Path == path {
			matched = append(matched, r.Action)
		}
	}
	return resolve(matched, e.policy.Defaults.Exec)
}

// resolve picks the highest-priority action among matched (deny > warn >
// allow); if nothing matched, the domain default applies.
func resolve(matched []Action, def Action) Action {
	if len(matched) == 0 {
		return def
	}
	best := matched[0]
	for _, a := range matched[1:] {
		if a.priority() > best.priority() {
			best = a
		}
	}
	return best
}
