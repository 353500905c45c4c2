package sandbox

import "github.com/abgutierrez/buntime/internal/policy"

// NetworkFullyOpen reports whether a policy's net domain grants unrestricted
// access: default allow with no narrowing rules. A launcher can skip network
// namespace isolation and proxy injection entirely in that case, the same
// way the wildcard-allowedDomains escape hatch did.
func NetworkFullyOpen(p policy.Policy) bool {
	return p.Defaults.Net == policy.Allow && len(p.NetRules) == 0
}
