package policy

import (
	"fmt"
	"net"
)

// Validate checks a Document against the schema invariants spec.md §4.4
// requires: version must be 1, every rule action must be one of
// allow/deny/warn, CIDRs must parse, and port ranges must satisfy
// 0 <= from <= to <= 65535. It does not mutate doc; Normalize does that
// separately, only after Validate succeeds.
func Validate(doc Document) error {
	if doc.Version != 1 {
		return fmt.Errorf("policy: unsupported version %d (must be 1)", doc.Version)
	}

	if !validDefault(doc.Defaults.FS) {
		return fmt.Errorf("policy: defaults.fs must be allow or deny, got %q", doc.Defaults.FS)
	}
	if !validDefault(doc.Defaults.Net) {
		return fmt.Errorf("policy: defaults.net must be allow or deny, got %q", doc.Defaults.Net)
	}
	if !validDefault(doc.Defaults.Exec) {
		return fmt.Errorf("policy: defaults.exec must be allow or deny, got %q", doc.Defaults.Exec)
	}

	for i, r := range doc.FSRules {
		if !r.Action.valid() {
			return fmt.Errorf("policy: fs.rules[%d]: invalid action %q", i, r.Action)
		}
		if r.Path == "" {
			return fmt.Errorf("policy: fs.rules[%d]: path must not be empty", i)
		}
	}

	for i, r := range doc.NetRules {
		if !r.Action.valid() {
			return fmt.Errorf("policy: net.rules[%d]: invalid action %q", i, r.Action)
		}
		if r.Proto != ProtoTCP && r.Proto != ProtoUDP {
			return fmt.Errorf("policy: net.rules[%d]: invalid proto %q", i, r.Proto)
		}
		if err := validateCIDR(r.CIDR); err != nil {
			return fmt.Errorf("policy: net.rules[%d]: %w", i, err)
		}
		for j, pr := range r.Ports {
			if err := validatePortRange(pr); err != nil {
				return fmt.Errorf("policy: net.rules[%d].ports[%d]: %w", i, j, err)
			}
		}
	}

	for i, r := range doc.ExecRules {
		if !r.Action.valid() {
			return fmt.Errorf("policy: exec.rules[%d]: invalid action %q", i, r.Action)
		}
		if r.Path == "" {
			return fmt.Errorf("policy: exec.rules[%d]: path must not be empty", i)
		}
	}

	return nil
}

func validDefault(a Action) bool {
	return a == Allow || a == Deny
}

func validateCIDR(cidr string) error {
	if cidr == "" {
		return fmt.Errorf("cidr must not be empty")
	}
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return fmt.Errorf("malformed cidr %q: %w", cidr, err)
	}
	return nil
}

func validatePortRange(pr PortRange) error {
	if pr.From < 0 || pr.To > 65535 {
		return fmt.Errorf("port range [%d,%d] out of bounds", pr.From, pr.To)
	}
	if pr.From > pr.To {
		return fmt.Errorf("port range [%d,%d] has from > to", pr.From, pr.To)
	}
	return nil
}
