package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePortSpec parses a comma-separated list of ports or "from-to" ranges
// into an ordered list of inclusive PortRange values, per spec.md §3's
// port-spec grammar.
func ParsePortSpec(spec string) ([]PortRange, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	ranges := make([]PortRange, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "-"); idx >= 0 {
			fromStr, toStr := part[:idx], part[idx+1:]
			from, err := strconv.Atoi(strings.TrimSpace(fromStr))
			if err != nil {
				return nil, fmt.Errorf("policy: invalid port range %q: %w", part, err)
			}
			to, err := strconv.Atoi(strings.TrimSpace(toStr))
			if err != nil {
				return nil, fmt.Errorf("policy: invalid port range %q: %w", part, err)
			}
			pr := PortRange{From: from, To: to}
			if err := validatePortRange(pr); err != nil {
				return nil, fmt.Errorf("policy: invalid port range %q: %w", part, err)
			}
			ranges = append(ranges, pr)
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid port %q: %w", part, err)
		}
		pr := PortRange{From: port, To: port}
		if err := validatePortRange(pr); err != nil {
			return nil, fmt.Errorf("policy: invalid port %q: %w", part, err)
		}
		ranges = append(ranges, pr)
	}
	return ranges, nil
}
