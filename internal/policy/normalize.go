package policy

import (
	"path/filepath"
	"strings"
)

// CanonicalizePath trims a path and, when it is absolute, cleans it to a
// canonical form with no trailing separator except at the root. It
// deliberately does not resolve symlinks: the evaluator matches against the
// path the worker reported, not the inode it eventually names.
func CanonicalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		return path
	}
	cleaned := filepath.Clean(path)
	return cleaned
}

// Normalize validates doc and produces a canonical Policy: paths trimmed
// and canonicalized, optional sections defaulted to empty collections, and
// defaults required for all three domains. Normalize is idempotent:
// normalizing an already-normalized Policy (round-tripped through
// Document) yields the same result.
func Normalize(doc Document) (Policy, error) {
	if err := Validate(doc); err != nil {
		return Policy{}, err
	}

	p := Policy{
		Version:  1,
		Plugins:  doc.Plugins,
		Defaults: doc.Defaults,
	}

	p.FSRules = make([]FSRule, len(doc.FSRules))
	for i, r := range doc.FSRules {
		norm := r
		norm.Path = CanonicalizePath(r.Path)
		if norm.Perms == nil {
			norm.Perms = map[FSPerm]bool{}
		} else {
			perms := make(map[FSPerm]bool, len(r.Perms))
			for k, v := range r.Perms {
				if v {
					perms[k] = true
				}
			}
			norm.Perms = perms
		}
		p.FSRules[i] = norm
	}

	p.NetRules = make([]NetRule, len(doc.NetRules))
	for i, r := range doc.NetRules {
		norm := r
		norm.Ports = append([]PortRange(nil), r.Ports...)
		p.NetRules[i] = norm
	}

	p.ExecRules = make([]ExecRule, len(doc.ExecRules))
	copy(p.ExecRules, doc.ExecRules)

	p.AntiEscape = AntiEscape{DenySyscalls: copySet(doc.AntiEscape.DenySyscalls)}

	p.Audit = Audit{
		Enabled: doc.Audit.Enabled,
		Events:  copyAuditSet(doc.Audit.Events),
	}

	return p, nil
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}

func copyAuditSet(in map[AuditEvent]bool) map[AuditEvent]bool {
	out := make(map[AuditEvent]bool, len(in))
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}

// AsDocument converts an already-normalized Policy back into a Document, so
// that re-normalizing it (Normalize(p.AsDocument())) is a well-defined,
// idempotent operation for the round-trip property in spec.md §8.
func (p Policy) AsDocument() Document {
	return Document{
		Version:    p.Version,
		Plugins:    p.Plugins,
		Defaults:   p.Defaults,
		FSRules:    p.FSRules,
		NetRules:   p.NetRules,
		ExecRules:  p.ExecRules,
		AntiEscape: p.AntiEscape,
		Audit:      p.Audit,
	}
}
