package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// jsonDocument is the on-disk JSON shape for a policy file (spec.md §3/§6).
// Comments are tolerated: LoadFile strips them with tidwall/jsonc before
// unmarshaling, the same way the teacher's config layer treats
// human-authored JSON as JSONC.
type jsonDocument struct {
	Version  int           `json:"version"`
	Extends  string        `json:"extends,omitempty"`
	Plugins  jsonPlugins   `json:"plugins,omitempty"`
	Defaults jsonDefaults  `json:"defaults"`
	FS       *jsonFSBlock  `json:"fs,omitempty"`
	Net      *jsonNetBlock `json:"net,omitempty"`
	Exec     *jsonExecBlock `json:"exec,omitempty"`
	AntiEscape *jsonAntiEscape `json:"antiEscape,omitempty"`
	Audit      *jsonAudit      `json:"audit,omitempty"`
}

type jsonPlugins struct {
	Namespaces bool `json:"namespaces,omitempty"`
	Landlock   bool `json:"landlock,omitempty"`
	Seccomp    bool `json:"seccomp,omitempty"`
}

type jsonDefaults struct {
	FS   string `json:"fs"`
	Net  string `json:"net"`
	Exec string `json:"exec"`
}

type jsonFSBlock struct {
	Rules []jsonFSRule `json:"rules,omitempty"`
}

type jsonFSRule struct {
	Action string   `json:"action"`
	Path   string   `json:"path"`
	Perms  []string `json:"perms"`
}

type jsonNetBlock struct {
	Rules []jsonNetRule `json:"rules,omitempty"`
}

type jsonNetRule struct {
	Action string `json:"action"`
	Proto  string `json:"proto"`
	CIDR   string `json:"cidr"`
	Ports  string `json:"ports"`
}

type jsonExecBlock struct {
	Rules []jsonExecRule `json:"rules,omitempty"`
}

type jsonExecRule struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
}

type jsonAntiEscape struct {
	DenySyscalls []string `json:"denySyscalls,omitempty"`
}

type jsonAudit struct {
	Enabled bool     `json:"enabled,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// LoadFile reads a JSONC policy document from path and parses it into a
// Document. It does not validate or normalize; call Normalize on the
// result (after resolving Extends, if any) to get a usable Policy.
func LoadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("policy: read %q: %w", path, err)
	}
	return ParseDocument(raw)
}

// ParseDocument parses JSONC bytes into a Document.
func ParseDocument(raw []byte) (Document, error) {
	clean := jsonc.ToJSON(raw)
	var jd jsonDocument
	if err := json.Unmarshal(clean, &jd); err != nil {
		return Document{}, fmt.Errorf("policy: parse document: %w", err)
	}
	return jd.toDocument()
}

func (jd jsonDocument) toDocument() (Document, error) {
	doc := Document{
		Version: jd.Version,
		Extends: jd.Extends,
		Plugins: Plugins{
			Namespaces: jd.Plugins.Namespaces,
			Landlock:   jd.Plugins.Landlock,
			Seccomp:    jd.Plugins.Seccomp,
		},
		Defaults: Defaults{
			FS:   Action(jd.Defaults.FS),
			Net:  Action(jd.Defaults.Net),
			Exec: Action(jd.Defaults.Exec),
		},
	}

	if jd.FS != nil {
		for _, r := range jd.FS.Rules {
			perms := map[FSPerm]bool{}
			for _, p := range r.Perms {
				perms[FSPerm(p)] = true
			}
			doc.FSRules = append(doc.FSRules, FSRule{
				Action: Action(r.Action),
				Path:   r.Path,
				Perms:  perms,
			})
		}
	}

	if jd.Net != nil {
		for _, r := range jd.Net.Rules {
			ports, err := ParsePortSpec(r.Ports)
			if err != nil {
				return Document{}, err
			}
			doc.NetRules = append(doc.NetRules, NetRule{
				Action: Action(r.Action),
				Proto:  Proto(r.Proto),
				CIDR:   r.CIDR,
				Ports:  ports,
			})
		}
	}

	if jd.Exec != nil {
		for _, r := range jd.Exec.Rules {
			doc.ExecRules = append(doc.ExecRules, ExecRule{
				Action: Action(r.Action),
				Path:   r.Path,
				SHA256: r.SHA256,
			})
		}
	}

	if jd.AntiEscape != nil {
		syscalls := map[string]bool{}
		for _, s := range jd.AntiEscape.DenySyscalls {
			syscalls[s] = true
		}
		doc.AntiEscape = AntiEscape{DenySyscalls: syscalls}
	}

	if jd.Audit != nil {
		events := map[AuditEvent]bool{}
		for _, e := range jd.Audit.Events {
			events[AuditEvent(e)] = true
		}
		doc.Audit = Audit{Enabled: jd.Audit.Enabled, Events: events}
	}

	return doc, nil
}

// MarshalPolicy renders a normalized Policy back to the on-disk JSON shape,
// used to persist the active composed policy (spec.md §6).
func MarshalPolicy(p Policy) ([]byte, error) {
	jd := jsonDocument{
		Version: p.Version,
		Plugins: jsonPlugins{
			Namespaces: p.Plugins.Namespaces,
			Landlock:   p.Plugins.Landlock,
			Seccomp:    p.Plugins.Seccomp,
		},
		Defaults: jsonDefaults{
			FS:   string(p.Defaults.FS),
			Net:  string(p.Defaults.Net),
			Exec: string(p.Defaults.Exec),
		},
	}

	if len(p.FSRules) > 0 {
		jd.FS = &jsonFSBlock{}
		for _, r := range p.FSRules {
			var perms []string
			for perm, ok := range r.Perms {
				if ok {
					perms = append(perms, string(perm))
				}
			}
			jd.FS.Rules = append(jd.FS.Rules, jsonFSRule{
				Action: string(r.Action),
				Path:   r.Path,
				Perms:  perms,
			})
		}
	}

	if len(p.NetRules) > 0 {
		jd.Net = &jsonNetBlock{}
		for _, r := range p.NetRules {
			jd.Net.Rules = append(jd.Net.Rules, jsonNetRule{
				Action: string(r.Action),
				Proto:  string(r.Proto),
				CIDR:   r.CIDR,
				Ports:  formatPortSpec(r.Ports),
			})
		}
	}

	if len(p.ExecRules) > 0 {
		jd.Exec = &jsonExecBlock{}
		for _, r := range p.ExecRules {
			jd.Exec.Rules = append(jd.Exec.Rules, jsonExecRule{
				Action: string(r.Action),
				Path:   r.Path,
				SHA256: r.SHA256,
			})
		}
	}

	if len(p.AntiEscape.DenySyscalls) > 0 {
		jd.AntiEscape = &jsonAntiEscape{}
		for s, ok := range p.AntiEscape.DenySyscalls {
			if ok {
				jd.AntiEscape.DenySyscalls = append(jd.AntiEscape.DenySyscalls, s)
			}
		}
	}

	if p.Audit.Enabled || len(p.Audit.Events) > 0 {
		jd.Audit = &jsonAudit{Enabled: p.Audit.Enabled}
		for e, ok := range p.Audit.Events {
			if ok {
				jd.Audit.Events = append(jd.Audit.Events, string(e))
			}
		}
	}

	return json.MarshalIndent(jd, "", "  ")
}

func formatPortSpec(ranges []PortRange) string {
	out := ""
	for i, r := range ranges {
		if i > 0 {
			out += ","
		}
		if r.From == r.To {
			out += fmt.Sprintf("%d", r.From)
		} else {
			out += fmt.Sprintf("%d-%d", r.From, r.To)
		}
	}
	return out
}
