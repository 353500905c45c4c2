package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/abgutierrez/buntime/internal/policy"
)

// ActiveMeta describes a composed policy's shape for operators inspecting
// `<workdir>/<policies>/active.meta.json` without parsing the full policy
// document, per spec.md §6.
type ActiveMeta struct {
	PolicyKeys  []string     `json:"policyKeys"`
	PolicyCount int          `json:"policyCount"`
	Defaults    metaDefaults `json:"defaults"`
	Rules       metaRules    `json:"rules"`
	Audit       metaAudit    `json:"audit"`
	Source      string       `json:"source"`
	AppliedAt   string       `json:"appliedAt"`
}

type metaDefaults struct {
	FS   policy.Action `json:"fs"`
	Net  policy.Action `json:"net"`
	Exec policy.Action `json:"exec"`
}

type metaRules struct {
	FS         int `json:"fs"`
	Net        int `json:"net"`
	Exec       int `json:"exec"`
	AntiEscape int `json:"antiEscape"`
	Total      int `json:"total"`
}

type metaAudit struct {
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events,omitempty"`
}

// ActiveSource enumerates why a policy became active, per spec.md §6's
// `source` field.
type ActiveSource string

const (
	SourceApply ActiveSource = "apply"
	SourceRun   ActiveSource = "run"
	SourceBoot  ActiveSource = "boot"
)

// ActivePolicyDir is the directory, relative to the working directory, that
// PersistActive writes into.
const ActivePolicyDir = "policies"

// nowFunc is overridable in tests so PersistActive's output is deterministic.
var nowFunc = time.Now

// PersistActive writes the composed active policy and its metadata sidecar
// to `<workdir>/<policies>/active.json` and `active.meta.json`, per
// spec.md §6's "Active policy persistence" note. policyKeys names each
// input policy in composition order (e.g. file paths or "cli-flags",
// "pod-policy-json") for the meta sidecar's policyKeys field.
func PersistActive(workdir string, composed policy.Policy, policyKeys []string, source ActiveSource) error {
	dir := filepath.Join(workdir, ActivePolicyDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create active policy dir: %w", err)
	}

	policyBytes, err := policy.MarshalPolicy(composed)
	if err != nil {
		return fmt.Errorf("config: marshal active policy: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "active.json"), policyBytes, 0o644); err != nil {
		return fmt.Errorf("config: write active.json: %w", err)
	}

	meta := ActiveMeta{
		PolicyKeys:  append([]string{}, policyKeys...),
		PolicyCount: len(policyKeys),
		Defaults: metaDefaults{
			FS:   composed.Defaults.FS,
			Net:  composed.Defaults.Net,
			Exec: composed.Defaults.Exec,
		},
		Rules: metaRules{
			FS:         len(composed.FSRules),
			Net:        len(composed.NetRules),
			Exec:       len(composed.ExecRules),
			AntiEscape: len(composed.AntiEscape.DenySyscalls),
			Total:      len(composed.FSRules) + len(composed.NetRules) + len(composed.ExecRules),
		},
		Audit: metaAudit{
			Enabled: composed.Audit.Enabled,
			Events:  sortedAuditEvents(composed.Audit.Events),
		},
		Source:    string(source),
		AppliedAt: nowFunc().UTC().Format(time.RFC3339),
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal active.meta.json: %w", err)
	}
	metaBytes = append(metaBytes, '\n')
	if err := os.WriteFile(filepath.Join(dir, "active.meta.json"), metaBytes, 0o644); err != nil {
		return fmt.Errorf("config: write active.meta.json: %w", err)
	}
	return nil
}

// LoadActiveMeta reads back the metadata sidecar PersistActive wrote, for
// CLI introspection commands.
func LoadActiveMeta(workdir string) (ActiveMeta, error) {
	path := filepath.Join(workdir, ActivePolicyDir, "active.meta.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return ActiveMeta{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var meta ActiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ActiveMeta{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return meta, nil
}

func sortedAuditEvents(events map[policy.AuditEvent]bool) []string {
	if len(events) == 0 {
		return nil
	}
	out := make([]string, 0, len(events))
	for ev, on := range events {
		if on {
			out = append(out, string(ev))
		}
	}
	sort.Strings(out)
	return out
}
