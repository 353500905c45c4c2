package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDocumentTolernatesComments(t *testing.T) {
	raw := []byte(`{
		// line comment
		"version": 1,
		"defaults": {"fs": "deny", "net": "deny", "exec": "deny"},
		"net": {"rules": [{"action":"allow","proto":"tcp","cidr":"0.0.0.0/0","ports":"80,443,8000-9000"}]}
	}`)
	doc, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Len(t, doc.NetRules, 1)
	require.Len(t, doc.NetRules[0].Ports, 3)
}

func TestMarshalPolicyRoundTrip(t *testing.T) {
	doc := Document{
		Version:  1,
		Defaults: Defaults{FS: Deny, Net: Deny, Exec: Deny},
		FSRules: []FSRule{
			{Action: Allow, Path: "/tmp", Perms: map[FSPerm]bool{PermReadFile: true, PermWriteFile: true}},
		},
		Audit: Audit{Enabled: true, Events: map[AuditEvent]bool{AuditConnect: true}},
	}
	p, err := Normalize(doc)
	require.NoError(t, err)

	raw, err := MarshalPolicy(p)
	require.NoError(t, err)

	roundTripped, err := ParseDocument(raw)
	require.NoError(t, err)
	p2, err := Normalize(roundTripped)
	require.NoError(t, err)

	require.Equal(t, p.Defaults, p2.Defaults)
	require.ElementsMatch(t, p.FSRules, p2.FSRules)
	require.Equal(t, p.Audit, p2.Audit)
}

func TestLoadAndNormalizeResolvesExtends(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json")
	child := filepath.Join(dir, "child.json")

	require.NoError(t, os.WriteFile(base, []byte(`{
		"version": 1,
		"defaults": {"fs": "allow", "net": "allow", "exec": "allow"},
		"fs": {"rules": [{"action":"allow","path":"/tmp","perms":["read_file"]}]}
	}`), 0o600))
	require.NoError(t, os.WriteFile(child, []byte(`{
		"version": 1,
		"extends": "base.json",
		"defaults": {"fs": "allow", "net": "allow", "exec": "allow"},
		"fs": {"rules": [{"action":"deny","path":"/tmp/secret","perms":["read_file"]}]}
	}`), 0o600))

	p, err := LoadAndNormalize(child)
	require.NoError(t, err)

	e := NewEvaluator(p)
	require.Equal(t, Deny, e.CheckFS("/tmp/secret", PermReadFile))
	require.Equal(t, Allow, e.CheckFS("/tmp/other", PermReadFile))
}

func TestLoadAndNormalizeDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")

	require.NoError(t, os.WriteFile(a, []byte(`{"version":1,"extends":"b.json","defaults":{"fs":"allow","net":"allow","exec":"allow"}}`), 0o600))
	require.NoError(t, os.WriteFile(b, []byte(`{"version":1,"extends":"a.json","defaults":{"fs":"allow","net":"allow","exec":"allow"}}`), 0o600))

	_, err := LoadAndNormalize(a)
	require.Error(t, err)
}
