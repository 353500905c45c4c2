package policy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func fsDoc(defaultAction Action, rules ...FSRule) Document {
	return Document{
		Version: 1,
		Defaults: Defaults{
			FS:   defaultAction,
			Net:  Allow,
			Exec: Allow,
		},
		FSRules: rules,
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	doc := fsDoc(Allow)
	doc.Version = 2
	err := Validate(doc)
	require.Error(t, err)
}

func TestValidateRejectsMalformedCIDR(t *testing.T) {
	doc := Document{
		Version:  1,
		Defaults: Defaults{FS: Allow, Net: Allow, Exec: Allow},
		NetRules: []NetRule{{Action: Allow, Proto: ProtoTCP, CIDR: "not-a-cidr", Ports: []PortRange{{From: 1, To: 2}}}},
	}
	require.Error(t, Validate(doc))
}

func TestValidateRejectsBackwardsPortRange(t *testing.T) {
	doc := Document{
		Version:  1,
		Defaults: Defaults{FS: Allow, Net: Allow, Exec: Allow},
		NetRules: []NetRule{{Action: Allow, Proto: ProtoTCP, CIDR: "0.0.0.0/0", Ports: []PortRange{{From: 100, To: 10}}}},
	}
	require.Error(t, Validate(doc))
}

func TestValidateRejectsBadAction(t *testing.T) {
	doc := fsDoc(Allow, FSRule{Action: "maybe", Path: "/tmp", Perms: map[FSPerm]bool{PermReadFile: true}})
	require.Error(t, Validate(doc))
}

func TestPortRangeFullSpanMatchesEveryPort(t *testing.T) {
	ranges, err := ParsePortSpec("0-65535")
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	require.True(t, ranges[0].Contains(0))
	require.True(t, ranges[0].Contains(65535))
	require.True(t, ranges[0].Contains(8080))
}

func TestParsePortSpecRejectsBackwardsRange(t *testing.T) {
	_, err := ParsePortSpec("100-10")
	require.Error(t, err)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	doc := fsDoc(Deny, FSRule{
		Action: Allow,
		Path:   "/tmp/",
		Perms:  map[FSPerm]bool{PermReadFile: true},
	})
	p1, err := Normalize(doc)
	require.NoError(t, err)
	p2, err := Normalize(p1.AsDocument())
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func TestEvaluateFSDefaultWhenNoRuleMatches(t *testing.T) {
	p, err := Normalize(fsDoc(Deny))
	require.NoError(t, err)
	e := NewEvaluator(p)
	require.Equal(t, Deny, e.CheckFS("/etc/passwd", PermReadFile))
}

func TestEvaluateFSPrefixSurprise(t *testing.T) {
	// spec.md §9: /tmp must match /tmpfile (string-prefix, not segment-aware).
	doc := fsDoc(Deny, FSRule{
		Action: Allow,
		Path:   "/tmp",
		Perms:  map[FSPerm]bool{PermReadFile: true},
	})
	p, err := Normalize(doc)
	require.NoError(t, err)
	e := NewEvaluator(p)
	require.Equal(t, Allow, e.CheckFS("/tmpfile", PermReadFile))
}

func TestEvaluateDenyWinsOverAllowAmongMatchingRules(t *testing.T) {
	doc := fsDoc(Allow,
		FSRule{Action: Allow, Path: "/tmp", Perms: map[FSPerm]bool{PermReadFile: true}},
		FSRule{Action: Deny, Path: "/tmp/secret", Perms: map[FSPerm]bool{PermReadFile: true}},
	)
	p, err := Normalize(doc)
	require.NoError(t, err)
	e := NewEvaluator(p)
	require.Equal(t, Deny, e.CheckFS("/tmp/secret", PermReadFile))
	require.Equal(t, Allow, e.CheckFS("/tmp/other", PermReadFile))
}

func TestComposePolicyCompositionPriorityScenario(t *testing.T) {
	// spec.md §8 scenario 4.
	p1doc := fsDoc(Allow, FSRule{Action: Allow, Path: "/tmp", Perms: map[FSPerm]bool{PermReadFile: true}})
	p2doc := fsDoc(Deny, FSRule{Action: Deny, Path: "/tmp/secret", Perms: map[FSPerm]bool{PermReadFile: true}})

	p1, err := Normalize(p1doc)
	require.NoError(t, err)
	p2, err := Normalize(p2doc)
	require.NoError(t, err)

	composite := Compose([]Policy{p1, p2})
	e := NewEvaluator(composite)

	require.Equal(t, Deny, e.CheckFS("/tmp/secret", PermReadFile))
	require.Equal(t, Allow, e.CheckFS("/tmp/other", PermReadFile))
	require.Equal(t, Deny, e.CheckFS("/etc", PermReadFile)) // defaults: deny wins
}

func TestComposeEmptyListIsOpen(t *testing.T) {
	composite := Compose(nil)
	require.Equal(t, Allow, composite.Defaults.FS)
	require.Equal(t, Allow, composite.Defaults.Net)
	require.Equal(t, Allow, composite.Defaults.Exec)
	require.Empty(t, composite.FSRules)
	require.False(t, composite.Audit.Enabled)
}

func TestComposeMonotoneDenyUnderComposition(t *testing.T) {
	allowEverything, err := Normalize(Document{
		Version:  1,
		Defaults: Defaults{FS: Allow, Net: Allow, Exec: Allow},
	})
	require.NoError(t, err)

	denyExec, err := Normalize(Document{
		Version:  1,
		Defaults: Defaults{FS: Allow, Net: Allow, Exec: Allow},
		ExecRules: []ExecRule{
			{Action: Deny, Path: "/bin/rm"},
		},
	})
	require.NoError(t, err)

	composite := Compose([]Policy{allowEverything, denyExec})
	e := NewEvaluator(composite)
	require.Equal(t, Deny, e.CheckExec("/bin/rm"))

	soloEval := NewEvaluator(denyExec)
	require.Equal(t, Deny, soloEval.CheckExec("/bin/rm"))
}

func TestCIDRUniversalMatch(t *testing.T) {
	doc := Document{
		Version:  1,
		Defaults: Defaults{FS: Allow, Net: Deny, Exec: Allow},
		NetRules: []NetRule{
			{Action: Allow, Proto: ProtoTCP, CIDR: "0.0.0.0/0", Ports: []PortRange{{From: 443, To: 443}}},
		},
	}
	p, err := Normalize(doc)
	require.NoError(t, err)
	e := NewEvaluator(p)
	require.Equal(t, Allow, e.CheckNet(net.ParseIP("8.8.8.8"), 443, ProtoTCP))
	require.Equal(t, Deny, e.CheckNet(net.ParseIP("8.8.8.8"), 80, ProtoTCP))
}

func TestExecExactMatchOnly(t *testing.T) {
	doc := Document{
		Version:   1,
		Defaults:  Defaults{FS: Allow, Net: Allow, Exec: Deny},
		ExecRules: []ExecRule{{Action: Allow, Path: "/usr/bin/python3"}},
	}
	p, err := Normalize(doc)
	require.NoError(t, err)
	e := NewEvaluator(p)
	require.Equal(t, Allow, e.CheckExec("/usr/bin/python3"))
	require.Equal(t, Deny, e.CheckExec("/usr/bin/python3.11"))
}
