package sandbox

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/abgutierrez/buntime/internal/policy"
)

func TestDeniedExecutablePaths_SkipsGlobRules(t *testing.T) {
	rules := []policy.ExecRule{
		{Action: policy.Deny, Path: "python3"},
		{Action: policy.Deny, Path: "/usr/bin/git*"},
		{Action: policy.Allow, Path: "/usr/bin/bash"},
	}

	if len(resolveExecutablePaths("python3")) == 0 {
		t.Skip("python3 not available on this system")
	}

	got := DeniedExecutablePaths(rules)
	if len(got) == 0 {
		t.Fatalf("expected at least one resolved path for the concrete deny rule")
	}
	for _, p := range got {
		base := filepath.Base(p)
		if slices.Contains([]string{"git", "bash"}, base) {
			t.Fatalf("unexpected path from a skipped rule: %s", p)
		}
	}
}

func TestResolveExecutablePaths_CanonicalizesSymlinkAliases(t *testing.T) {
	info, err := os.Lstat("/bin")
	if err != nil {
		t.Skip("/bin not present")
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Skip("/bin is not a symlink on this system")
	}

	paths := resolveExecutablePaths("true")
	if len(paths) == 0 {
		t.Skip("true not available on this system")
	}
	for _, p := range paths {
		if strings.HasPrefix(p, "/bin/") {
			t.Fatalf("expected canonical (non-/bin) path, got: %s", p)
		}
	}
}
