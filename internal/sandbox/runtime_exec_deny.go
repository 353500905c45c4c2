package sandbox

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/abgutierrez/buntime/internal/policy"
)

var commonExecutableDirs = []string{
	"/usr/bin",
	"/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/opt/local/bin",
}

// DeniedExecutablePaths resolves every exec rule's path into the concrete,
// symlink-followed absolute paths that the launcher must mask at exec time.
// Unlike fs rules, exec rules in this policy model are always a single
// executable path rather than a shell command line, so there's no tokenizing
// to do: a denied rule whose Path contains glob metacharacters is skipped,
// since glob expansion belongs to the fs domain's doublestar matching, not
// the launcher's concrete bind-mask list.
func DeniedExecutablePaths(rules []policy.ExecRule) []string {
	var paths []string
	seen := make(map[string]bool)

	for _, rule := range rules {
		if rule.Action != policy.Deny {
			continue
		}
		token := strings.TrimSpace(rule.Path)
		if token == "" || ContainsGlobChars(token) {
			continue
		}
		for _, resolved := range resolveExecutablePaths(token) {
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			paths = append(paths, resolved)
		}
	}

	slices.Sort(paths)
	return paths
}

func resolveExecutablePaths(token string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	addCanonicalPath := func(p string) {
		if p == "" {
			return
		}
		add(p)
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			add(resolved)
		}
	}

	if strings.ContainsRune(token, filepath.Separator) {
		abs := token
		if !filepath.IsAbs(abs) {
			if cwd, err := os.Getwd(); err == nil {
				abs = filepath.Join(cwd, abs)
			}
		}
		if executablePathExists(abs) {
			addCanonicalPath(abs)
		}
		return paths
	}

	if resolved, err := exec.LookPath(token); err == nil {
		addCanonicalPath(resolved)
	}

	for _, dir := range commonExecutableDirs {
		candidate := filepath.Join(dir, token)
		if executablePathExists(candidate) {
			addCanonicalPath(candidate)
		}
	}

	return paths
}

func executablePathExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
