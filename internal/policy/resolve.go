package policy

import (
	"fmt"
	"path/filepath"
)

// LoadAndNormalize loads the policy file at path, resolving its Extends
// chain (each parent loaded relative to the child's directory) and
// composing parent-then-child, then normalizes and validates the result.
// A cycle in the Extends chain is reported as an error rather than looping
// forever.
func LoadAndNormalize(path string) (Policy, error) {
	return loadChain(path, map[string]bool{})
}

func loadChain(path string, seen map[string]bool) (Policy, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: resolve %q: %w", path, err)
	}
	if seen[abs] {
		return Policy{}, fmt.Errorf("policy: extends cycle detected at %q", abs)
	}
	seen[abs] = true

	doc, err := LoadFile(abs)
	if err != nil {
		return Policy{}, err
	}

	self, err := Normalize(doc)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: normalize %q: %w", abs, err)
	}

	if doc.Extends == "" {
		return self, nil
	}

	parentPath := doc.Extends
	if !filepath.IsAbs(parentPath) {
		parentPath = filepath.Join(filepath.Dir(abs), parentPath)
	}
	parent, err := loadChain(parentPath, seen)
	if err != nil {
		return Policy{}, err
	}

	return Compose([]Policy{parent, self}), nil
}
