package policy

import "github.com/haasonsaas/nexus/internal/errs"

// PermissionSet is an unordered set of permission names, e.g. the
// permissions a ToolContext carries for the current session.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a PermissionSet from a list of names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether the set contains name.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Contains reports whether every permission in required is present in s,
// i.e. required ⊆ s. An empty required set is always satisfied.
func (s PermissionSet) Contains(required PermissionSet) bool {
	for name := range required {
		if !s.Has(name) {
			return false
		}
	}
	return true
}

// CheckPermissions implements the Tool Registry dispatch pipeline's
// step 3 (spec §4.3): verifies required ⊆ granted, returning an
// errs.Permission error naming the first missing permission found.
func CheckPermissions(toolName string, required, granted PermissionSet) error {
	for name := range required {
		if !granted.Has(name) {
			return errs.Permission("tool %q requires permission %q", toolName, name)
		}
	}
	return nil
}
