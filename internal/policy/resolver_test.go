package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideDenyWinsOverAllow(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("exec")

	decision := r.Decide(p, "exec")
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "denied")
}

func TestDecideProfileFullAllowsUndenied(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull)

	assert.True(t, r.IsAllowed(p, "memory_query"))
}

func TestDecideGroupExpansion(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:memory")

	assert.True(t, r.IsAllowed(p, "memory_upsert"))
	assert.False(t, r.IsAllowed(p, "exec"))
}

func TestDecideWildcardPattern(t *testing.T) {
	r := NewResolver()
	r.AddGroup("group:custom", nil)
	p := NewPolicy("").WithAllow("cron_*")

	assert.True(t, r.IsAllowed(p, "cron_create"))
	assert.False(t, r.IsAllowed(p, "exec"))
}

func TestDecideAliasNormalization(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("exec")

	assert.True(t, r.IsAllowed(p, "bash"))
}

func TestMergeAccumulatesAllowDenyAndLastProfileWins(t *testing.T) {
	a := NewPolicy(ProfileMinimal).WithAllow("read")
	b := NewPolicy(ProfileCoding).WithAllow("exec").WithDeny("read")

	merged := Merge(a, b)
	assert.Equal(t, ProfileCoding, merged.Profile)
	assert.ElementsMatch(t, []string{"read", "exec"}, merged.Allow)
	assert.ElementsMatch(t, []string{"read"}, merged.Deny)
}

func TestNilPolicyDeniesEverything(t *testing.T) {
	r := NewResolver()
	assert.False(t, r.IsAllowed(nil, "exec"))
}

func TestFilterAllowed(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:fs")

	got := r.FilterAllowed(p, []string{"read", "exec", "memory_query"})
	assert.ElementsMatch(t, []string{"read", "exec"}, got)
}
