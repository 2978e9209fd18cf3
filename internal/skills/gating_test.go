package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAvailabilityMissingBinary(t *testing.T) {
	skill := &Skill{Meta: Meta{Requires: Requires{Bins: []string{"definitely-not-a-real-binary-xyz"}}}}
	available, why := checkAvailability(skill, nil)
	assert.False(t, available)
	assert.Contains(t, why, "definitely-not-a-real-binary-xyz")
}

func TestCheckAvailabilityMissingEnv(t *testing.T) {
	skill := &Skill{Meta: Meta{Requires: Requires{Env: []string{"NEXUS_TEST_UNSET_VAR_XYZ"}}}}
	available, why := checkAvailability(skill, nil)
	assert.False(t, available)
	assert.Contains(t, why, "NEXUS_TEST_UNSET_VAR_XYZ")
}

func TestCheckAvailabilityMissingCapability(t *testing.T) {
	skill := &Skill{Meta: Meta{Capabilities: []string{"net.fetch"}}}
	caps := newCapabilitySet()
	available, why := checkAvailability(skill, caps)
	assert.False(t, available)
	assert.Contains(t, why, "net.fetch")
}

func TestCheckAvailabilitySatisfied(t *testing.T) {
	skill := &Skill{Meta: Meta{Capabilities: []string{"net.fetch"}}}
	caps := newCapabilitySet()
	caps.set([]string{"net.fetch"})
	available, why := checkAvailability(skill, caps)
	assert.True(t, available)
	assert.Empty(t, why)
}

func TestCheckAvailabilityNoRequirementsIsAvailable(t *testing.T) {
	skill := &Skill{Meta: Meta{Name: "bare"}}
	available, _ := checkAvailability(skill, nil)
	assert.True(t, available)
}
