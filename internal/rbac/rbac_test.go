package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasCapabilityKnownGrants(t *testing.T) {
	require.True(t, HasCapability("general", CapReadPublic))
	require.False(t, HasCapability("general", CapReadLedgerFull))

	require.True(t, HasCapability("pro", CapProposeAura))
	require.True(t, HasCapability("scholars", CapProposeAura))

	require.True(t, HasCapability("analytics", CapWriteGraph))
	require.True(t, HasCapability("analytics", CapProposeHypothesis), "analytics must inherit pro's grants")

	require.True(t, HasCapability("ops", CapManageRoles))
	require.False(t, HasCapability("ops", CapProposeHypothesis))
}

func TestHasCapabilityIsCaseInsensitive(t *testing.T) {
	require.True(t, HasCapability("PRO", CapReadLedgerFull))
	require.True(t, HasCapability("  Ops ", CapViewDebug))
}

func TestHasCapabilityUnknownRoleOrCapIsFalse(t *testing.T) {
	require.False(t, HasCapability("superadmin", CapReadPublic))
	require.False(t, HasCapability("general", Capability("NOT_A_REAL_CAP")))
}

func TestMaxLevel(t *testing.T) {
	require.Equal(t, 0, MaxLevel(nil))
	require.Equal(t, 0, MaxLevel([]string{"unknown-role"}))
	require.Equal(t, 1, MaxLevel([]string{"general", "pro"}))
	require.Equal(t, 2, MaxLevel([]string{"pro", "analytics"}))
}

func TestCapabilitiesReturnsACopy(t *testing.T) {
	caps := Capabilities("pro")
	require.NotEmpty(t, caps)
	caps[0] = "MUTATED"
	require.True(t, HasCapability("pro", CapReadPublic), "mutating the returned slice must not affect the table")
}

func TestIsKnownRole(t *testing.T) {
	require.True(t, IsKnownRole("Scholars"))
	require.False(t, IsKnownRole("admin"))
}
