package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleEnvelope() Envelope {
	return Envelope{
		Answer: "the answer",
		Context: []ContextItem{
			{ID: "m1", Text: "public fact", RoleViewLevel: 0, Provenance: map[string]any{"source_url": "internal-doc"}},
			{ID: "m2", Text: "pro-only fact", RoleViewLevel: 1, Provenance: map[string]any{"source_url": "internal-doc-2"}},
		},
		ProcessTraceSummary: []TraceLine{
			{Step: "leg id:abc-123 start", Status: "ok"},
			{Step: "leg 2", Status: "ok"},
			{Step: "merge", Status: "ok"},
			{Step: "pack", Status: "ok"},
			{Step: "review ref:xyz", Status: "skipped"},
		},
		Metadata: map[string]any{
			"internal_id": "should-strip-at-level-0",
			"note":        "keep-me",
		},
	}
}

func TestRedactGeneralCallerDropsLevel1Memory(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"general"})
	require.Equal(t, "general", out.RoleApplied)
	require.Len(t, out.Context, 1)
	require.Equal(t, "m1", out.Context[0].ID)
	require.Equal(t, 1, out.Metadata["filtered_count"])
}

func TestRedactGeneralCallerCapsTraceAndScrubs(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"general"})
	require.Len(t, out.ProcessTraceSummary, 5, "4 kept lines + 1 overflow marker")
	require.Equal(t, "... (1 more lines)", out.ProcessTraceSummary[4].Status)
	for _, l := range out.ProcessTraceSummary[:4] {
		require.NotContains(t, l.Step, "id:abc-123")
		require.NotContains(t, l.Step, "ref:xyz")
	}
}

func TestRedactGeneralCallerReplacesProvenance(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"general"})
	require.Equal(t, true, out.Context[0].Provenance["redacted"])
	require.Contains(t, out.Context[0].Provenance["message"], "pro")
}

func TestRedactGeneralCallerStripsInternalMetadataKeys(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"general"})
	_, hasInternal := out.Metadata["internal_id"]
	require.False(t, hasInternal)
	require.Equal(t, "keep-me", out.Metadata["note"])
}

func TestRedactProCallerKeepsEverything(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"pro"})
	require.Equal(t, "pro", out.RoleApplied)
	require.Len(t, out.Context, 2)
	require.Len(t, out.ProcessTraceSummary, 5)
	require.Equal(t, "internal-doc", out.Context[0].Provenance["source_url"])
	_, hasInternal := out.Metadata["internal_id"]
	require.True(t, hasInternal, "level >= 1 must not strip metadata keys")
}

func TestRedactDoesNotMutateSource(t *testing.T) {
	src := sampleEnvelope()
	_ = Redact(src, []string{"general"})
	require.Len(t, src.Context, 2, "source envelope must be untouched")
	require.Equal(t, "internal-doc", src.Context[0].Provenance["source_url"])
}

func TestRedactUnknownRoleDefaultsToGeneralLevel(t *testing.T) {
	out := Redact(sampleEnvelope(), []string{"unknown-role"})
	require.Len(t, out.Context, 1, "an unknown role must be treated at visibility level 0")
}
