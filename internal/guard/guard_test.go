package guard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForbidExternalPersistenceNoneExternal(t *testing.T) {
	items := []Item{
		{ID: "a", Metadata: map[string]any{"title": "x"}},
		{ID: "b"},
	}
	report, err := ForbidExternalPersistence(items, "memory", true)
	require.NoError(t, err)
	require.Equal(t, 0, report.Count)
}

func TestForbidExternalPersistenceDetectsAllMarkerKinds(t *testing.T) {
	items := []Item{
		{ID: "provenance-url", Provenance: map[string]any{"url": "https://example.com/a"}},
		{ID: "source-url", Metadata: map[string]any{"source_url": "https://example.com/b"}},
		{ID: "external-flag", External: true},
		{ID: "metadata-external", Metadata: map[string]any{"external": true}},
		{ID: "metadata-url", Metadata: map[string]any{"url": "https://example.com/c"}},
		{ID: "clean"},
	}
	report, err := ForbidExternalPersistence(items, "memory", false)
	require.NoError(t, err)
	require.Equal(t, 5, report.Count)
	require.Contains(t, report.OffendingIDs, "provenance-url")
	require.Contains(t, report.OffendingIDs, "metadata-url")
	require.NotContains(t, report.OffendingIDs, "clean")
}

func TestForbidExternalPersistenceRaisesWithCountAndURLs(t *testing.T) {
	items := []Item{
		{ID: "internal"},
		{ID: "external", Provenance: map[string]any{"url": "https://example.com/x"}},
	}
	report, err := ForbidExternalPersistence(items, "memory", true)
	require.Error(t, err)
	var perr *ExternalPersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 1, perr.Count)
	require.Equal(t, "memory", perr.ItemType)
	require.Equal(t, []string{"https://example.com/x"}, perr.URLs)
	require.Equal(t, 1, report.Count)
}

func TestFilterExternalItemsSplits(t *testing.T) {
	items := []Item{
		{ID: "internal"},
		{ID: "external", Provenance: map[string]any{"url": "https://example.com/x"}},
	}
	internal, external := FilterExternalItems(items)
	require.Len(t, internal, 1)
	require.Len(t, external, 1)
	require.Equal(t, "internal", internal[0].ID)
	require.Equal(t, "external", external[0].ID)
}
