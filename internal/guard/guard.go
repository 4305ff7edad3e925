// Package guard implements the external-persist guard (component G): a
// pure structural check that blocks any item carrying an external-URL or
// external-content marker from reaching the commit engine or a memory
// upsert path, plus the audit event emitted on every block.
package guard

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Item is the minimal shape the guard inspects. Text/Graph items passed
// through the commit engine and ingest analyzer satisfy this by exposing
// their provenance and metadata maps.
type Item struct {
	ID         string
	Provenance map[string]any
	Metadata   map[string]any
	External   bool
}

// Report is the result of ForbidExternalPersistence.
type Report struct {
	ItemType      string
	Count         int
	OffendingIDs  []string
	OffendingURLs []string
}

// ExternalPersistenceError is returned when raiseOnExternal is true and at
// least one item carries an external marker.
type ExternalPersistenceError struct {
	ItemType string
	Count    int
	URLs     []string
}

func (e *ExternalPersistenceError) Error() string {
	return fmt.Sprintf("external persistence blocked: %d %s item(s) carry an external marker: %v", e.Count, e.ItemType, e.URLs)
}

// externalURL reports the marker found on item, in the exact check order
// spec.md §4.G specifies, and the URL to report (empty if the marker is a
// boolean flag rather than a URL).
func externalURL(it Item) (bool, string) {
	if v, ok := it.Provenance["url"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return true, s
		}
		return true, ""
	}
	if v, ok := it.Metadata["source_url"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return true, s
		}
		return true, ""
	}
	if it.External {
		return true, ""
	}
	if v, ok := it.Metadata["external"]; ok {
		if b, ok := v.(bool); ok && b {
			return true, ""
		}
	}
	if v, ok := it.Metadata["url"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return true, s
		}
		return true, ""
	}
	return false, ""
}

// ForbidExternalPersistence scans items for external-content markers. When
// raiseOnExternal is true and any item is external, it returns a non-nil
// ExternalPersistenceError alongside the report; the caller must not
// persist anything from this batch in that case. An audit event is
// recorded on every block regardless of raiseOnExternal.
func ForbidExternalPersistence(items []Item, itemType string, raiseOnExternal bool) (Report, error) {
	report := Report{ItemType: itemType}
	for _, it := range items {
		external, url := externalURL(it)
		if !external {
			continue
		}
		report.Count++
		report.OffendingIDs = append(report.OffendingIDs, it.ID)
		if url != "" {
			report.OffendingURLs = append(report.OffendingURLs, url)
		}
	}

	if report.Count == 0 {
		return report, nil
	}

	log.Warn().
		Str("event", "external_persistence_blocked").
		Str("item_type", itemType).
		Int("count", report.Count).
		Strs("offending_ids", report.OffendingIDs).
		Strs("offending_urls", report.OffendingURLs).
		Str("severity", "high").
		Msg("external content marker detected")

	if raiseOnExternal {
		return report, &ExternalPersistenceError{ItemType: itemType, Count: report.Count, URLs: report.OffendingURLs}
	}
	return report, nil
}

// FilterExternalItems splits items into internal and external, for display
// paths that want to show what was excluded without failing the request.
func FilterExternalItems(items []Item) (internal, external []Item) {
	for _, it := range items {
		if ok, _ := externalURL(it); ok {
			external = append(external, it)
			continue
		}
		internal = append(internal, it)
	}
	return internal, external
}
