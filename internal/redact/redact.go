// Package redact implements the response redactor (component F): a single
// entry point that takes a query response envelope and a caller's roles and
// returns a deep copy suitable for that caller, with context items dropped
// by visibility level, trace summaries capped and substring-scrubbed for
// level-0 callers, and provenance either preserved or replaced with an
// upgrade hint.
package redact

import (
	"regexp"

	"github.com/rafaeldicarlantonio/ragd/internal/rbac"
)

// ContextItem mirrors one element of the response envelope's "context"
// array (spec.md §6).
type ContextItem struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Score         float64        `json:"score"`
	SourceLayer   string         `json:"source_layer"`
	Provenance    map[string]any `json:"provenance,omitempty"`
	RoleViewLevel int            `json:"role_view_level"`
}

// TraceLine is one element of "process_trace_summary".
type TraceLine struct {
	Step       string         `json:"step"`
	DurationMS float64        `json:"duration_ms"`
	Status     string         `json:"status"`
	Extra      map[string]any `json:"-"`
}

// Envelope is the query response shape redaction operates on.
type Envelope struct {
	RoleApplied         string        `json:"role_applied"`
	Answer              string        `json:"answer"`
	Context             []ContextItem `json:"context"`
	Contradictions      []any         `json:"contradictions"`
	ProcessTraceSummary []TraceLine   `json:"process_trace_summary"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Fallback            map[string]any `json:"fallback,omitempty"`
	Timings             map[string]any `json:"timings,omitempty"`
	Warnings            []string       `json:"warnings,omitempty"`
	Review              map[string]any `json:"review,omitempty"`
}

const maxLevelZeroTraceLines = 4

// sensitivePatterns is the closed regex set spec.md §4.F names. Each must
// be replaced with "[REDACTED]" wherever it appears inside a level-0
// caller's trace summary.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`), // UUID
	regexp.MustCompile(`(?i)\bid:[a-z0-9_-]+`),
	regexp.MustCompile(`(?i)\buuid:[a-z0-9_-]+`),
	regexp.MustCompile(`(?i)\bdb\.[a-z0-9_-]+`),
	regexp.MustCompile(`(?i)\binternal:[a-z0-9_-]+`),
	regexp.MustCompile(`__[a-z0-9_]+__`),
	regexp.MustCompile(`(?i)\bref:[a-z0-9_-]+`),
}

// internalMetadataKeys matches metadata keys a level-0 response must strip.
var internalMetadataKeys = regexp.MustCompile(`(?i)^(internal_id|db_ref|.*_ref|.*internal.*)$`)

const upgradeHintMessage = "provenance available to pro/scholars roles and above"

// Redact returns a deep copy of env appropriate for callers holding roles.
// The source envelope is never mutated.
func Redact(env Envelope, roles []string) Envelope {
	level := rbac.MaxLevel(roles)
	roleApplied := chosenRole(roles)

	out := Envelope{
		RoleApplied:    roleApplied,
		Answer:         env.Answer,
		Contradictions: deepCopyAnySlice(env.Contradictions),
		Warnings:       append([]string(nil), env.Warnings...),
		Fallback:       deepCopyPlainMap(env.Fallback),
		Timings:        deepCopyPlainMap(env.Timings),
		Review:         deepCopyPlainMap(env.Review),
		Metadata:       redactMetadataMap(env.Metadata, level),
	}

	var filtered int
	for _, item := range env.Context {
		if item.RoleViewLevel > level {
			filtered++
			continue
		}
		cp := item
		cp.Provenance = redactProvenance(item.Provenance, level)
		out.Context = append(out.Context, cp)
	}
	if filtered > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		out.Metadata["filtered_count"] = filtered
	}

	out.ProcessTraceSummary = redactTrace(env.ProcessTraceSummary, level)

	return out
}

func chosenRole(roles []string) string {
	if len(roles) == 0 {
		return string(rbac.RoleGeneral)
	}
	best := roles[0]
	bestLevel := rbac.Level(roles[0])
	for _, r := range roles[1:] {
		if l := rbac.Level(r); l > bestLevel {
			bestLevel = l
			best = r
		}
	}
	return best
}

func redactProvenance(p map[string]any, level int) map[string]any {
	if level >= 1 {
		return deepCopyPlainMap(p)
	}
	return map[string]any{
		"redacted": true,
		"message":  upgradeHintMessage,
	}
}

// redactMetadataMap deep-copies m, stripping keys that look internal (per
// spec.md §4.F's "internal_id|db_ref|…" pattern) for level-0 callers only.
func redactMetadataMap(m map[string]any, level int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if level == 0 && internalMetadataKeys.MatchString(k) {
			continue
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func redactTrace(lines []TraceLine, level int) []TraceLine {
	if level >= 1 {
		out := make([]TraceLine, len(lines))
		copy(out, lines)
		return out
	}

	capped := lines
	var overflow int
	if len(lines) > maxLevelZeroTraceLines {
		overflow = len(lines) - maxLevelZeroTraceLines
		capped = lines[:maxLevelZeroTraceLines]
	}

	out := make([]TraceLine, 0, len(capped)+1)
	for _, l := range capped {
		l.Step = scrubSensitive(l.Step)
		l.Status = scrubSensitive(l.Status)
		out = append(out, l)
	}
	if overflow > 0 {
		out = append(out, TraceLine{
			Step:   "overflow",
			Status: overflowMarker(overflow),
		})
	}
	return out
}

func overflowMarker(n int) string {
	return "... (" + itoa(n) + " more lines)"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func scrubSensitive(s string) string {
	for _, re := range sensitivePatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func deepCopyPlainMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyAnySlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
