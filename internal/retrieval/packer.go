package retrieval

import (
	"sort"
	"time"

	"github.com/rafaeldicarlantonio/ragd/internal/obs"
	"github.com/rafaeldicarlantonio/ragd/internal/util"
)

// PackOptions controls one Pack call.
type PackOptions struct {
	TokenBudget int
	// Slack is the fraction of TokenBudget the packer tolerates leaving
	// unused in order to keep a diversity skip (spec.md §4.K step 3).
	Slack float64
	// Metrics observes packing_ms; optional.
	Metrics *obs.Registry
}

// PackResult is the admitted, ordered subset plus its deterministic
// order key.
type PackResult struct {
	Items      []Item
	OrderKey   string
	TokensUsed int
	PackingMS  int64
}

// estimateTokens delegates to the word/punctuation tokenizer shared with
// the rest of the module, rather than a per-character heuristic, so a
// packed context's token accounting agrees with anything else in the
// service that counts tokens the same way.
func estimateTokens(text string) int {
	return util.CountTokens(text)
}

// Pack implements the 5-step admission policy of spec.md §4.K, adapted
// from the teacher's Diversify (internal/rag/retrieve/fusion.go), which
// penalizes repeated sources multiplicatively; here the policy instead
// skips an admission outright to respect a hard token budget rather than
// a result-count cap.
func Pack(items []Item, opt PackOptions) PackResult {
	start := time.Now()
	if opt.Slack <= 0 {
		opt.Slack = 0.05
	}

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	var admitted []Item
	used := 0
	var lastSource string
	admissionCount := 0

	for _, it := range sorted {
		cost := estimateTokens(it.Text)
		if used+cost > opt.TokenBudget {
			continue
		}

		admissionCount++
		source := it.Metadata["source"]
		if admissionCount%3 == 0 && source != "" && source == lastSource {
			remaining := opt.TokenBudget - used
			underfillIfSkipped := float64(remaining) / float64(maxInt(opt.TokenBudget, 1))
			if underfillIfSkipped <= opt.Slack {
				// skipping this item would leave the budget underfilled by
				// no more than the configured slack: take the diversity skip.
				continue
			}
			// skipping would underfill the budget too much; admit anyway.
		}

		admitted = append(admitted, it)
		used += cost
		lastSource = source
	}

	result := PackResult{
		Items:      admitted,
		TokensUsed: used,
		OrderKey:   orderKey(admitted),
		PackingMS:  time.Since(start).Milliseconds(),
	}
	if opt.Metrics != nil {
		opt.Metrics.ObserveHistogram("packing_ms", float64(result.PackingMS), nil)
	}
	return result
}

// orderKey is deterministic over the admitted set's ids in their final
// order, so identical inputs reproduce identical packs (spec.md §4.K
// step 4).
func orderKey(items []Item) string {
	out := make([]byte, 0, 16*len(items))
	for i, it := range items {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, it.ID...)
	}
	return string(out)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
