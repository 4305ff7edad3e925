package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rafaeldicarlantonio/ragd/internal/observability"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
)

// AnthropicReviewer is the primary reviewer backend, adapted from the
// teacher's internal/llm/anthropic.Client non-streaming Chat path
// (internal/llm/anthropic/client.go): construct the SDK client once,
// build a single-turn MessageNewParams, call Messages.New, parse the
// reply. Tool use, streaming, and multi-turn thinking-block bookkeeping
// are all out of scope for a single structured verdict call.
type AnthropicReviewer struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropicReviewer builds a reviewer backend against the given model
// (e.g. "claude-3-7-sonnet-latest").
func NewAnthropicReviewer(apiKey, model string) *AnthropicReviewer {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicReviewer{sdk: anthropic.NewClient(opts...), model: model}
}

type reviewVerdictJSON struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Flags      []string `json:"flags"`
	Details    string   `json:"details"`
}

func (r *AnthropicReviewer) Review(ctx context.Context, answerText string, evidence []retrieval.Item, query string) (Verdict, error) {
	prompt := buildReviewPrompt(answerText, evidence, query)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a terse factuality and grounding reviewer. Reply with a single JSON object: {\"score\":0-1,\"confidence\":0-1,\"flags\":[...],\"details\":\"...\"}. No other text."},
		},
	}

	resp, err := r.sdk.Messages.New(ctx, params)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("model", r.model).Msg("reviewer_anthropic_call_error")
		return Verdict{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	var parsed reviewVerdictJSON
	if err := json.Unmarshal([]byte(extractJSONObject(text.String())), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("reviewer: unparseable verdict: %w", err)
	}

	return Verdict{Score: parsed.Score, Confidence: parsed.Confidence, Flags: parsed.Flags, Details: parsed.Details}, nil
}

func buildReviewPrompt(answerText string, evidence []retrieval.Item, query string) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer to review:\n")
	b.WriteString(answerText)
	b.WriteString("\n\nEvidence provided to the answerer:\n")
	for _, it := range evidence {
		b.WriteString("- [")
		b.WriteString(it.ID)
		b.WriteString("] ")
		b.WriteString(it.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSONObject trims any prose the model wraps around its JSON reply
// down to the first top-level {...} span.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return "{}"
	}
	return s[start : end+1]
}
