package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/rafaeldicarlantonio/ragd/internal/observability"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
)

// GoogleReviewer is the third reviewer backend selected by
// reviewer.provider=google, adapted from the teacher's internal/llm/google.Client
// non-streaming Chat path (internal/llm/google/client.go): one
// Models.GenerateContent call, no tools, no streaming, no image
// generation. The teacher prefixes a system-role message with "[system] "
// rather than using genai's SystemInstruction config field, since its
// single Chat entry point threads every role through the same
// toContents conversion; this reviewer keeps that same convention for a
// single-turn call.
type GoogleReviewer struct {
	sdk   *genai.Client
	model string
}

// NewGoogleReviewer builds a reviewer backend against the given model
// (e.g. "gemini-1.5-flash"). A construction failure surfaces as an error
// from every Review call rather than a second error return, matching how
// the other two reviewer backends are constructed (NewAnthropicReviewer/
// NewOpenAIReviewer never fail either, since both SDKs defer connection
// setup to the first request).
func NewGoogleReviewer(apiKey, model string) *GoogleReviewer {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: strings.TrimSpace(apiKey)})
	if err != nil {
		// Deferred: with a nil sdk every Review call returns a "google
		// client not initialized" error; the construction error itself is
		// not kept.
		return &GoogleReviewer{model: model}
	}
	return &GoogleReviewer{sdk: client, model: model}
}

func (r *GoogleReviewer) Review(ctx context.Context, answerText string, evidence []retrieval.Item, query string) (Verdict, error) {
	if r.sdk == nil {
		return Verdict{}, fmt.Errorf("reviewer: google client not initialized")
	}

	systemPrompt := "[system] You are a terse factuality and grounding reviewer. Reply with a single JSON object: {\"score\":0-1,\"confidence\":0-1,\"flags\":[...],\"details\":\"...\"}. No other text."
	prompt := buildReviewPrompt(answerText, evidence, query)

	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: systemPrompt}}},
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}},
	}

	resp, err := r.sdk.Models.GenerateContent(ctx, r.model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("model", r.model).Msg("reviewer_google_call_error")
		return Verdict{}, err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Verdict{}, fmt.Errorf("reviewer: google returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	var parsed reviewVerdictJSON
	if err := json.Unmarshal([]byte(extractJSONObject(text.String())), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("reviewer: unparseable verdict: %w", err)
	}
	return Verdict{Score: parsed.Score, Confidence: parsed.Confidence, Flags: parsed.Flags, Details: parsed.Details}, nil
}
