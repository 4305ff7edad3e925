package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/rafaeldicarlantonio/ragd/internal/observability"
	"github.com/rafaeldicarlantonio/ragd/internal/retrieval"
)

// OpenAIReviewer is the alternate reviewer backend selected by
// reviewer.provider=openai, adapted from the teacher's
// internal/llm/openai.Client.Chat non-streaming, non-tool path
// (internal/llm/openai/client.go): one Chat Completions call, no tools,
// no image/responses-API branching.
type OpenAIReviewer struct {
	sdk   sdk.Client
	model string
}

// NewOpenAIReviewer builds a reviewer backend against the given model
// (e.g. "gpt-4.1-mini").
func NewOpenAIReviewer(apiKey, model string) *OpenAIReviewer {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if model == "" {
		model = "gpt-4.1-mini"
	}
	return &OpenAIReviewer{sdk: sdk.NewClient(opts...), model: model}
}

func (r *OpenAIReviewer) Review(ctx context.Context, answerText string, evidence []retrieval.Item, query string) (Verdict, error) {
	prompt := buildReviewPrompt(answerText, evidence, query)

	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(r.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage("You are a terse factuality and grounding reviewer. Reply with a single JSON object: {\"score\":0-1,\"confidence\":0-1,\"flags\":[...],\"details\":\"...\"}. No other text."),
			sdk.UserMessage(prompt),
		},
	}

	comp, err := r.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Str("model", r.model).Msg("reviewer_openai_call_error")
		return Verdict{}, err
	}
	if len(comp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("reviewer: openai returned no choices")
	}

	var parsed reviewVerdictJSON
	content := comp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &parsed); err != nil {
		return Verdict{}, fmt.Errorf("reviewer: unparseable verdict: %w", err)
	}
	return Verdict{Score: parsed.Score, Confidence: parsed.Confidence, Flags: parsed.Flags, Details: parsed.Details}, nil
}
