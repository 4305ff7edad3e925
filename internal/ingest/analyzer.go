// Package ingest implements the ingest analyzer (component M) and commit
// engine (component N): turning one chunk of text into concept/frame
// entities and persisted graph structure, with every NLP capability
// injected as an opaque interface rather than baked into the core,
// grounded in the teacher's internal/rag/ingest EntityExtractor/
// LinkExtractor injection pattern (internal/rag/ingest/index_graph.go).
package ingest

import (
	"context"
	"strings"
	"time"
)

// Limits bounds one analyze_chunk call, sourced from config.Config.
type Limits struct {
	MaxVerbs              int
	MaxFrames             int
	MaxConcepts           int
	MaxMSPerChunk         int
	ContradictionsEnabled bool
}

// Predicate is one extracted verb with its argument roles.
type Predicate struct {
	Verb     string
	Subject  string
	Object   string
	Polarity string // "positive" or "negative"
}

// Frame groups predicates into a structured unit of meaning.
type Frame struct {
	ID         string
	Predicates []Predicate
}

// Concept is a suggested named concept a frame provides evidence for.
type Concept struct {
	Name string
}

// DetectedContradiction is a pair of frames whose claims conflict.
type DetectedContradiction struct {
	Subject  string
	FrameAID string
	FrameBID string
}

// AnalysisResult is the output of AnalyzeChunk.
type AnalysisResult struct {
	Predicates     []Predicate
	Frames         []Frame
	Concepts       []Concept
	Contradictions []DetectedContradiction
	Truncated      bool
}

// Tokenizer, PredicateExtractor, ContradictionScorer are the opaque NLP
// capability set spec.md §4.M requires the core to depend on without any
// language-model specifics. Implementations are injected by whoever
// constructs the Analyzer; cmd/ragd constructs none.
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]string, error)
}

type PredicateExtractor interface {
	ExtractPredicates(ctx context.Context, tokens []string) ([]Predicate, error)
}

type ContradictionScorer interface {
	DetectContradictions(ctx context.Context, frames []Frame) ([]DetectedContradiction, error)
}

// Capabilities bundles the injected NLP backends.
type Capabilities struct {
	Tokenizer      Tokenizer
	Predicates     PredicateExtractor
	Contradictions ContradictionScorer
}

// Analyzer runs the tokenize -> predicates -> frames -> concepts ->
// contradictions pipeline of spec.md §4.M, bounded by Limits.MaxMSPerChunk.
type Analyzer struct {
	Capabilities Capabilities
}

// NewAnalyzer constructs an Analyzer against the given capability set.
func NewAnalyzer(caps Capabilities) *Analyzer {
	return &Analyzer{Capabilities: caps}
}

// AnalyzeChunk implements analyze_chunk. When the deadline elapses
// mid-pipeline it returns whatever was computed so far, tagged
// Truncated=true; the caller must then skip commit for this chunk.
func (a *Analyzer) AnalyzeChunk(ctx context.Context, text string, limits Limits) AnalysisResult {
	budget := time.Duration(limits.MaxMSPerChunk) * time.Millisecond
	if budget <= 0 {
		budget = 40 * time.Millisecond
	}
	deadline := time.Now().Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var result AnalysisResult

	tokens, err := a.Capabilities.Tokenizer.Tokenize(ctx, text)
	if err != nil || pastDeadline(deadline) {
		result.Truncated = true
		return result
	}

	predicates, err := a.Capabilities.Predicates.ExtractPredicates(ctx, tokens)
	if err != nil || pastDeadline(deadline) {
		result.Truncated = true
		return result
	}
	if len(predicates) > limits.MaxVerbs {
		predicates = predicates[:limits.MaxVerbs]
		result.Truncated = true
	}
	result.Predicates = predicates

	frames := assembleFrames(predicates, limits.MaxFrames)
	if len(frames) >= limits.MaxFrames && limits.MaxFrames > 0 && len(predicates) > len(frames) {
		result.Truncated = true
	}
	result.Frames = frames

	concepts := suggestConcepts(frames, limits.MaxConcepts)
	if limits.MaxConcepts > 0 && len(concepts) >= limits.MaxConcepts {
		result.Truncated = result.Truncated || len(frames) > len(concepts)
	}
	result.Concepts = concepts

	if limits.ContradictionsEnabled && !pastDeadline(deadline) {
		contradictions, err := a.Capabilities.Contradictions.DetectContradictions(ctx, frames)
		if err == nil {
			result.Contradictions = contradictions
		}
	}

	if pastDeadline(deadline) {
		result.Truncated = true
	}
	return result
}

func pastDeadline(deadline time.Time) bool {
	return time.Now().After(deadline)
}

// assembleFrames groups each predicate into its own single-predicate
// frame, capped at maxFrames. Grouping heuristics beyond one-predicate-
// per-frame are left to a richer capability set; this default keeps the
// pipeline well-defined when only a bare PredicateExtractor is wired.
func assembleFrames(predicates []Predicate, maxFrames int) []Frame {
	if maxFrames <= 0 {
		maxFrames = 10
	}
	frames := make([]Frame, 0, len(predicates))
	for i, p := range predicates {
		if i >= maxFrames {
			break
		}
		frames = append(frames, Frame{ID: frameLocalID(i), Predicates: []Predicate{p}})
	}
	return frames
}

// suggestConcepts derives one concept per distinct predicate subject,
// capped at maxConcepts.
func suggestConcepts(frames []Frame, maxConcepts int) []Concept {
	if maxConcepts <= 0 {
		maxConcepts = 10
	}
	seen := map[string]struct{}{}
	var out []Concept
	for _, f := range frames {
		for _, p := range f.Predicates {
			name := strings.TrimSpace(p.Subject)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, Concept{Name: name})
			if len(out) >= maxConcepts {
				return out
			}
		}
	}
	return out
}

func frameLocalID(i int) string {
	return "f" + itoa(i)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
