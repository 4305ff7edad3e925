// Package config loads the service configuration (component D) from the
// process environment, following the env-first convention of the teacher
// repo's loader: a .env overlay via godotenv, then explicit per-key parsing
// with defaults applied after the read, never inline during it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every knob spec.md §4.D names, plus the ingest-analysis flags
// and per-chunk limits the ingest analyzer (component M) needs.
type Config struct {
	RetrievalParallel  bool
	RetrievalTimeoutMS int
	GraphTimeoutMS     int
	CompareTimeoutMS   int
	ReviewerEnabled    bool
	ReviewerBudgetMS   int
	ReviewerProvider   string // "anthropic", "openai", or "google"
	ReviewerAPIKey     string
	ReviewerModel      string
	PgvectorEnabled    bool
	FallbacksEnabled   bool

	IngestAnalysisEnabled         bool
	IngestContradictionsEnabled   bool
	IngestImplicateRefreshEnabled bool

	MaxMSPerChunk int
	MaxVerbs      int
	MaxFrames     int
	MaxConcepts   int

	// ListenAddr is the address the httpapi server binds to.
	ListenAddr string
	LogPath    string
	LogLevel   string

	// DatabaseURL, when set, selects the Postgres-backed stores; an empty
	// value keeps the in-memory stores, which is the default for a
	// zero-dependency local run.
	DatabaseURL string

	// QdrantDSN, when set, selects the Qdrant-backed primary vector stores
	// for both layers over the in-memory default.
	QdrantDSN        string
	VectorDimensions int
	VectorMetric     string

	// Embedding configures the opaque embedding-model client (Non-goal per
	// spec.md §1: this repo treats the embedding backend as a pluggable
	// HTTP endpoint, never a concrete model integration).
	Embedding EmbeddingConfig

	// Obs configures the OpenTelemetry tracing/metrics exporters (§3A).
	Obs ObsConfig

	// Raw holds every RAGD_-prefixed environment variable as read, for the
	// /debug/config endpoint to report (after redaction).
	Raw map[string]string
}

// ObsConfig points InitOTel at a collector. Tracing/metrics export is
// skipped entirely when OTLP is blank, so a deployment without a collector
// still starts cleanly.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// EmbeddingConfig points at whatever HTTP embedding endpoint the deployment
// wires up. Headers, when set, take precedence per-key over the legacy
// single APIHeader/APIKey pair.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Headers   map[string]string
	Timeout   int // seconds
}

// defaults mirrors spec.md §4.D's default column exactly.
func defaults() Config {
	return Config{
		RetrievalParallel:  true,
		RetrievalTimeoutMS: 450,
		GraphTimeoutMS:     150,
		CompareTimeoutMS:   400,
		ReviewerEnabled:    true,
		ReviewerBudgetMS:   500,
		PgvectorEnabled:    true,
		FallbacksEnabled:   true,

		IngestAnalysisEnabled:         false,
		IngestContradictionsEnabled:   false,
		IngestImplicateRefreshEnabled: false,

		MaxMSPerChunk: 40,
		MaxVerbs:      20,
		MaxFrames:     10,
		MaxConcepts:   10,

		ListenAddr: ":8080",
		LogLevel:   "info",
	}
}

// InvalidError reports every malformed key found while loading, so the
// caller can fail startup once with a complete list rather than one key at
// a time.
type InvalidError struct {
	Keys []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid config keys: %s", strings.Join(e.Keys, ", "))
}

// Load reads .env (if present, via godotenv.Overload, so its values replace
// variables already set in the process) then the process environment, applying
// spec.md §4.D defaults for anything unset or blank.
func Load() (Config, error) {
	_ = godotenv.Overload()
	return FromEnviron(os.Environ())
}

// FromEnviron parses a specific environment (as "KEY=VALUE" pairs), for
// tests that don't want to touch the real process environment.
func FromEnviron(environ []string) (Config, error) {
	raw := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "RAGD_") {
			raw[k] = v
		}
	}

	cfg := defaults()
	cfg.Raw = raw

	var invalid []string
	get := func(key string) (string, bool) {
		v, ok := raw[key]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	parseBool := func(key string, dst *bool) {
		v, ok := get(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			invalid = append(invalid, key)
			return
		}
		*dst = b
	}
	parsePositiveInt := func(key string, dst *int) {
		v, ok := get(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, key)
			return
		}
		*dst = n
	}

	parseBool("RAGD_RETRIEVAL_PARALLEL", &cfg.RetrievalParallel)
	parsePositiveInt("RAGD_RETRIEVAL_TIMEOUT_MS", &cfg.RetrievalTimeoutMS)
	parsePositiveInt("RAGD_GRAPH_TIMEOUT_MS", &cfg.GraphTimeoutMS)
	parsePositiveInt("RAGD_COMPARE_TIMEOUT_MS", &cfg.CompareTimeoutMS)
	parseBool("RAGD_REVIEWER_ENABLED", &cfg.ReviewerEnabled)
	parsePositiveInt("RAGD_REVIEWER_BUDGET_MS", &cfg.ReviewerBudgetMS)
	cfg.ReviewerProvider = envOr(raw, "RAGD_REVIEWER_PROVIDER", "anthropic")
	cfg.ReviewerAPIKey = raw["RAGD_REVIEWER_API_KEY"]
	cfg.ReviewerModel = raw["RAGD_REVIEWER_MODEL"]
	parseBool("RAGD_PGVECTOR_ENABLED", &cfg.PgvectorEnabled)
	parseBool("RAGD_FALLBACKS_ENABLED", &cfg.FallbacksEnabled)

	parseBool("RAGD_INGEST_ANALYSIS_ENABLED", &cfg.IngestAnalysisEnabled)
	parseBool("RAGD_INGEST_CONTRADICTIONS_ENABLED", &cfg.IngestContradictionsEnabled)
	parseBool("RAGD_INGEST_IMPLICATE_REFRESH_ENABLED", &cfg.IngestImplicateRefreshEnabled)

	parsePositiveInt("RAGD_MAX_MS_PER_CHUNK", &cfg.MaxMSPerChunk)
	parsePositiveInt("RAGD_MAX_VERBS", &cfg.MaxVerbs)
	parsePositiveInt("RAGD_MAX_FRAMES", &cfg.MaxFrames)
	parsePositiveInt("RAGD_MAX_CONCEPTS", &cfg.MaxConcepts)

	cfg.Embedding = EmbeddingConfig{
		BaseURL:   raw["RAGD_EMBEDDING_BASE_URL"],
		Path:      raw["RAGD_EMBEDDING_PATH"],
		Model:     raw["RAGD_EMBEDDING_MODEL"],
		APIHeader: raw["RAGD_EMBEDDING_API_HEADER"],
		APIKey:    raw["RAGD_EMBEDDING_API_KEY"],
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/embeddings"
	}
	parsePositiveInt("RAGD_EMBEDDING_TIMEOUT_SECONDS", &cfg.Embedding.Timeout)

	cfg.Obs = ObsConfig{
		ServiceName:    envOr(raw, "RAGD_OBS_SERVICE_NAME", "ragd"),
		ServiceVersion: envOr(raw, "RAGD_OBS_SERVICE_VERSION", "dev"),
		Environment:    envOr(raw, "RAGD_OBS_ENVIRONMENT", "development"),
		OTLP:           raw["RAGD_OBS_OTLP_ENDPOINT"],
	}

	cfg.ListenAddr = envOr(raw, "RAGD_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogPath = raw["RAGD_LOG_PATH"]
	cfg.LogLevel = envOr(raw, "RAGD_LOG_LEVEL", cfg.LogLevel)
	cfg.DatabaseURL = raw["RAGD_DATABASE_URL"]
	cfg.QdrantDSN = raw["RAGD_QDRANT_DSN"]
	cfg.VectorMetric = envOr(raw, "RAGD_VECTOR_METRIC", "cosine")
	cfg.VectorDimensions = 1536
	parsePositiveInt("RAGD_VECTOR_DIMENSIONS", &cfg.VectorDimensions)

	if cfg.RetrievalParallel && !cfg.PgvectorEnabled {
		invalid = append(invalid, "RAGD_RETRIEVAL_PARALLEL requires RAGD_PGVECTOR_ENABLED")
	}

	if len(invalid) > 0 {
		return cfg, &InvalidError{Keys: invalid}
	}
	return cfg, nil
}

func envOr(raw map[string]string, key, fallback string) string {
	if v, ok := raw[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

var credentialKeyPattern = regexp.MustCompile(`(?i)(KEY|SECRET|TOKEN|PASSWORD)`)

// DebugView is the shape /debug/config serializes, grouping keys the way
// spec.md §6 describes.
type DebugView struct {
	Flags   map[string]bool   `json:"flags"`
	Budgets map[string]int    `json:"budgets"`
	Raw     map[string]string `json:"raw"`
}

// Redacted builds the /debug/config view, replacing any raw key whose name
// looks credential-shaped with a fixed placeholder instead of its value.
func (c Config) Redacted() DebugView {
	raw := make(map[string]string, len(c.Raw))
	for k, v := range c.Raw {
		if credentialKeyPattern.MatchString(k) {
			raw[k] = "***REDACTED***"
			continue
		}
		raw[k] = v
	}
	return DebugView{
		Flags: map[string]bool{
			"retrieval.parallel":               c.RetrievalParallel,
			"reviewer.enabled":                 c.ReviewerEnabled,
			"pgvector.enabled":                 c.PgvectorEnabled,
			"fallbacks.enabled":                c.FallbacksEnabled,
			"ingest.analysis.enabled":          c.IngestAnalysisEnabled,
			"ingest.contradictions.enabled":    c.IngestContradictionsEnabled,
			"ingest.implicate.refresh_enabled": c.IngestImplicateRefreshEnabled,
		},
		Budgets: map[string]int{
			"retrieval.timeout_ms": c.RetrievalTimeoutMS,
			"graph.timeout_ms":     c.GraphTimeoutMS,
			"compare.timeout_ms":   c.CompareTimeoutMS,
			"reviewer.budget_ms":   c.ReviewerBudgetMS,
			"max_ms_per_chunk":     c.MaxMSPerChunk,
			"max_verbs":            c.MaxVerbs,
			"max_frames":           c.MaxFrames,
			"max_concepts":         c.MaxConcepts,
		},
		Raw: raw,
	}
}
