// Package config loads guardbench settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/triage-ai/guardbench/internal/engine"
)

// ErrNoPolicies is reported when guardrails are enabled without any PolicyRef.
var ErrNoPolicies = errors.New("guardrails enabled but no policy IDs configured")

// Evaluator backends.
const (
	BackendBedrock = "bedrock"
	BackendGRPC    = "grpc"
	BackendBuiltin = "builtin"
)

// Generation providers.
const (
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Guardrails configures the PolicyEvaluationGateway and its backend.
type Guardrails struct {
	Enabled      bool
	Mode         engine.Mode
	Policies     []engine.PolicyRef
	Skipped      []string // GUARDRAILS_IDS entries dropped for lacking ':'
	Backend      string
	Timeout      time.Duration
	Pairing      engine.OutputPairing
	GRPCEndpoint string
	GRPCAPIKey   string
	CustomWords  []string // builtin backend word list
}

// Gateway returns the engine configuration for these settings.
func (g Guardrails) Gateway() engine.GatewayConfig {
	return engine.GatewayConfig{
		Enabled:  g.Enabled,
		Mode:     g.Mode,
		Policies: g.Policies,
		Timeout:  g.Timeout,
		Pairing:  g.Pairing,
	}
}

// Generation configures the model clients under test.
type Generation struct {
	Provider    string
	Models      []string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	OllamaURL   string
}

// Report configures where summaries go besides the local file.
type Report struct {
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
}

// Config is every setting guardbench reads from the environment.
type Config struct {
	Guardrails  Guardrails
	Generation  Generation
	Report      Report
	AWSRegion   string
	LogLevel    string
	ResultsLog  string
	Concurrency int
	RPS         float64

	ClickHouseDSN string
	PostgresDSN   string
	HTTPPort      string
	GRPCPort      string
	APIKeyHash    string

	// Warnings lists recoverable problems found while loading, for the
	// caller to log once a logger exists.
	Warnings []error
}

// Load reads the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. Malformed optional values fall
// back to their defaults and are reported in Config.Warnings; the returned
// error covers only settings that make startup impossible.
func LoadFrom(getenv func(string) string) (*Config, error) {
	e := &env{getenv: getenv}
	cfg := &Config{}

	g := &cfg.Guardrails
	g.Enabled = strings.EqualFold(strings.TrimSpace(getenv("GUARDRAILS_ENABLED")), "true")

	modeStr := e.orDefault("GUARDRAILS_MODE", "both")
	mode, ok := engine.ParseMode(modeStr)
	if !ok {
		e.warn(fmt.Errorf("GUARDRAILS_MODE=%q is not one of both, input_only, output_only; using both", modeStr))
	}
	g.Mode = mode

	g.Policies, g.Skipped = ParsePolicyRefs(getenv("GUARDRAILS_IDS"))
	for _, s := range g.Skipped {
		e.warn(fmt.Errorf("GUARDRAILS_IDS entry %q has no ':' separator; skipped", s))
	}
	if g.Enabled && len(g.Policies) == 0 {
		e.warn(ErrNoPolicies)
	}

	g.Backend = strings.ToLower(e.orDefault("GUARDRAILS_BACKEND", BackendBedrock))
	g.Timeout = time.Duration(e.intOrDefault("GUARDRAILS_TIMEOUT_MS", int(engine.DefaultTimeout/time.Millisecond))) * time.Millisecond

	pairingStr := e.orDefault("GUARDRAILS_OUTPUT_PAIRING", "response_only")
	pairing, ok := engine.ParseOutputPairing(pairingStr)
	if !ok {
		e.warn(fmt.Errorf("GUARDRAILS_OUTPUT_PAIRING=%q is not one of response_only, prompt_and_response; using response_only", pairingStr))
	}
	g.Pairing = pairing
	g.GRPCEndpoint = getenv("GUARDRAILS_GRPC_ENDPOINT")
	g.GRPCAPIKey = getenv("GUARDRAILS_GRPC_API_KEY")
	g.CustomWords = splitList(getenv("GUARDRAILS_BUILTIN_WORDS"))

	cfg.AWSRegion = e.orDefault("AWS_REGION", "us-east-1")

	gen := &cfg.Generation
	gen.Provider = strings.ToLower(e.orDefault("GENERATION_PROVIDER", ProviderBedrock))
	gen.Models = splitList(getenv("GENERATION_MODELS"))
	gen.MaxTokens = e.intOrDefault("GENERATION_MAX_TOKENS", 1024)
	gen.Temperature = e.floatOrDefault("GENERATION_TEMPERATURE", 0.7)
	gen.Timeout = time.Duration(e.intOrDefault("GENERATION_TIMEOUT_MS", 60000)) * time.Millisecond
	gen.OllamaURL = e.orDefault("OLLAMA_SERVER_URL", "http://localhost:11434")

	cfg.LogLevel = e.orDefault("GUARDBENCH_LOG_LEVEL", "info")
	cfg.ResultsLog = e.orDefault("GUARDBENCH_RESULTS_LOG", "guardrail_results.jsonl")
	cfg.Concurrency = e.intOrDefault("GUARDBENCH_CONCURRENCY", 4)
	cfg.RPS = e.floatOrDefault("GUARDBENCH_RPS", 0)
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN")
	cfg.PostgresDSN = getenv("POSTGRES_DSN")
	cfg.HTTPPort = e.orDefault("GUARDBENCH_HTTP_PORT", "8080")
	cfg.GRPCPort = getenv("GUARDBENCH_GRPC_PORT")
	cfg.APIKeyHash = getenv("GUARDBENCH_API_KEY_HASH")

	cfg.Report = Report{
		S3Bucket:   getenv("REPORT_S3_BUCKET"),
		S3Prefix:   getenv("REPORT_S3_PREFIX"),
		S3Endpoint: getenv("REPORT_S3_ENDPOINT"),
	}
	cfg.Warnings = e.warnings

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("LoadFrom: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Guardrails.Backend {
	case BackendBedrock, BackendBuiltin:
	case BackendGRPC:
		if c.Guardrails.GRPCEndpoint == "" && c.Guardrails.Enabled {
			errs = append(errs, errors.New("GUARDRAILS_BACKEND=grpc requires GUARDRAILS_GRPC_ENDPOINT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GUARDRAILS_BACKEND %q", c.Guardrails.Backend))
	}
	switch c.Generation.Provider {
	case ProviderBedrock, ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown GENERATION_PROVIDER %q", c.Generation.Provider))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("GUARDBENCH_CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

// ParsePolicyRefs parses "id:version[,id:version...]". Entries are trimmed
// and split at the first ':'. Entries without ':' are returned in skipped.
// Duplicates are kept; order is preserved.
func ParsePolicyRefs(s string) (refs []engine.PolicyRef, skipped []string) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, version, ok := strings.Cut(entry, ":")
		if !ok {
			skipped = append(skipped, entry)
			continue
		}
		refs = append(refs, engine.PolicyRef{
			ID:      strings.TrimSpace(id),
			Version: strings.TrimSpace(version),
		})
	}
	return refs, skipped
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// env wraps a lookup function with typed defaults, recording values that
// fail to parse.
type env struct {
	getenv   func(string) string
	warnings []error
}

func (e *env) warn(err error) {
	e.warnings = append(e.warnings, err)
}

func (e *env) orDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func (e *env) intOrDefault(key string, defaultVal int) int {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		e.warn(fmt.Errorf("%s=%q is not an integer; using %d", key, v, defaultVal))
	}
	return defaultVal
}

func (e *env) floatOrDefault(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		e.warn(fmt.Errorf("%s=%q is not a number; using %g", key, v, defaultVal))
	}
	return defaultVal
}
