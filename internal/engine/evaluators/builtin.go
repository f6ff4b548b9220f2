package evaluators

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/triage-ai/guardbench/internal/engine"
)

// Rule set names. A PolicyRef whose ID equals one of these runs only that
// rule set; any other ID runs all of them.
const (
	RulePromptInjection = "prompt_injection"
	RuleJailbreak       = "jailbreak"
	RuleContent         = "content_mod"
	RulePII             = "pii"
	RuleRegex           = "regex"
	RuleCustomWords     = "custom_words"
)

var allRules = []string{RulePromptInjection, RuleJailbreak, RuleContent, RuleCustomWords, RulePII, RuleRegex}

const (
	defaultBlockThreshold = float32(0.8)
	defaultBlockedMessage = "Sorry, the model cannot answer this question."
	unitChars             = 1000
)

// RuleConfig tunes one rule set. Nil fields mean "use the default".
type RuleConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BlockThreshold *float32 `json:"block_threshold,omitempty" yaml:"block_threshold,omitempty"`
}

// BuiltinConfig configures the pattern evaluator.
type BuiltinConfig struct {
	Rules          map[string]RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty"`
	CustomWords    []string              `json:"custom_words,omitempty" yaml:"custom_words,omitempty"`
	BlockedMessage string                `json:"blocked_message,omitempty" yaml:"blocked_message,omitempty"`
}

func (c BuiltinConfig) enabled(rule string) bool {
	if rc, ok := c.Rules[rule]; ok && rc.Enabled != nil {
		return *rc.Enabled
	}
	return true
}

func (c BuiltinConfig) threshold(rule string) float32 {
	if rc, ok := c.Rules[rule]; ok && rc.BlockThreshold != nil {
		return *rc.BlockThreshold
	}
	return defaultBlockThreshold
}

// Builtin is an offline evaluator backed by compiled regular expressions.
// It reports entries in the same shape the managed backends do, so its
// verdicts normalize like any other.
type Builtin struct {
	cfg   BuiltinConfig
	words []pattern
}

// NewBuiltin compiles the custom word list and returns the evaluator.
func NewBuiltin(cfg BuiltinConfig) (*Builtin, error) {
	b := &Builtin{cfg: cfg}
	if b.cfg.BlockedMessage == "" {
		b.cfg.BlockedMessage = defaultBlockedMessage
	}
	for _, w := range cfg.CustomWords {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("NewBuiltin: word %q: %w", w, err)
		}
		b.words = append(b.words, pattern{re: re, confidence: 1, label: w})
	}
	return b, nil
}

func (b *Builtin) Name() string {
	return "builtin"
}

// Evaluate runs every active rule set against the content.
func (b *Builtin) Evaluate(ctx context.Context, req *engine.EvaluateRequest) (*engine.RawVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := &engine.RawVerdict{Action: "NONE"}
	units := contentUnits(req.Content)

	for _, rule := range b.rulesFor(req.Policy) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		threshold := b.cfg.threshold(rule)

		switch rule {
		case RulePromptInjection, RuleJailbreak:
			pats := promptInjectionPatterns
			if rule == RuleJailbreak {
				pats = jailbreakPatterns
			}
			for _, h := range scan(pats, req.Content) {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy:     engine.PolicyTopics,
					Name:       h.label,
					Type:       "DENY",
					Confidence: confidenceBucket(h.confidence),
					Action:     entryAction(h.confidence, threshold),
				})
			}
			raw.Usage.TopicPolicyUnits += units
		case RuleContent:
			for _, h := range scan(contentPatterns, req.Content) {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy:     engine.PolicyFilters,
					Type:       h.label,
					Confidence: confidenceBucket(h.confidence),
					Action:     entryAction(h.confidence, threshold),
				})
			}
			raw.Usage.ContentPolicyUnits += units
		case RuleCustomWords:
			if len(b.words) == 0 {
				continue
			}
			for _, h := range scan(b.words, req.Content) {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyCustomWords,
					Match:  h.label,
					Action: entryAction(h.confidence, threshold),
				})
			}
			raw.Usage.WordPolicyUnits += units
		case RulePII:
			for _, h := range scan(piiPatterns, req.Content) {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyPIIEntities,
					Type:   h.label,
					Match:  h.match,
					Action: entryAction(h.confidence, threshold),
				})
			}
			raw.Usage.SensitiveInformationPolicyUnits += units
		case RuleRegex:
			for _, h := range scan(regexPatterns, req.Content) {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyRegexes,
					Name:   h.label,
					Match:  h.match,
					Action: entryAction(h.confidence, threshold),
				})
			}
			raw.Usage.SensitiveInformationPolicyUnits += units
		}
	}

	for _, e := range raw.Assessments {
		if e.Action == engine.EntryBlocked {
			raw.Action = "GUARDRAIL_INTERVENED"
			raw.Outputs = []string{b.cfg.BlockedMessage}
			break
		}
	}
	return raw, nil
}

func (b *Builtin) rulesFor(ref engine.PolicyRef) []string {
	var rules []string
	for _, r := range allRules {
		if ref.ID == r {
			if b.cfg.enabled(r) {
				return []string{r}
			}
			return nil
		}
	}
	for _, r := range allRules {
		if b.cfg.enabled(r) {
			rules = append(rules, r)
		}
	}
	return rules
}

type hit struct {
	label      string
	match      string
	confidence float32
}

// scan returns one hit per label, keeping the highest confidence and the
// first match text seen for it.
func scan(pats []pattern, content string) []hit {
	var hits []hit
	index := make(map[string]int)
	for _, p := range pats {
		m := p.re.FindString(content)
		if m == "" {
			continue
		}
		if i, ok := index[p.label]; ok {
			if p.confidence > hits[i].confidence {
				hits[i].confidence = p.confidence
			}
			continue
		}
		index[p.label] = len(hits)
		hits = append(hits, hit{label: p.label, match: m, confidence: p.confidence})
	}
	return hits
}

func entryAction(confidence, threshold float32) string {
	if confidence >= threshold {
		return engine.EntryBlocked
	}
	return "NONE"
}

func confidenceBucket(c float32) string {
	switch {
	case c >= 0.9:
		return "HIGH"
	case c >= 0.7:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// contentUnits bills one unit per started thousand characters.
func contentUnits(content string) int32 {
	n := int32((len(content) + unitChars - 1) / unitChars)
	if n == 0 {
		n = 1
	}
	return n
}
