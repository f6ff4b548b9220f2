// Package suite loads test suites from YAML or JSON files.
package suite

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/guardbench/internal/outcome"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSuite wraps every parse and schema failure.
var ErrInvalidSuite = errors.New("invalid suite")

const unknown = "unknown"

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/triage-ai/guardbench/suite.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// Template is a group of prompts sharing a name, category and expectation.
type Template struct {
	Name           string   `yaml:"name" json:"name"`
	Category       string   `yaml:"category" json:"category"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedAction string   `yaml:"expected_guardrail_action" json:"expected_guardrail_action"`
	Prompts        []string `yaml:"prompts" json:"prompts"`
}

// Suite is a named list of templates.
type Suite struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Templates   []Template `yaml:"templates" json:"templates"`
}

// LoadFile reads and validates a suite file. YAML is a superset of JSON, so
// both formats are accepted.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Load reads a suite from r.
func Load(r io.Reader) (*Suite, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return Parse(data)
}

// Parse validates data against the suite schema and decodes it.
func Parse(data []byte) (*Suite, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}

	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}

	sch, err := schema()
	if err != nil {
		return nil, fmt.Errorf("suite schema: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}

	var s Suite
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuite, err)
	}
	return &s, nil
}

// TestCases expands every prompt of every template into one test case, in
// file order. Missing names and categories become "unknown".
func (s *Suite) TestCases() []outcome.TestCase {
	var out []outcome.TestCase
	for _, t := range s.Templates {
		name, category := t.Name, t.Category
		if name == "" {
			name = unknown
		}
		if category == "" {
			category = unknown
		}
		expected := outcome.ParseExpectedAction(t.ExpectedAction)
		for _, p := range t.Prompts {
			out = append(out, outcome.TestCase{
				Name:     name,
				Category: category,
				Prompt:   p,
				Expected: expected,
			})
		}
	}
	return out
}
