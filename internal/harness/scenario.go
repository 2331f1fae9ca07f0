package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of operations with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Org is the organisation every artifact is created in. Defaults to
	// "org-1".
	Org string `yaml:"org,omitempty"`

	// Restricted makes every mutation consult the governance gate.
	Restricted bool `yaml:"restricted,omitempty"`

	// MaxDepth is the traversal ceiling. Zero keeps the default.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// Collab tunes the document engine.
	Collab CollabSettings `yaml:"collab,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// CollabSettings tunes the document engine for a scenario.
type CollabSettings struct {
	SnapshotEvery int   `yaml:"snapshot_every,omitempty"`
	Retention     int64 `yaml:"retention,omitempty"`
}

// Step is one operation.
type Step struct {
	// Op names the operation, e.g. "link".
	Op string `yaml:"op"`

	// As binds the created artifact, edge or room to an alias.
	As string `yaml:"as,omitempty"`

	// Actor performs the operation. Defaults to "alice".
	Actor string `yaml:"actor,omitempty"`

	// Args are the operation arguments. Artifact and edge references are
	// aliases.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect validates the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Error is the expected error code. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Result is matched as a subset of the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Scope is the chain scope. Defaults to the scenario org's scope.
	Scope string `yaml:"scope,omitempty"`

	// Ref is an artifact or room alias.
	Ref string `yaml:"ref,omitempty"`

	Count  int            `yaml:"count,omitempty"`
	Events []string       `yaml:"events,omitempty"`
	Text   string         `yaml:"text,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertAuditCount    = "audit_count"
	AssertAuditOrder    = "audit_order"
	AssertChainValid    = "chain_valid"
	AssertDocumentText  = "document_text"
	AssertArtifactState = "artifact_state"
	AssertEdgeCount     = "edge_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Org == "" {
		scenario.Org = "org-1"
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	for i, step := range s.Steps {
		if _, ok := operations[step.Op]; !ok {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertAuditCount, AssertChainValid, AssertEdgeCount:
	case AssertAuditOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for audit_order", index)
		}
	case AssertDocumentText:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for document_text", index)
		}
	case AssertArtifactState:
		if a.Ref == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: ref and expect are required for artifact_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
