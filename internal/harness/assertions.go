package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	scope := a.Scope
	if scope == "" {
		scope = h.orgScope()
	}

	switch a.Type {
	case AssertAuditCount:
		events, err := h.auditEvents(ctx, scope)
		if err != nil {
			return err
		}
		if len(events) != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d entries in %s", a.Count, scope),
				Actual:   fmt.Sprintf("%d entries: %s", len(events), strings.Join(events, ", ")),
			}
		}

	case AssertAuditOrder:
		events, err := h.auditEvents(ctx, scope)
		if err != nil {
			return err
		}
		if !isSubsequence(a.Events, events) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%v", events),
			}
		}

	case AssertChainValid:
		report, err := h.ledger.Verify(ctx, scope)
		if err != nil {
			return &AssertionError{Type: a.Type, Expected: scope + " verifies", Actual: err.Error()}
		}
		if !report.Valid {
			return &AssertionError{Type: a.Type, Expected: scope + " verifies", Actual: report.Reason}
		}

	case AssertDocumentText:
		text, _, err := h.collab.Text(ctx, h.resolve(a.Ref))
		if err != nil {
			return err
		}
		if text != a.Text {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%q", a.Text), Actual: fmt.Sprintf("%q", text)}
		}

	case AssertArtifactState:
		art, err := h.artifacts.Get(ctx, h.resolve(a.Ref), artifact.GetOptions{IncludeDeleted: true})
		if err != nil {
			return err
		}
		actual := h.artifactResult(art)
		actual["content"] = art.Content
		actual["metadata"] = art.Metadata
		if !matchSubset(a.Expect, actual) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%v", a.Expect),
				Actual:   fmt.Sprintf("%v", actual),
			}
		}

	case AssertEdgeCount:
		n, err := h.liveEdgeCount(ctx)
		if err != nil {
			return err
		}
		if n != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d live edges", a.Count), Actual: fmt.Sprintf("%d", n)}
		}
	}
	return nil
}

// isSubsequence reports whether want appears in got in order, not
// necessarily contiguously.
func isSubsequence(want, got []string) bool {
	i := 0
	for _, g := range got {
		if i < len(want) && g == want[i] {
			i++
		}
	}
	return i == len(want)
}

// matchSubset reports whether expected is a subset of actual. Both sides
// go through a JSON round trip so YAML ints and Go int64s compare equal.
// Mappings match on the listed keys; sequences must match element-wise.
func matchSubset(expected, actual map[string]any) bool {
	return subset(normalize(expected), normalize(actual))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func subset(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !subset(v, av) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !subset(exp[i], act[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(expected, actual)
	}
}
