package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSubsequence(t *testing.T) {
	got := []string{"artifact.created", "edge.linked", "artifact.updated", "artifact.deleted"}

	assert.True(t, isSubsequence(nil, got))
	assert.True(t, isSubsequence([]string{"artifact.created", "artifact.deleted"}, got))
	assert.False(t, isSubsequence([]string{"artifact.deleted", "artifact.created"}, got))
	assert.False(t, isSubsequence([]string{"edge.unlinked"}, got))
}

func TestMatchSubset(t *testing.T) {
	actual := map[string]any{
		"version": int64(2),
		"stale":   []any{"A", "B"},
		"depths":  map[string]any{"A": int64(1), "B": int64(2)},
		"deleted": false,
	}

	tests := []struct {
		name     string
		expected map[string]any
		want     bool
	}{
		{"empty", map[string]any{}, true},
		{"yaml int against int64", map[string]any{"version": 2}, true},
		{"nested subset", map[string]any{"depths": map[string]any{"B": 2}}, true},
		{"exact slice", map[string]any{"stale": []any{"A", "B"}}, true},
		{"slice prefix", map[string]any{"stale": []any{"A"}}, false},
		{"slice order", map[string]any{"stale": []any{"B", "A"}}, false},
		{"wrong value", map[string]any{"deleted": true}, false},
		{"missing key", map[string]any{"path": []any{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubset(tt.expected, actual))
		})
	}
}

func TestAssertionError(t *testing.T) {
	err := &AssertionError{Type: AssertEdgeCount, Expected: "2 live edges", Actual: "1"}
	assert.Equal(t, "assertion failed: edge_count: expected 2 live edges, actual 1", err.Error())
}
