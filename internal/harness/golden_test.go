package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_DerivedAnalysis(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/derived_analysis.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestCanonicalTrace_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/shared_draft.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := CanonicalTrace(s.Name, first)
	require.NoError(t, err)
	b, err := CanonicalTrace(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalTrace_OmitsEmptyFields(t *testing.T) {
	r := NewResult()
	r.addTrace(TraceEvent{Op: "advance_clock", Outcome: OutcomeOK, Result: map[string]any{}})

	data, err := CanonicalTrace("quiet", r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"quiet","trace":[{"op":"advance_clock","outcome":"ok","seq":1}]}`,
		string(data))
}
