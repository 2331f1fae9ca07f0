package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func outcomes(r *Result) []string {
	out := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		out[i] = ev.Outcome
	}
	return out
}

func TestRun_DerivedAnalysis(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/derived_analysis.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t,
		[]string{"ok", "ok", "ok", "CYCLE", "ok", "ok", "ok", "ok", "ok"},
		outcomes(result))
	assert.Equal(t, []any{"A", "B", "A"}, result.Trace[3].Result["path"])
}

func TestRun_SharedDraft(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/shared_draft.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, int64(1), result.Trace[6].Result["closed_rooms"])
}

func TestRun_DetectsTamper(t *testing.T) {
	s := mustParse(t, `
name: tamper
steps:
  - op: create_artifact
    as: A
    args: {type: dataset}
  - op: update_artifact
    args: {ref: A, content: revised}
  - op: update_artifact
    args: {ref: A, content: final}
  - op: verify
    expect:
      result: {valid: true, entries: 3}
  - op: tamper
    args: {seq: 2, column: actor, value: mallory}
    expect:
      result: {rows: 1}
  - op: verify
    expect:
      error: TAMPER
      result: {valid: false, first_divergence: 2, divergent: [2, 3]}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "TAMPER", result.Trace[5].Outcome)
}

func TestRun_ChainAssertionFailsAfterTamper(t *testing.T) {
	s := mustParse(t, `
name: tamper_assert
steps:
  - op: create_artifact
    args: {type: dataset}
  - op: tamper
    args: {seq: 1, column: event_type, value: artifact.deleted}
assertions:
  - type: chain_valid
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "chain_valid")
}

func TestRun_GateDenied(t *testing.T) {
	s := mustParse(t, `
name: gated
restricted: true
steps:
  - op: set_gate
    args: {mode: BLOCK}
  - op: create_artifact
    args: {type: dataset}
    expect:
      error: GATE_DENIED
  - op: set_gate
    args: {mode: ALLOW}
  - op: create_artifact
    as: A
    args: {type: dataset}
assertions:
  - type: audit_count
    count: 1
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"ok", "GATE_DENIED", "ok", "ok"}, outcomes(result))
}

func TestRun_SelfLinkIsCycle(t *testing.T) {
	s := mustParse(t, `
name: self_link
steps:
  - op: create_artifact
    as: A
    args: {type: dataset}
  - op: link
    args: {source: A, target: A, relation: derived_from}
    expect:
      error: CYCLE
      result: {path: [A, A]}
  - op: check_dag
    expect:
      result: {acyclic: true, edges: 0}
assertions:
  - type: edge_count
    count: 0
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TraversalDepthLimit(t *testing.T) {
	s := mustParse(t, `
name: chain
steps:
  - op: create_artifact
    as: A
    args: {type: dataset}
  - op: create_artifact
    as: B
    args: {type: analysis}
  - op: create_artifact
    as: C
    args: {type: figure}
  - op: link
    args: {source: B, target: A, relation: derived_from}
  - op: link
    args: {source: C, target: B, relation: uses}
  - op: traverse
    args: {root: C, direction: upstream}
    expect:
      result: {nodes: [B, A], depths: {A: 2, B: 1}, edges: 2}
  - op: traverse
    args: {root: C, direction: upstream, depth: 1}
    expect:
      result: {nodes: [B], truncated: true}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := mustParse(t, `
name: wrong
steps:
  - op: create_artifact
    as: A
    args: {type: dataset}
    expect:
      result: {version: 7}
  - op: get_artifact
    args: {ref: ghost}
  - op: create_artifact
    args: {type: dataset}
    expect:
      error: CYCLE
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "result mismatch")
	assert.Contains(t, result.Errors[1], "unexpected error")
	assert.Contains(t, result.Errors[2], "expected error CYCLE, got success")
	assert.Equal(t, "NOT_FOUND", result.Trace[1].Outcome)
}

func TestRun_BrokenStepAborts(t *testing.T) {
	s := mustParse(t, `
name: broken
steps:
  - op: create_artifact
    args: {owner: alice}
`)
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing argument "type"`)
}

func TestRun_RejectedEditIsRolledBack(t *testing.T) {
	s := mustParse(t, `
name: rollback
restricted: true
steps:
  - op: create_artifact
    as: M
    args: {type: manuscript}
  - op: join
    args: {room: M}
  - op: insert
    args: {room: M, index: 0, text: ok}
  - op: set_gate
    args: {mode: BLOCK}
  - op: insert
    args: {room: M, index: 2, text: "!"}
    expect:
      error: GATE_DENIED
  - op: set_gate
    args: {mode: ALLOW}
  - op: insert
    args: {room: M, index: 2, text: "?"}
    expect:
      result: {text: ok?}
assertions:
  - type: document_text
    ref: M
    text: ok?
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
