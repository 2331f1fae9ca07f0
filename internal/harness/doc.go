// Package harness runs YAML scenarios against the real artifact store,
// graph engine, document engine and audit ledger.
//
// Every scenario gets a fresh SQLite database, a manual clock and
// sequential ids, so the trace it produces is byte-identical across runs
// and can be compared against a golden file.
//
// # Scenario Format
//
//	name: derived_analysis
//	description: "What this scenario validates"
//	org: org-1
//	steps:
//	  - op: create_artifact
//	    as: cohort
//	    args: { type: dataset, content: "rows" }
//	  - op: create_artifact
//	    as: model
//	    args: { type: analysis }
//	  - op: link
//	    as: e1
//	    args: { source: model, target: cohort, relation: derived_from }
//	  - op: link
//	    args: { source: cohort, target: model, relation: uses }
//	    expect:
//	      error: CYCLE
//	  - op: traverse
//	    args: { root: cohort, direction: downstream }
//	    expect:
//	      result: { nodes: [model] }
//	assertions:
//	  - type: audit_count
//	    count: 3
//	  - type: chain_valid
//
// Steps refer to artifacts, edges and rooms by the alias given in "as";
// results report aliases instead of generated ids.
//
// # Operations
//
// Artifacts: create_artifact, update_artifact, delete_artifact,
// get_artifact, history. Graph: link, unlink, traverse, outdated,
// check_dag. Documents: join, insert, delete_text, leave, text, compact,
// restart, presence. Ledger: verify, tamper. Environment: set_gate,
// advance_clock.
//
// # Assertions
//
//   - audit_count: number of entries in a scope
//   - audit_order: event types appear in this order in a scope
//   - chain_valid: the scope verifies
//   - document_text: the stored document text of a room
//   - artifact_state: subset match on an artifact's fields
//   - edge_count: number of live edges in the organisation
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON trace against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
