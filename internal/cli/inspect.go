package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Root      string
	Direction string
	Depth     int
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Traverse the provenance graph from an artifact",
		Long: `Walk live edges breadth-first from a root artifact. Upstream follows
what the root was derived from; downstream follows what derives from it.

Example:
  provd graph --root 3f2a... --direction upstream --depth 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			f := opts.formatter(cmd)

			sg, err := a.graph.Traverse(commandContext(cmd), opts.Root, ir.Direction(opts.Direction), opts.Depth)
			if err != nil {
				return f.Fail("traversal failed", err)
			}
			return f.Emit(sg, func(w io.Writer) { printSubgraph(w, sg) })
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", "", "root artifact id")
	cmd.Flags().StringVar(&opts.Direction, "direction", string(ir.DirectionBoth), "upstream|downstream|both")
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "maximum depth (0 uses graph.max_depth)")
	_ = cmd.MarkFlagRequired("root")
	return cmd
}

func printSubgraph(w io.Writer, sg graph.Subgraph) {
	fmt.Fprintf(w, "%s (%s) %s, depth ≤ %d\n", sg.Root.ID, sg.Root.Type, sg.Direction, sg.MaxDepth)
	for _, n := range sg.Nodes {
		fmt.Fprintf(w, "%s%s (%s) v%d\n", strings.Repeat("  ", n.Depth), n.Artifact.ID, n.Artifact.Type, n.Artifact.Version)
	}
	fmt.Fprintf(w, "%d nodes, %d edges", len(sg.Nodes), len(sg.Edges))
	if sg.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

// OutdatedOptions holds flags for the outdated command.
type OutdatedOptions struct {
	*RootOptions
	Org      string
	Artifact string
}

// NewOutdatedCommand creates the outdated command.
func NewOutdatedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutdatedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "List artifacts whose direct upstream changed",
		Long: `Report artifacts with a direct upstream neighbour updated after the
edge linking them was created. Staleness is one hop; re-run after
refreshing an artifact to see the next layer.

Examples:
  provd outdated --org org-1
  provd outdated --artifact 3f2a...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			f := opts.formatter(cmd)
			ctx := commandContext(cmd)

			var reports []graph.OutdatedReport
			if opts.Artifact != "" {
				report, err := a.graph.IsOutdated(ctx, opts.Artifact)
				if err != nil {
					return f.Fail("staleness check failed", err)
				}
				reports = []graph.OutdatedReport{report}
			} else {
				reports, err = a.graph.Outdated(ctx, opts.Org)
				if err != nil {
					return f.Fail("staleness check failed", err)
				}
			}
			return f.Emit(reports, func(w io.Writer) { printOutdated(w, reports) })
		},
	}

	cmd.Flags().StringVar(&opts.Org, "org", "", "organisation to scan")
	cmd.Flags().StringVar(&opts.Artifact, "artifact", "", "single artifact to check")
	cmd.MarkFlagsMutuallyExclusive("org", "artifact")
	cmd.MarkFlagsOneRequired("org", "artifact")
	return cmd
}

func printOutdated(w io.Writer, reports []graph.OutdatedReport) {
	n := 0
	for _, r := range reports {
		if !r.Outdated {
			fmt.Fprintf(w, "%s is up to date\n", r.ArtifactID)
			continue
		}
		n++
		fmt.Fprintf(w, "%s is outdated:\n", r.ArtifactID)
		for _, s := range r.Stale {
			fmt.Fprintf(w, "  %s %s updated %s, linked %s\n",
				s.Relation, s.UpstreamID, s.UpstreamUpdatedAt.Format(timeLayout), s.LinkedAt.Format(timeLayout))
		}
	}
	if len(reports) == 0 {
		fmt.Fprintln(w, "No outdated artifacts.")
	}
}

const timeLayout = "2006-01-02 15:04:05Z07:00"

// CheckDAGOptions holds flags for the check-dag command.
type CheckDAGOptions struct {
	*RootOptions
	Org string
}

// NewCheckDAGCommand creates the check-dag command.
func NewCheckDAGCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckDAGOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check-dag",
		Short: "Re-verify that an organisation's graph is acyclic",
		Long: `Run a strongly-connected-components pass over every live edge of an
organisation. Linking never creates a cycle, so a finding means the
database was changed outside the service.

Exit codes:
  0 - The graph is acyclic
  1 - One or more cycles were found
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			f := opts.formatter(cmd)

			report, err := a.graph.CheckIntegrity(commandContext(cmd), opts.Org)
			if err != nil {
				return f.Fail("integrity check failed", err)
			}
			if err := f.Emit(report, func(w io.Writer) { printIntegrity(w, report) }); err != nil {
				return err
			}
			if !report.Acyclic {
				return NewExitError(ExitFailure, fmt.Sprintf("%d cycle(s) found", len(report.Cycles)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Org, "org", "", "organisation to check")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func printIntegrity(w io.Writer, r graph.IntegrityReport) {
	if r.Acyclic {
		fmt.Fprintf(w, "✓ %s: %d nodes, %d edges, acyclic\n", r.OrgID, r.Nodes, r.Edges)
		return
	}
	fmt.Fprintf(w, "✗ %s: %d cycle(s)\n", r.OrgID, len(r.Cycles))
	for _, c := range r.Cycles {
		fmt.Fprintf(w, "  %s\n", c.Message)
	}
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Artifact string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit entries of an artifact",
		Args:  cobra.NoArgs,
		Example: `  provd history --artifact 3f2a...
  provd history --artifact 3f2a... --format yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()
			f := opts.formatter(cmd)

			entries, err := a.artifacts.History(commandContext(cmd), opts.Artifact)
			if err != nil {
				return f.Fail("history failed", err)
			}
			return f.Emit(entries, func(w io.Writer) { printHistory(w, entries) })
		},
	}

	cmd.Flags().StringVar(&opts.Artifact, "artifact", "", "artifact id")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func printHistory(w io.Writer, entries []ir.AuditEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%4d  %s  %-20s %-12s %s\n",
			e.Seq, e.RecordedAt.Format(timeLayout), e.EventType, e.Actor, shortHash(e.CurrentHash))
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history.")
	}
}
