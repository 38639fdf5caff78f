package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/OFFIS-RIT/peerscope/backend/internal/app"
	"github.com/OFFIS-RIT/peerscope/backend/internal/timing"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/spf13/cobra"
)

var (
	revenueForce   bool
	communityWait  bool
	embedLimit     int
	embedWaitLease bool
)

// NewNormalizeRevenueCmd creates the normalize-revenue command.
func NewNormalizeRevenueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize-revenue",
		Short: "Recompute the revenue percentile buckets",
		Long: `Assign every entity with a USD revenue a percentile bucket from 1 to 100
and publish the result.

The run fails when another process holds the revenue lease. With --force
it waits for the lease instead.

Examples:
  peerscope normalize-revenue
  peerscope normalize-revenue --force --format json`,
		Args: cobra.NoArgs,
		RunE: runNormalizeRevenue,
	}

	cmd.Flags().BoolVar(&revenueForce, "force", false, "Wait for a running revenue job instead of failing")

	return cmd
}

func runNormalizeRevenue(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []engine.RunOption
	if revenueForce {
		opts = append(opts, engine.WaitForLease())
	}
	report, err := a.Engine.ComputeBuckets(ctx, opts...)
	if err != nil {
		return fmt.Errorf("computing buckets: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\tASSIGNED\tCLEARED\tDURATION\n")
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", report.Version, report.Assigned, report.Cleared, timing.Clock(report.Duration))
	return w.Flush()
}

// NewRecomputeCommunitiesCmd creates the recompute-communities command.
func NewRecomputeCommunitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute-communities",
		Short: "Rebuild the similarity graph and detect communities",
		Long: `Build the similarity graph of every embedded entity, partition it with
the configured algorithm and publish the new community ids.

Examples:
  peerscope recompute-communities
  peerscope recompute-communities --wait`,
		Args: cobra.NoArgs,
		RunE: runRecomputeCommunities,
	}

	cmd.Flags().BoolVar(&communityWait, "wait", false, "Wait for a running community job instead of failing")

	return cmd
}

func runRecomputeCommunities(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []engine.RunOption
	if communityWait {
		opts = append(opts, engine.WaitForLease())
	}
	report, err := a.Engine.RecomputeCommunities(ctx, opts...)
	if err != nil {
		return fmt.Errorf("recomputing communities: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VERSION\tALGORITHM\tNODES\tEDGES\tCOMMUNITIES\tMODULARITY\tDURATION\n")
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.4f\t%s\n",
		report.Version, report.Algorithm, report.Nodes, report.Edges, report.Communities, report.Modularity, timing.Clock(report.Duration))
	return w.Flush()
}

// NewEmbedCmd creates the embed command.
func NewEmbedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Backfill missing embeddings",
		Long: `Generate embeddings for entities that have a description but no vector,
using the configured AI adapter. New vectors are indexed by the next
recompute-communities run.

Examples:
  peerscope embed --limit 500`,
		Args: cobra.NoArgs,
		RunE: runEmbed,
	}

	cmd.Flags().IntVar(&embedLimit, "limit", 0, "Maximum entities to embed, 0 for all")
	cmd.Flags().BoolVar(&embedWaitLease, "wait", false, "Wait for a running embed job instead of failing")

	return cmd
}

func runEmbed(cmd *cobra.Command, _ []string) error {
	if embedLimit < 0 {
		return fmt.Errorf("--limit must not be negative, got %d", embedLimit)
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, app.WithoutLoad())
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []engine.RunOption
	if embedWaitLease {
		opts = append(opts, engine.WaitForLease())
	}
	report, err := a.Engine.Embed(ctx, embedLimit, opts...)
	if err != nil {
		return fmt.Errorf("embedding entities: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "REQUESTED\tEMBEDDED\tSKIPPED\tDURATION\n")
	fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", report.Requested, report.Embedded, report.Skipped, timing.Clock(report.Duration))
	return w.Flush()
}
