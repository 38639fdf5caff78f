package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/spf13/cobra"
)

var (
	similarThreshold  float64
	similarMax        int
	similarCommunity  bool
	similarIndustry   string
	anomalyFormType   string
	anomalyYear       int
	anomalyPeriod     string
	anomalyScope      string
	anomalyPeers      []string
	anomalyNPeers     int
	anomalyMinPeers   int
	anomalyIntervals  bool
	anomalyFilterComm bool
)

// NewSimilarCmd creates the similar command.
func NewSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <id>",
		Short: "List the entities most similar to an entity",
		Long: `Rank every indexed entity by its similarity to <id> and print the best
matches at or above the threshold.

Examples:
  peerscope similar 0000320193
  peerscope similar 0000320193 --threshold 0.8 --max-results 20
  peerscope similar 0000320193 --filter-community --format json`,
		Args: cobra.ExactArgs(1),
		RunE: runSimilar,
	}

	cmd.Flags().Float64Var(&similarThreshold, "threshold", engine.DefaultSimilarityThreshold, "Minimum similarity score in [0, 1]")
	cmd.Flags().IntVar(&similarMax, "max-results", engine.DefaultSimilarPeers, "Maximum results to return")
	cmd.Flags().BoolVar(&similarCommunity, "filter-community", false, "Only consider members of the same community")
	cmd.Flags().StringVar(&similarIndustry, "industry", "", "Only consider entities with this industry code")

	return cmd
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.Engine.FindSimilar(ctx, engine.SimilarQuery{
		TargetID:        args[0],
		Threshold:       similarThreshold,
		MaxResults:      similarMax,
		FilterCommunity: similarCommunity,
		Industry:        similarIndustry,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), page)
	}
	if len(page.Results) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No entities above %.2f for %s\n", similarThreshold, args[0])
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "SCORE\tCANDIDATE\tSAME COMMUNITY\n")
	for _, r := range page.Results {
		fmt.Fprintf(w, "%.4f\t%s\t%t\n", r.Score, r.CandidateID, r.SameCommunity)
	}
	return w.Flush()
}

// NewAnomaliesCmd creates the anomalies command.
func NewAnomaliesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies <id>",
		Short: "Compare the reporting tags of an entity with its peers",
		Long: `Flag the tags most peers report that <id> omits, and the tags <id>
reports that almost no peer does.

Peers are the members of the entity's community by default, the most
similar entities with --scope similar, or an explicit list with
--scope segment --peers a,b,c.

Examples:
  peerscope anomalies 0000320193 --form-type 10-K
  peerscope anomalies 0000320193 --form-type 10-K --fiscal-year 2024 --scope similar
  peerscope anomalies 0000320193 --form-type 10-Q --scope segment --peers 0000789019,0001018724`,
		Args: cobra.ExactArgs(1),
		RunE: runAnomalies,
	}

	cmd.Flags().StringVar(&anomalyFormType, "form-type", "", "Filing form type, e.g. 10-K (required)")
	cmd.Flags().IntVar(&anomalyYear, "fiscal-year", 0, "Fiscal year, 0 for each entity's latest")
	cmd.Flags().StringVar(&anomalyPeriod, "filing-period", "", "Filing period, e.g. FY or Q2")
	cmd.Flags().StringVar(&anomalyScope, "scope", string(engine.ScopeCommunity), "Peer scope: community, similar or segment")
	cmd.Flags().StringSliceVar(&anomalyPeers, "peers", nil, "Peer ids for --scope segment")
	cmd.Flags().IntVar(&anomalyNPeers, "n-peers", engine.DefaultSimilarPeers, "Peers to take with --scope similar")
	cmd.Flags().IntVar(&anomalyMinPeers, "min-peers", 0, "Minimum peers, 0 for the configured default")
	cmd.Flags().BoolVar(&anomalyIntervals, "confidence-intervals", false, "Use Wilson confidence intervals")
	cmd.Flags().BoolVar(&anomalyFilterComm, "filter-community", false, "Restrict --scope similar to the entity's community")
	_ = cmd.MarkFlagRequired("form-type")

	return cmd
}

func runAnomalies(cmd *cobra.Command, args []string) error {
	switch engine.PeerScope(anomalyScope) {
	case engine.ScopeCommunity, engine.ScopeSimilar, engine.ScopeSegment:
	default:
		return fmt.Errorf("unknown scope %q, expected community, similar or segment", anomalyScope)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := a.Engine.Config().Anomaly
	if anomalyMinPeers > 0 {
		opts.MinPeers = anomalyMinPeers
	}
	if anomalyIntervals {
		opts.UseConfidenceIntervals = true
	}
	q := engine.AnomalyQuery{
		TargetID:        args[0],
		FormType:        anomalyFormType,
		FilingPeriod:    anomalyPeriod,
		Scope:           engine.PeerScope(anomalyScope),
		Segment:         anomalyPeers,
		NPeers:          anomalyNPeers,
		FilterCommunity: anomalyFilterComm,
		Options:         &opts,
	}
	if anomalyYear > 0 {
		q.FiscalYear = common.Ptr(anomalyYear)
	}

	report, err := a.Engine.DetectAnomalies(ctx, q)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), report)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %d tags against %d peers (%s)\n",
		args[0], anomalyFormType, report.Summary.TargetTagCount, report.Summary.NPeers, strings.Join(report.Summary.PeerIDs, ", "))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KIND\tTAG\tPEER FREQUENCY\tSEVERITY\n")
	for _, f := range report.Missing {
		fmt.Fprintf(w, "missing\t%s\t%.2f\t%.2f\n", f.Tag, f.PeerFrequency, f.Severity)
	}
	for _, f := range report.Extra {
		fmt.Fprintf(w, "extra\t%s\t%.2f\t%.2f\n", f.Tag, f.PeerFrequency, f.Severity)
	}
	return w.Flush()
}
