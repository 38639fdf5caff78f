package commands

import (
	"fmt"

	"github.com/OFFIS-RIT/peerscope/backend/internal/queue"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"

	"github.com/spf13/cobra"
)

var (
	enqueueLimit int
	enqueueWait  bool
)

// NewEnqueueCmd creates the enqueue command.
func NewEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <communities|revenue|embed>",
		Short: "Queue a batch job for the worker",
		Long: `Publish a batch job to RabbitMQ and print its correlation id. The worker
picks it up from the queue of its kind.

Examples:
  peerscope enqueue communities
  peerscope enqueue embed --limit 1000`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"communities", "revenue", "embed"},
		RunE:      runEnqueue,
	}

	cmd.Flags().IntVar(&enqueueLimit, "limit", 0, "Maximum entities for embed jobs, 0 for all")
	cmd.Flags().BoolVar(&enqueueWait, "wait", false, "Let the worker wait for a held lease instead of failing")

	return cmd
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	kind := args[0]
	if _, err := queue.QueueFor(kind); err != nil {
		return err
	}
	cfg, err := setup()
	if err != nil {
		return err
	}
	if !cfg.Queue.Enabled() {
		return common.InvalidConfig("enqueue needs RABBITMQ_HOST")
	}

	ctx := cmd.Context()
	conn, err := queue.Init(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		return err
	}

	id, err := queue.Enqueue(ctx, ch, queue.JobMsg{Kind: kind, Limit: enqueueLimit, Wait: enqueueWait})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{"kind": kind, "correlation_id": id})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s job %s\n", kind, id)
	return nil
}
