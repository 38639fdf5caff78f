package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	CommunitiesQueue = "communities_queue"
	RevenueQueue     = "revenue_queue"
	EmbeddingQueue   = "embedding_queue"
)

var publishBackoff = util.Backoff{Attempts: 3, Base: 100 * time.Millisecond}

var queueByKind = map[string]string{
	engine.KindCommunities: CommunitiesQueue,
	engine.KindRevenue:     RevenueQueue,
	engine.KindEmbed:       EmbeddingQueue,
}

// Queues lists every job queue the worker consumes.
var Queues = []string{CommunitiesQueue, RevenueQueue, EmbeddingQueue}

// JobMsg asks a worker to run one batch job.
type JobMsg struct {
	Kind          string    `json:"kind"`
	CorrelationID string    `json:"correlation_id"`
	Limit         int       `json:"limit,omitempty"`
	Wait          bool      `json:"wait,omitempty"`
	RequestedBy   int32     `json:"requested_by,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// QueueFor returns the queue that carries jobs of kind.
func QueueFor(kind string) (string, error) {
	name, ok := queueByKind[kind]
	if !ok {
		return "", common.InvalidConfig("unknown job kind %q", kind)
	}
	return name, nil
}

// Enqueue publishes msg to the queue of its kind and returns the
// correlation id.
func Enqueue(ctx context.Context, ch publisher, msg JobMsg) (string, error) {
	queueName, err := QueueFor(msg.Kind)
	if err != nil {
		return "", err
	}
	if msg.CorrelationID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("failed to generate correlation id: %w", err)
		}
		msg.CorrelationID = id
	}
	if msg.RequestedAt.IsZero() {
		msg.RequestedAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	err = util.RetryErr(ctx, publishBackoff, func(ctx context.Context) error {
		return PublishFIFO(ctx, ch, queueName, body)
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish %s job: %w", msg.Kind, err)
	}
	return msg.CorrelationID, nil
}

// Runner executes batch jobs. *engine.Engine implements it.
type Runner interface {
	RecomputeCommunities(ctx context.Context, opts ...engine.RunOption) (*common.RunReport, error)
	ComputeBuckets(ctx context.Context, opts ...engine.RunOption) (*common.BucketReport, error)
	Embed(ctx context.Context, limit int, opts ...engine.RunOption) (*common.EmbedReport, error)
}

// RunJob runs msg on r and returns the run report.
func RunJob(ctx context.Context, r Runner, msg JobMsg) (any, error) {
	var opts []engine.RunOption
	if msg.Wait {
		opts = append(opts, engine.WaitForLease())
	}
	switch msg.Kind {
	case engine.KindCommunities:
		return r.RecomputeCommunities(ctx, opts...)
	case engine.KindRevenue:
		return r.ComputeBuckets(ctx, opts...)
	case engine.KindEmbed:
		return r.Embed(ctx, msg.Limit, opts...)
	default:
		return nil, common.InvalidConfig("unknown job kind %q", msg.Kind)
	}
}
