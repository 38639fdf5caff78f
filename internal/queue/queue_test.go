package queue

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	published []published
	declared  []string
	failures  int
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("channel closed")
	}
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp091.Queue{Name: name}, nil
}

type fakeAck struct {
	acked, nacked, requeued int
}

func (f *fakeAck) Ack(uint64, bool) error {
	f.acked++
	return nil
}

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	if requeue {
		f.requeued++
	}
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

type fakeRunner struct {
	calls []string
	limit int
	wait  bool
	err   error
}

func (f *fakeRunner) record(kind string, opts []engine.RunOption) {
	f.calls = append(f.calls, kind)
	f.wait = len(opts) > 0
}

func (f *fakeRunner) RecomputeCommunities(_ context.Context, opts ...engine.RunOption) (*common.RunReport, error) {
	f.record(engine.KindCommunities, opts)
	return &common.RunReport{Kind: engine.KindCommunities}, f.err
}

func (f *fakeRunner) ComputeBuckets(_ context.Context, opts ...engine.RunOption) (*common.BucketReport, error) {
	f.record(engine.KindRevenue, opts)
	return &common.BucketReport{Kind: engine.KindRevenue}, f.err
}

func (f *fakeRunner) Embed(_ context.Context, limit int, opts ...engine.RunOption) (*common.EmbedReport, error) {
	f.record(engine.KindEmbed, opts)
	f.limit = limit
	return &common.EmbedReport{Kind: engine.KindEmbed}, f.err
}

func TestSetupQueuesDeclaresRetryAndDLQ(t *testing.T) {
	ch := &fakeChannel{}
	if err := SetupQueues(ch, []string{CommunitiesQueue}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	want := []string{"communities_queue", "communities_queue_dlq", "communities_queue_retry"}
	if !reflect.DeepEqual(ch.declared, want) {
		t.Fatalf("expected %v, got %v", want, ch.declared)
	}
}

func TestEnqueue(t *testing.T) {
	ch := &fakeChannel{failures: 1}
	id, err := Enqueue(context.Background(), ch, JobMsg{Kind: engine.KindEmbed, Limit: 50})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if id == "" {
		t.Fatal("expected a correlation id")
	}
	if len(ch.published) != 1 || ch.published[0].key != EmbeddingQueue {
		t.Fatalf("expected one message on %s, got %+v", EmbeddingQueue, ch.published)
	}
	var msg JobMsg
	if err := json.Unmarshal(ch.published[0].msg.Body, &msg); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if msg.CorrelationID != id || msg.Limit != 50 || msg.RequestedAt.IsZero() {
		t.Fatalf("unexpected message %+v", msg)
	}
	if ch.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Fatal("expected a persistent message")
	}

	if _, err := Enqueue(context.Background(), ch, JobMsg{Kind: "reindex"}); !errors.Is(err, common.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestProcessMessage(t *testing.T) {
	body := func(m JobMsg) []byte {
		b, _ := json.Marshal(m)
		return b
	}
	tests := []struct {
		name      string
		queue     string
		body      []byte
		wantCall  string
		malformed bool
	}{
		{name: "communities", queue: CommunitiesQueue, body: body(JobMsg{Kind: engine.KindCommunities}), wantCall: engine.KindCommunities},
		{name: "revenue", queue: RevenueQueue, body: body(JobMsg{Kind: engine.KindRevenue, Wait: true}), wantCall: engine.KindRevenue},
		{name: "embed", queue: EmbeddingQueue, body: body(JobMsg{Kind: engine.KindEmbed, Limit: 7}), wantCall: engine.KindEmbed},
		{name: "invalid json", queue: RevenueQueue, body: []byte("{"), malformed: true},
		{name: "wrong queue", queue: RevenueQueue, body: body(JobMsg{Kind: engine.KindEmbed}), malformed: true},
		{name: "unknown kind", queue: RevenueQueue, body: body(JobMsg{Kind: "x"}), malformed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			_, err := ProcessMessage(context.Background(), r, tt.queue, tt.body)
			if tt.malformed {
				if !errors.Is(err, errMalformed) || len(r.calls) != 0 {
					t.Fatalf("expected malformed error without calls, got %v and %v", err, r.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if !reflect.DeepEqual(r.calls, []string{tt.wantCall}) {
				t.Fatalf("expected [%s], got %v", tt.wantCall, r.calls)
			}
		})
	}
}

func TestRunJobPassesOptions(t *testing.T) {
	r := &fakeRunner{}
	if _, err := RunJob(context.Background(), r, JobMsg{Kind: engine.KindEmbed, Limit: 9, Wait: true}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if r.limit != 9 || !r.wait {
		t.Fatalf("expected limit 9 with wait, got %d and %v", r.limit, r.wait)
	}
}

func TestHandleProcessingError(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		cause       error
		wantQueue   string
		wantRetries int32
	}{
		{name: "first failure", cause: common.ErrStoreUnavailable, wantQueue: "revenue_queue_retry", wantRetries: 1},
		{name: "int64 header", headers: amqp091.Table{"x-retries": int64(3)}, cause: common.ErrBatchInProgress, wantQueue: "revenue_queue_retry", wantRetries: 4},
		{name: "retries exhausted", headers: amqp091.Table{"x-retries": int32(10)}, cause: common.ErrStoreUnavailable, wantQueue: "revenue_queue_dlq"},
		{name: "permanent", cause: common.ErrInvalidConfiguration, wantQueue: "revenue_queue_dlq"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			d := amqp091.Delivery{Acknowledger: ack, Headers: tt.headers, Body: []byte(`{"kind":"revenue"}`)}
			HandleProcessingError(context.Background(), ch, d, RevenueQueue, tt.cause)

			if len(ch.published) != 1 || ch.published[0].key != tt.wantQueue {
				t.Fatalf("expected message on %s, got %+v", tt.wantQueue, ch.published)
			}
			if ack.acked != 1 {
				t.Fatalf("expected original acked, got %d acks", ack.acked)
			}
			if tt.wantRetries > 0 && ch.published[0].msg.Headers["x-retries"] != tt.wantRetries {
				t.Fatalf("expected x-retries %d, got %v", tt.wantRetries, ch.published[0].msg.Headers["x-retries"])
			}
		})
	}

	t.Run("publish failure requeues", func(t *testing.T) {
		ch := &fakeChannel{failures: 1}
		ack := &fakeAck{}
		HandleProcessingError(context.Background(), ch, amqp091.Delivery{Acknowledger: ack}, RevenueQueue, common.ErrStoreUnavailable)
		if ack.requeued != 1 || ack.acked != 0 {
			t.Fatalf("expected nack with requeue, got %+v", ack)
		}
	})
}
