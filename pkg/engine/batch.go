package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
)

// Batch kinds. Runs of the same kind are serialized; different kinds may
// run concurrently.
const (
	KindCommunities = "communities"
	KindRevenue     = "revenue"
	KindEmbed       = "embed"
)

// Kinds lists every batch kind.
var Kinds = []string{KindCommunities, KindRevenue, KindEmbed}

type runOptions struct {
	wait bool
}

type RunOption func(*runOptions)

// WaitForLease queues the run behind an active run of the same kind instead
// of rejecting it with common.ErrBatchInProgress.
func WaitForLease() RunOption {
	return func(o *runOptions) {
		o.wait = true
	}
}

// acquire takes the in-process slot of kind.
func (e *Engine) acquire(ctx context.Context, kind string, wait bool) (func(), error) {
	slot, ok := e.runs[kind]
	if !ok {
		return nil, common.InvalidConfig("unknown batch kind %q", kind)
	}
	select {
	case slot <- struct{}{}:
	default:
		if !wait {
			return nil, fmt.Errorf("%w: %s", common.ErrBatchInProgress, kind)
		}
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() { <-slot }, nil
}

// runBatch runs fn while holding the in-process slot and the lease of kind.
func runBatch[T any](ctx context.Context, e *Engine, kind string, opts []RunOption, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		out  T
		ro   runOptions
		zero T
	)
	for _, opt := range opts {
		opt(&ro)
	}

	start := time.Now()
	release, err := e.acquire(ctx, kind, ro.wait)
	if err != nil {
		e.metrics.observeRun(kind, start, err)
		return zero, err
	}
	defer release()

	err = e.locker.WithLease(ctx, "batch:"+kind, leaselock.Options{TTL: e.cfg.LockTTL, Wait: ro.wait}, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	if errors.Is(err, leaselock.ErrBusy) {
		err = fmt.Errorf("%w: %s", common.ErrBatchInProgress, kind)
	}
	e.metrics.observeRun(kind, start, err)
	if err != nil {
		logger.Error("[Engine][Batch] Run failed", "kind", kind, "err", err)
		return zero, err
	}
	return out, nil
}
