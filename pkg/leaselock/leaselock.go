// Package leaselock serializes batch runs across processes with expiring
// Postgres leases, renewed in the background while the holder works.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Locker runs fn while holding the lease named key. It returns ErrBusy when
// the lease is held elsewhere and opts.Wait is false.
type Locker interface {
	WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error
}

type Options struct {
	// TTL bounds how long a crashed holder blocks others.
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out leases stored in the batch_locks table.
type Client struct {
	db dbConn

	renewAttempts int
	renewTimeout  time.Duration
}

func New(pool *pgxpool.Pool) *Client {
	return newClient(pool)
}

func newClient(db dbConn) *Client {
	return &Client{db: db, renewAttempts: 3, renewTimeout: 15 * time.Second}
}

// WithLease runs fn under the lease. fn's context is cancelled if the lease
// cannot be renewed, in which case the returned error wraps ErrLost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	l, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	err = fn(l.ctx)
	lost := errors.Is(context.Cause(l.ctx), ErrLost)
	if relErr := l.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil && !lost {
		err = fmt.Errorf("failed to release lease %s: %w", key, relErr)
	}
	if lost {
		return errors.Join(err, ErrLost)
	}
	return err
}

// Acquire takes the lease or, with opts.Wait, polls until it is free.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	l := &Lease{Key: key, Token: opts.TokenPrefix + id, ttl: opts.TTL, client: c}

	for {
		ok, err := c.exchange(ctx, tryAcquireSQL, l)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	l.ctx, l.cancel = context.WithCancelCause(ctx)
	l.stop = make(chan struct{})
	go l.keepAlive(opts.RenewEvery)
	return l, nil
}

// exchange runs an acquire or renew statement and reports whether the row
// for l is now held by l.
func (c *Client) exchange(ctx context.Context, sql string, l *Lease) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, sql, l.Key, l.Token, l.ttl.Milliseconds()).Scan(&got)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	return got == l.Key, nil
}

// Lease is a held lock. Release it exactly once the work is done.
type Lease struct {
	Key   string
	Token string

	ttl    time.Duration
	client *Client
	ctx    context.Context
	cancel context.CancelCauseFunc

	once sync.Once
	stop chan struct{}
}

// Context is cancelled when the lease is released or lost.
func (l *Lease) Context() context.Context {
	return l.ctx
}

func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-l.ctx.Done():
			return
		case <-t.C:
		}
		if err := l.renew(); err != nil {
			l.cancel(err)
			return
		}
	}
}

// renew retries transient failures. A missing row means another holder
// took over after expiry.
func (l *Lease) renew() error {
	var err error
	for attempt := range l.client.renewAttempts {
		if attempt > 0 {
			if serr := sleepWithJitter(l.ctx, 200*time.Millisecond, 0); serr != nil {
				return serr
			}
		}
		ctx, cancel := context.WithTimeout(l.ctx, l.client.renewTimeout)
		var ok bool
		ok, err = l.client.exchange(ctx, renewSQL, l)
		cancel()
		if err == nil {
			if !ok {
				return ErrLost
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrLost, err)
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += rand.N(jitter + 1)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO batch_locks AS b (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3::bigint / 1000.0))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by = EXCLUDED.locked_by, expires_at = EXCLUDED.expires_at
WHERE b.expires_at < now() OR b.locked_by = EXCLUDED.locked_by
RETURNING lock_key`

const renewSQL = `
UPDATE batch_locks
SET expires_at = now() + make_interval(secs => $3::bigint / 1000.0)
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key`

const releaseSQL = `DELETE FROM batch_locks WHERE lock_key = $1 AND locked_by = $2`
