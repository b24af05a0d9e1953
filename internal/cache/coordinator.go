// Package cache coordinates memoized computations and single-flight job claims
// across processes that share a Backend.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	refreshSuffix = ":refresh"
	jobPrefix     = "job:"

	// DefaultJobLock bounds how long a crashed job can block its successors.
	DefaultJobLock = 120 * time.Minute
)

// Coordinator wraps a Backend with memoized fetches and job gating.
type Coordinator struct {
	backend Backend
	now     func() time.Time
	jobTTL  time.Duration
	group   singleflight.Group
	log     *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used for logical expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithJobLock sets the sentinel lifetime used by ActiveJobID.
func WithJobLock(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.jobTTL = d
		}
	}
}

// New creates a Coordinator over b.
func New(b Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: b,
		now:     time.Now,
		jobTTL:  DefaultJobLock,
		log:     zap.L().With(zap.String("component", "cache")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchOptions controls a single Fetch.
type FetchOptions struct {
	// TTL is the logical lifetime of a computed value. Ignored when ExpiresAt is set.
	TTL time.Duration
	// ExpiresAt pins the logical expiry to an instant.
	ExpiresAt time.Time
	// Force recomputes regardless of what is stored.
	Force bool
	// RaceConditionTTL keeps an expired value readable while one caller refreshes it.
	RaceConditionTTL time.Duration
}

type envelope struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// Fetch returns the cached value for key, computing and storing it when absent,
// expired, or forced. While an expired value is being refreshed by one caller,
// concurrent callers receive the stale value.
func Fetch[T any](ctx context.Context, c *Coordinator, key string, opts FetchOptions, compute func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.fetch(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, eris.Wrapf(err, "cache: decode %s", key)
	}
	return out, nil
}

func (c *Coordinator) fetch(ctx context.Context, key string, opts FetchOptions, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if !opts.Force {
		env, ok, err := c.read(ctx, key)
		if err != nil {
			c.log.Warn("cache read failed, recomputing", zap.String("key", key), zap.Error(err))
		}
		if ok {
			if c.now().Before(env.ExpiresAt) {
				return env.Value, nil
			}
			if opts.RaceConditionTTL > 0 {
				claimed, err := c.backend.SetNX(ctx, key+refreshSuffix, []byte("1"), opts.RaceConditionTTL)
				if err != nil {
					return nil, eris.Wrapf(err, "cache: claim refresh %s", key)
				}
				if !claimed {
					return env.Value, nil
				}
				defer func() {
					if err := c.backend.Delete(ctx, key+refreshSuffix); err != nil {
						c.log.Warn("cache: release refresh lock", zap.String("key", key), zap.Error(err))
					}
				}()
			}
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		val, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.write(ctx, key, val, opts); err != nil {
			c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Coordinator) read(ctx context.Context, key string) (envelope, bool, error) {
	b, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, false, eris.Wrapf(err, "cache: decode envelope %s", key)
	}
	return env, true, nil
}

func (c *Coordinator) write(ctx context.Context, key string, val []byte, opts FetchOptions) error {
	now := c.now()
	expires := opts.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(opts.TTL)
	}
	ttl := expires.Sub(now)
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(envelope{ExpiresAt: expires, Value: val})
	if err != nil {
		return eris.Wrapf(err, "cache: encode envelope %s", key)
	}
	return c.backend.Set(ctx, key, b, ttl+opts.RaceConditionTTL)
}

// Delete removes a memoized value.
func (c *Coordinator) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}

// ActiveJobID claims jobKey for jobID if nobody holds it, then reports whether
// jobID is the holder. Exactly one of several concurrent claimants sees true.
func (c *Coordinator) ActiveJobID(ctx context.Context, jobKey, jobID string) (bool, error) {
	key := jobPrefix + jobKey
	if _, err := c.backend.SetNX(ctx, key, []byte(jobID), c.jobTTL); err != nil {
		return false, eris.Wrapf(err, "cache: claim job %s", jobKey)
	}
	held, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, eris.Wrapf(err, "cache: read job %s", jobKey)
	}
	return ok && string(held) == jobID, nil
}

// ResetJobID releases the claim on jobKey.
func (c *Coordinator) ResetJobID(ctx context.Context, jobKey string) error {
	if err := c.backend.Delete(ctx, jobPrefix+jobKey); err != nil {
		return eris.Wrapf(err, "cache: reset job %s", jobKey)
	}
	return nil
}

// CacheExpired reports true the first time it is called after a daily boundary
// (or when forced) and then remembers the answer as false until nextExpiry.
func (c *Coordinator) CacheExpired(ctx context.Context, key string, force bool, nextExpiry time.Time) (bool, error) {
	expired, err := Fetch(ctx, c, key, FetchOptions{TTL: 5 * time.Minute, Force: force},
		func(context.Context) (bool, error) { return true, nil })
	if err != nil {
		return false, err
	}
	if !expired {
		return false, nil
	}
	if _, err := Fetch(ctx, c, key, FetchOptions{ExpiresAt: nextExpiry, Force: true},
		func(context.Context) (bool, error) { return false, nil }); err != nil {
		return true, err
	}
	return true, nil
}
