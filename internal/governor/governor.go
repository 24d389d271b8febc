// Package governor implements the per-host concurrency semaphore (C4),
// generalized from the teacher's per-job channel semaphore in its crawl
// worker into a process-global, per-host registry. When Redis is
// configured, host capacity is enforced cross-process: each held slot
// is a scored member of a per-host Redis sorted set, expired members
// are pruned before every admission check, and a process that finds
// the set already at capacity backs off and retries rather than
// admitting past the shared cap.
package governor

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"harvestd/internal/model"
)

const defaultCapacity = 5

// leaseRetryInterval is how long Acquire backs off before re-checking
// the distributed lease set when it finds a host at capacity.
const leaseRetryInterval = 200 * time.Millisecond

// Governor is a process-global registry of per-host counting semaphores.
type Governor struct {
	mu    sync.Mutex
	hosts map[string]chan struct{}
	cap   int

	redis    *redis.Client
	leaseTTL time.Duration
}

// Option configures a Governor.
type Option func(*Governor)

// WithCapacity overrides the default per-host concurrency of 5.
func WithCapacity(n int) Option {
	return func(g *Governor) { g.cap = n }
}

// WithRedis enforces the per-host capacity across processes through the
// given client. When nil (the default), the governor is authoritative only
// within this process.
func WithRedis(client *redis.Client) Option {
	return func(g *Governor) { g.redis = client }
}

// New constructs a Governor with the given options.
func New(opts ...Option) *Governor {
	g := &Governor{
		hosts:    make(map[string]chan struct{}),
		cap:      defaultCapacity,
		leaseTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Release is returned by Acquire and must be called exactly once to
// free the host slot.
type Release func()

// Acquire blocks until a slot for host is available, ctx is cancelled,
// or ctx's deadline passes, whichever comes first. On timeout it returns
// FETCH_TIMEOUT per spec §4.4. When Redis is configured, a slot is only
// granted once this host's distributed lease count is below capacity —
// a second process contending for the same host backs off here instead
// of admitting past the shared cap.
func (g *Governor) Acquire(ctx context.Context, host string) (Release, *model.APIError) {
	sem := g.semFor(host)

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, model.NewAPIError(model.ErrFetchTimeout, "timed out waiting for host slot: "+host)
		}

		var leaseMember string
		if g.redis != nil {
			member, ok := g.acquireLease(ctx, host)
			if !ok {
				<-sem
				select {
				case <-ctx.Done():
					return nil, model.NewAPIError(model.ErrFetchTimeout, "timed out waiting for host slot: "+host)
				case <-time.After(leaseRetryInterval):
				}
				continue
			}
			leaseMember = member
		}

		released := false
		var once sync.Mutex
		release := func() {
			once.Lock()
			defer once.Unlock()
			if released {
				return
			}
			released = true
			<-sem
			if g.redis != nil && leaseMember != "" {
				g.redis.ZRem(context.Background(), leaseSetKey(host), leaseMember)
			}
		}
		return release, nil
	}
}

func (g *Governor) semFor(host string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.hosts[host]
	if !ok {
		sem = make(chan struct{}, g.cap)
		g.hosts[host] = sem
	}
	return sem
}

// leaseSetKey is the Redis sorted set tracking live leases for host,
// scored by their expiry time.
func leaseSetKey(host string) string {
	return "harvestd:governor:" + host
}

// acquireLease prunes expired members from host's lease set, then
// admits a new member only if the live count is still under capacity.
// Returns the member id and true on admission; false means the host is
// at capacity across every process sharing this Redis instance and the
// caller should back off and retry.
func (g *Governor) acquireLease(ctx context.Context, host string) (string, bool) {
	key := leaseSetKey(host)
	now := time.Now()

	if err := g.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.UnixNano(), 10)).Err(); err != nil {
		// Redis unavailable: fail open onto the in-process semaphore alone.
		return "", true
	}

	count, err := g.redis.ZCard(ctx, key).Result()
	if err != nil {
		return "", true
	}
	if int(count) >= g.cap {
		return "", false
	}

	member := uuid.NewString()
	expiry := now.Add(g.leaseTTL)
	if err := g.redis.ZAdd(ctx, key, redis.Z{Score: float64(expiry.UnixNano()), Member: member}).Err(); err != nil {
		return "", true
	}
	return member, true
}
