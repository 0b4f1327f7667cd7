// internal/messaging/presence.go

package messaging

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// PresenceStore counts live connections per user. A user is online while the
// count is positive.
type PresenceStore interface {
	// Connect records a connection and reports whether it is the user's first.
	Connect(ctx context.Context, userID string) (bool, error)
	// Disconnect drops a connection and reports whether it was the user's last.
	Disconnect(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

type memoryPresence struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryPresence() PresenceStore {
	return &memoryPresence{counts: make(map[string]int)}
}

func (p *memoryPresence) Connect(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.counts[userID] == 1, nil
}

func (p *memoryPresence) Disconnect(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.counts[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(p.counts, userID)
		return true, nil
	}
	p.counts[userID] = n - 1
	return false, nil
}

func (p *memoryPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0, nil
}

func (p *memoryPresence) OnlineUsers(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.counts))
	for id := range p.counts {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

const defaultPresenceTTL = 30 * time.Second

// RedisPresence keeps connection counts in one redis hash per gateway
// instance. Each hash carries a TTL that Run refreshes, so counts held by a
// crashed instance expire instead of pinning users online. Online state is
// the sum across instances whose heartbeat is within the TTL.
type RedisPresence struct {
	client   *redis.Client
	prefix   string
	instance string
	ttl      time.Duration
	now      func() time.Time
}

// NewRedisPresence registers a fresh instance id under prefix.
func NewRedisPresence(client *redis.Client, prefix string, ttl time.Duration) *RedisPresence {
	if prefix == "" {
		prefix = "chat:presence"
	}
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisPresence{
		client:   client,
		prefix:   prefix,
		instance: uuid.NewString(),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (p *RedisPresence) instancesKey() string { return p.prefix + ":instances" }

func (p *RedisPresence) countsKey(instance string) string {
	return p.prefix + ":" + instance
}

// Heartbeat marks this instance alive and prunes instances that stopped
// beating.
func (p *RedisPresence) Heartbeat(ctx context.Context) error {
	now := p.now()
	stale := strconv.FormatInt(now.Add(-p.ttl).UnixMilli(), 10)

	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, p.instancesKey(), &redis.Z{Score: float64(now.UnixMilli()), Member: p.instance})
	pipe.Expire(ctx, p.countsKey(p.instance), p.ttl)
	pipe.ZRemRangeByScore(ctx, p.instancesKey(), "-inf", "("+stale)
	_, err := pipe.Exec(ctx)
	return err
}

// Run heartbeats until ctx is done, then removes this instance's counts.
func (p *RedisPresence) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	if err := p.Heartbeat(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			pipe := p.client.TxPipeline()
			pipe.ZRem(cleanup, p.instancesKey(), p.instance)
			pipe.Del(cleanup, p.countsKey(p.instance))
			_, err := pipe.Exec(cleanup)
			return err
		case <-ticker.C:
			if err := p.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) (bool, error) {
	if err := p.add(ctx, userID, 1); err != nil {
		return false, err
	}
	total, err := p.total(ctx, userID)
	if err != nil {
		return false, err
	}
	return total == 1, nil
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) (bool, error) {
	if err := p.add(ctx, userID, -1); err != nil {
		return false, err
	}
	// zero entries are left in place; deleting them would race a concurrent Connect
	total, err := p.total(ctx, userID)
	if err != nil {
		return false, err
	}
	return total <= 0, nil
}

func (p *RedisPresence) add(ctx context.Context, userID string, delta int64) error {
	now := p.now()
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, p.countsKey(p.instance), userID, delta)
	pipe.Expire(ctx, p.countsKey(p.instance), p.ttl)
	pipe.ZAdd(ctx, p.instancesKey(), &redis.Z{Score: float64(now.UnixMilli()), Member: p.instance})
	_, err := pipe.Exec(ctx)
	return err
}

// liveInstances lists instances whose last heartbeat is within the TTL.
func (p *RedisPresence) liveInstances(ctx context.Context) ([]string, error) {
	since := strconv.FormatInt(p.now().Add(-p.ttl).UnixMilli(), 10)
	return p.client.ZRangeByScore(ctx, p.instancesKey(), &redis.ZRangeBy{Min: since, Max: "+inf"}).Result()
}

func (p *RedisPresence) total(ctx context.Context, userID string) (int64, error) {
	instances, err := p.liveInstances(ctx)
	if err != nil {
		return 0, err
	}
	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(instances))
	for i, inst := range instances {
		cmds[i] = pipe.HGet(ctx, p.countsKey(inst), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, err
	}

	counts := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		if v, err := cmd.Result(); err == nil {
			counts = append(counts, v)
		}
	}
	return sumCounts(counts), nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	total, err := p.total(ctx, userID)
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

func (p *RedisPresence) OnlineUsers(ctx context.Context) ([]string, error) {
	instances, err := p.liveInstances(ctx)
	if err != nil {
		return nil, err
	}
	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(instances))
	for i, inst := range instances {
		cmds[i] = pipe.HGetAll(ctx, p.countsKey(inst))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	perUser := make(map[string][]string)
	for _, cmd := range cmds {
		for id, n := range cmd.Val() {
			perUser[id] = append(perUser[id], n)
		}
	}
	return onlineFromCounts(perUser), nil
}

// sumCounts adds per-instance counters, ignoring malformed values.
func sumCounts(counts []string) int64 {
	var total int64
	for _, c := range counts {
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

func onlineFromCounts(perUser map[string][]string) []string {
	users := make([]string, 0, len(perUser))
	for id, counts := range perUser {
		if sumCounts(counts) > 0 {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}
