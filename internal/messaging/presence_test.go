package messaging

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumCounts(t *testing.T) {
	assert.Equal(t, int64(3), sumCounts([]string{"1", "2"}))
	assert.Equal(t, int64(0), sumCounts([]string{"1", "-1"}))
	assert.Equal(t, int64(2), sumCounts([]string{"2", "junk", ""}))
	assert.Equal(t, int64(0), sumCounts(nil))
}

func TestOnlineFromCounts(t *testing.T) {
	users := onlineFromCounts(map[string][]string{
		"zoe":  {"1"},
		"ada":  {"0", "2"},
		"bob":  {"0"},
		"carl": {"1", "-1"},
	})
	assert.Equal(t, []string{"ada", "zoe"}, users)
}

// newRedisTestClient connects to CHAT_TEST_REDIS_URL or skips.
func newRedisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("CHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHAT_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisPresence_CountsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	client := newRedisTestClient(t)
	prefix := "test:presence:" + uuid.NewString()

	a := NewRedisPresence(client, prefix, time.Minute)
	b := NewRedisPresence(client, prefix, time.Minute)
	t.Cleanup(func() {
		client.Del(ctx, a.countsKey(a.instance), b.countsKey(b.instance), a.instancesKey())
	})

	first, err := a.Connect(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = b.Connect(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, first)

	last, err := a.Disconnect(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, last)

	users, err := a.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, users)

	last, err = b.Disconnect(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, last)

	online, err := a.IsOnline(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRedisPresence_CrashedInstanceExpires(t *testing.T) {
	ctx := context.Background()
	client := newRedisTestClient(t)
	prefix := "test:presence:" + uuid.NewString()
	ttl := time.Minute
	start := time.Now()

	crashed := NewRedisPresence(client, prefix, ttl)
	crashed.now = func() time.Time { return start }
	survivor := NewRedisPresence(client, prefix, ttl)
	t.Cleanup(func() {
		client.Del(ctx, crashed.countsKey(crashed.instance), survivor.countsKey(survivor.instance), survivor.instancesKey())
	})

	_, err := crashed.Connect(ctx, "ada")
	require.NoError(t, err)

	online, err := survivor.IsOnline(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, online)

	// The crashed instance never beats again; two TTLs later only the
	// survivor's view counts.
	survivor.now = func() time.Time { return start.Add(2 * ttl) }
	require.NoError(t, survivor.Heartbeat(ctx))

	online, err = survivor.IsOnline(ctx, "ada")
	require.NoError(t, err)
	assert.False(t, online)

	users, err := survivor.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	first, err := survivor.Connect(ctx, "ada")
	require.NoError(t, err)
	assert.True(t, first)

	members, err := client.ZRange(ctx, survivor.instancesKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{survivor.instance}, members)
}
