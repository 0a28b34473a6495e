package redis

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// memoryClient implements Client over a map.
type memoryClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	pingErr error
	closed  bool
}

func newMemoryClient() *memoryClient {
	return &memoryClient{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *memoryClient) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (c *memoryClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value.(string)
	c.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (c *memoryClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", c.pingErr)
}

func (c *memoryClient) Close() error {
	c.closed = true
	return nil
}

func TestNewRedisStorageInvalidConfig(t *testing.T) {
	_, err := NewRedisStorage(nil, logrus.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)

	_, err = NewRedisStorage(&RedisConfig{}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis address is required")
}

func TestRedisStorageGenerateKey(t *testing.T) {
	storage, err := NewRedisStorage(&RedisConfig{Addr: "localhost:6379", KeyPrefix: "study7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "study7:ipdsynth:strata_counts", storage.generateKey("strata_counts"))

	storage, err = NewRedisStorage(&RedisConfig{Addr: "localhost:6379"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ipdsynth:strata_counts", storage.generateKey("strata_counts"))
}

func TestRedisStorageRoundTrip(t *testing.T) {
	client := newMemoryClient()
	storage, err := NewRedisStorageWithClient(&RedisConfig{Addr: "localhost:6379", TTL: time.Hour}, client, logrus.New())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.ReadSheet(ctx, "strata_counts")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	sheet := &interfaces.Sheet{
		Name:   "strata_counts",
		Header: []string{"stratum_id", "n"},
		Rows:   [][]string{{"1", "42"}, {"2", "≤10"}},
	}
	require.NoError(t, storage.WriteSheet(ctx, sheet))
	assert.Equal(t, time.Hour, client.ttls["ipdsynth:strata_counts"])

	got, err := storage.ReadSheet(ctx, "strata_counts")
	require.NoError(t, err)
	assert.Equal(t, sheet, got)

	require.NoError(t, storage.Ping(ctx))
	client.pingErr = stderrors.New("connection refused")
	assert.Error(t, storage.Ping(ctx))

	require.NoError(t, storage.Close())
	assert.True(t, client.closed)
	assert.Error(t, storage.WriteSheet(ctx, sheet))
	_, err = storage.ReadSheet(ctx, "strata_counts")
	assert.Error(t, err)
}
