package redis

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// RedisConfig holds configuration for Redis storage
type RedisConfig struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	MaxRetries   int           `json:"max_retries"`
	// TTL expires every sheet after the given time; zero keeps them.
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix"`
}

// Client is the subset of redis.UniversalClient the storage uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisStorage keeps every sheet as one CSV string value.
type RedisStorage struct {
	config *RedisConfig
	client Client
	logger *logrus.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(config *RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("Redis config cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.NewConfigurationError("Redis address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStorage{config: config, logger: logger}, nil
}

// NewRedisStorageWithClient builds a storage around an existing client.
func NewRedisStorageWithClient(config *RedisConfig, client Client, logger *logrus.Logger) (*RedisStorage, error) {
	s, err := NewRedisStorage(config, logger)
	if err != nil {
		return nil, err
	}
	s.client = client
	return s, nil
}

// Connect establishes connection to Redis
func (r *RedisStorage) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.config.Addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
		MaxRetries:   r.config.MaxRetries,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to connect to Redis")
	}
	r.client = client

	r.logger.WithFields(logrus.Fields{
		"addr": r.config.Addr,
		"db":   r.config.DB,
	}).Info("Connected to Redis")
	return nil
}

// Backend implements interfaces.SheetStorage
func (r *RedisStorage) Backend() string {
	return constants.StorageBackendRedis
}

// WriteSheet implements interfaces.SheetStorage
func (r *RedisStorage) WriteSheet(ctx context.Context, sheet *interfaces.Sheet) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.client == nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "Redis not connected")
	}

	var buf bytes.Buffer
	if err := interfaces.WriteCSV(&buf, sheet); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to serialize sheet "+sheet.Name)
	}
	key := r.generateKey(sheet.Name)
	if err := r.client.Set(ctx, key, buf.String(), r.config.TTL).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write "+key)
	}

	r.logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": buf.Len(),
	}).Debug("Wrote sheet")
	return nil
}

// ReadSheet implements interfaces.SheetStorage
func (r *RedisStorage) ReadSheet(ctx context.Context, name string) (*interfaces.Sheet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.client == nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "Redis not connected")
	}

	key := r.generateKey(name)
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, errors.NewStorageError(errors.CodeArtifactNotFound, fmt.Sprintf("Key '%s' not found", key))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read "+key)
	}

	sheet, err := interfaces.ReadCSV(bytes.NewBufferString(value), name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to parse "+key)
	}
	return sheet, nil
}

// Ping implements interfaces.Pinger
func (r *RedisStorage) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || r.client == nil {
		return errors.NewStorageError(errors.CodeReadFailed, "Redis not connected")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Redis ping failed")
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to close Redis connection")
	}
	r.logger.Info("Redis connection closed")
	return nil
}

func (r *RedisStorage) generateKey(name string) string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + constants.AppName + ":" + name
	}
	return constants.AppName + ":" + name
}
