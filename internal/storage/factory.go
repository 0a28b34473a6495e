package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/storage/implementations/file"
	"github.com/inferloop/ipdsynth/internal/storage/implementations/redis"
	"github.com/inferloop/ipdsynth/internal/storage/implementations/s3"
	"github.com/inferloop/ipdsynth/internal/storage/implementations/sqldb"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// CreateFunc builds a connected sheet backend from the storage settings.
type CreateFunc func(ctx context.Context, cfg config.StorageConfig) (interfaces.SheetStorage, error)

// Factory creates artifact stores by backend name.
type Factory struct {
	creators map[string]CreateFunc
	mu       sync.RWMutex
	logger   *logrus.Logger
	metrics  *metrics.PrometheusMetrics
}

// NewFactory creates a new storage factory
func NewFactory(logger *logrus.Logger, m *metrics.PrometheusMetrics) *Factory {
	if logger == nil {
		logger = logrus.New()
	}
	factory := &Factory{
		creators: make(map[string]CreateFunc),
		logger:   logger,
		metrics:  m,
	}
	factory.registerDefaults()
	return factory
}

// CreateStore creates the artifact store described by cfg.
func (f *Factory) CreateStore(ctx context.Context, cfg config.StorageConfig) (interfaces.ArtifactStore, error) {
	f.mu.RLock()
	createFunc, exists := f.creators[cfg.Backend]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewConfigurationError("storage backend %q is not supported", cfg.Backend)
	}

	backend, err := createFunc(ctx, cfg)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to create %s storage", cfg.Backend))
	}

	f.logger.WithField("storage_type", backend.Backend()).Info("Created storage instance")
	return NewStore(backend, f.logger, f.metrics), nil
}

// RegisterStorage registers a new storage type
func (f *Factory) RegisterStorage(backend string, createFunc CreateFunc) error {
	if backend == "" {
		return errors.NewConfigurationError("storage type cannot be empty")
	}
	if createFunc == nil {
		return errors.NewConfigurationError("storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[backend] = createFunc
	return nil
}

// GetSupportedTypes returns all supported storage types
func (f *Factory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.creators))
	for backend := range f.creators {
		types = append(types, backend)
	}
	sort.Strings(types)
	return types
}

func (f *Factory) registerDefaults() {
	f.creators[constants.StorageBackendFile] = func(ctx context.Context, cfg config.StorageConfig) (interfaces.SheetStorage, error) {
		return file.NewFileStorage(&file.FileStorageConfig{
			BasePath:   cfg.Dir,
			CreateDirs: true,
		}, f.logger)
	}

	f.creators[constants.StorageBackendSQL] = func(ctx context.Context, cfg config.StorageConfig) (interfaces.SheetStorage, error) {
		store, err := sqldb.NewSQLStorage(&sqldb.SQLConfig{
			Driver:      cfg.Driver,
			DSN:         cfg.DSN,
			TablePrefix: cfg.Prefix,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	f.creators[constants.StorageBackendS3] = func(ctx context.Context, cfg config.StorageConfig) (interfaces.SheetStorage, error) {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		store, err := s3.NewS3Storage(&s3.S3Config{
			Region:         region,
			Bucket:         cfg.Bucket,
			Prefix:         cfg.Prefix,
			Endpoint:       cfg.Endpoint,
			ForcePathStyle: cfg.Endpoint != "",
			MaxRetries:     3,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	f.creators[constants.StorageBackendRedis] = func(ctx context.Context, cfg config.StorageConfig) (interfaces.SheetStorage, error) {
		store, err := redis.NewRedisStorage(&redis.RedisConfig{
			Addr:       cfg.Addr,
			Password:   cfg.Password,
			DB:         cfg.DB,
			TTL:        cfg.TTL,
			KeyPrefix:  cfg.Prefix,
			MaxRetries: 3,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
}
