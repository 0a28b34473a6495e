// Package storage persists summary bundles as a fixed set of tables on a pluggable
// backend: a directory of CSV files, a SQL database or an S3 bucket.
package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// Store implements interfaces.ArtifactStore on top of a sheet backend.
type Store struct {
	backend interfaces.SheetStorage
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

// NewStore wraps backend.
func NewStore(backend interfaces.SheetStorage, logger *logrus.Logger, m *metrics.PrometheusMetrics) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{backend: backend, logger: logger, metrics: m}
}

// SaveBundle writes every sheet of bundle.
func (s *Store) SaveBundle(ctx context.Context, bundle *models.Bundle) error {
	if bundle == nil {
		return errors.NewInvalidInputError("no summary bundle")
	}
	start := time.Now()
	err := s.save(ctx, bundle)
	s.metrics.RecordStorageOperation(s.backend.Backend(), "save", err, time.Since(start))
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"backend": s.backend.Backend(),
		"run_id":  bundle.RunID,
		"strata":  len(bundle.Strata),
	}).Info("Saved summary bundle")
	return nil
}

func (s *Store) save(ctx context.Context, bundle *models.Bundle) error {
	sheets := EncodeBundle(bundle)
	if w, ok := s.backend.(interfaces.BundleWriter); ok {
		if err := w.WriteSheets(ctx, bundle.RunID, sheets); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				"failed to write bundle "+bundle.RunID)
		}
		return nil
	}
	for _, sheet := range sheets {
		if err := s.backend.WriteSheet(ctx, sheet); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				"failed to write sheet "+sheet.Name)
		}
	}
	return nil
}

// LoadBundle reads the sheets back. The manifest and the correlation summary are
// optional; every other sheet must exist.
func (s *Store) LoadBundle(ctx context.Context) (*models.Bundle, error) {
	start := time.Now()
	bundle, err := s.load(ctx)
	s.metrics.RecordStorageOperation(s.backend.Backend(), "load", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"backend": s.backend.Backend(),
		"run_id":  bundle.RunID,
		"strata":  len(bundle.Strata),
	}).Info("Loaded summary bundle")
	return bundle, nil
}

func (s *Store) load(ctx context.Context) (*models.Bundle, error) {
	sheets := make(map[string]*interfaces.Sheet, len(SheetNames))
	for _, name := range SheetNames {
		sheet, err := s.backend.ReadSheet(ctx, name)
		if err != nil {
			optional := name == SheetManifest || name == SheetCorrSummary
			if optional && errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		sheets[name] = sheet
	}
	return DecodeBundle(sheets)
}

// Ping checks the backend when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interfaces.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
