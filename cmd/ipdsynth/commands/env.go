package commands

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/config"
	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/observability/metrics"
	"github.com/inferloop/ipdsynth/internal/storage"
	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigFile string
	Verbose    bool
}

// environment is what a command needs after configuration is loaded.
type environment struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.PrometheusMetrics
}

func loadEnvironment(global *GlobalOptions) (*environment, error) {
	cfg, err := config.Load(global.ConfigFile)
	if err != nil {
		return nil, err
	}
	if global.Verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	logger.SetOutput(os.Stderr)

	m, err := metrics.NewPrometheusMetrics(constants.AppName)
	if err != nil {
		return nil, err
	}
	return &environment{config: cfg, logger: logger, metrics: m}, nil
}

func (e *environment) openStore(ctx context.Context) (interfaces.ArtifactStore, error) {
	return storage.NewFactory(e.logger, e.metrics).CreateStore(ctx, e.config.Storage)
}

func (e *environment) readDataset(ctx context.Context, path string) (*dataset.Dataset, error) {
	if path == "" {
		return nil, errors.NewInvalidInputError("no input file given")
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeInvalidInput, errors.CodeInvalidInput, "failed to open "+path)
		}
		defer f.Close()
		r = f
	}
	return dataset.ReadCSV(ctx, r, e.config.Schema)
}

// createOutput opens path for writing, stdout for "-".
func createOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "failed to create "+path)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
