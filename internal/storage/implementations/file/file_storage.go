package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// FileStorageConfig contains configuration for file-based storage
type FileStorageConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"`
}

// FileStorage keeps every sheet as <name>.csv in one directory.
type FileStorage struct {
	config *FileStorageConfig
	logger *logrus.Logger
	mu     sync.RWMutex
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(config *FileStorageConfig, logger *logrus.Logger) (*FileStorage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("FileStorageConfig cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewConfigurationError("BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.CreateDirs {
		if err := os.MkdirAll(config.BasePath, 0755); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
				fmt.Sprintf("Failed to create directory: %s", config.BasePath))
		}
	}

	return &FileStorage{config: config, logger: logger}, nil
}

// Backend implements interfaces.SheetStorage
func (fs *FileStorage) Backend() string {
	return constants.StorageBackendFile
}

// WriteSheet writes to a temporary file and renames it over the previous version.
func (fs *FileStorage) WriteSheet(ctx context.Context, sheet *interfaces.Sheet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := fs.path(sheet.Name)
	tmp, err := os.CreateTemp(fs.config.BasePath, "."+sheet.Name+"-*")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to open file: %s", path))
	}
	defer os.Remove(tmp.Name())

	if err := interfaces.WriteCSV(tmp, sheet); err != nil {
		tmp.Close()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write "+path)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to write "+path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to replace "+path)
	}

	fs.logger.WithFields(logrus.Fields{
		"path": path,
		"rows": len(sheet.Rows),
	}).Debug("Wrote sheet")
	return nil
}

// ReadSheet reads <name>.csv.
func (fs *FileStorage) ReadSheet(ctx context.Context, name string) (*interfaces.Sheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path := fs.path(name)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewStorageError(errors.CodeArtifactNotFound, fmt.Sprintf("File not found: %s", path))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to open "+path)
	}
	defer file.Close()

	sheet, err := interfaces.ReadCSV(file, name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to read "+path)
	}
	return sheet, nil
}

// Ping implements interfaces.Pinger
func (fs *FileStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(fs.config.BasePath)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Storage directory unavailable")
	}
	if !info.IsDir() {
		return errors.NewStorageError(errors.CodeReadFailed, fs.config.BasePath+" is not a directory")
	}
	return nil
}

// Close implements interfaces.SheetStorage
func (fs *FileStorage) Close() error {
	return nil
}

func (fs *FileStorage) path(name string) string {
	return filepath.Join(fs.config.BasePath, name+".csv")
}
