package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region"`
	Bucket          string        `json:"bucket"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl"`
	Prefix          string        `json:"prefix"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	UseCompression  bool          `json:"use_compression"`
	StorageClass    string        `json:"storage_class"`
}

// S3Storage keeps every sheet as one CSV object under the configured prefix.
type S3Storage struct {
	config     *S3Config
	uploader   s3manageriface.UploaderAPI
	downloader s3manageriface.DownloaderAPI
	logger     *logrus.Logger
	mu         sync.RWMutex
	closed     bool
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewConfigurationError("S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewConfigurationError("S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &S3Storage{config: config, logger: logger}, nil
}

// NewS3StorageWithClients builds a storage around existing transfer clients.
func NewS3StorageWithClients(config *S3Config, uploader s3manageriface.UploaderAPI, downloader s3manageriface.DownloaderAPI, logger *logrus.Logger) (*S3Storage, error) {
	s, err := NewS3Storage(config, logger)
	if err != nil {
		return nil, err
	}
	s.uploader = uploader
	s.downloader = downloader
	return s, nil
}

// Connect creates the AWS session and transfer managers.
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploader != nil && s.downloader != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region: aws.String(s.config.Region),
	}
	if s.config.MaxRetries > 0 {
		awsConfig.MaxRetries = aws.Int(s.config.MaxRetries)
	}
	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}
	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}
	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to create AWS session")
	}
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
		"prefix": s.config.Prefix,
	}).Info("Connected to S3")
	return nil
}

// Backend implements interfaces.SheetStorage
func (s *S3Storage) Backend() string {
	return constants.StorageBackendS3
}

// WriteSheet uploads the sheet as CSV, gzip-compressed when configured.
func (s *S3Storage) WriteSheet(ctx context.Context, sheet *interfaces.Sheet) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.uploader == nil {
		return errors.NewStorageError(errors.CodeWriteFailed, "S3 not connected")
	}

	var buf bytes.Buffer
	var w io.Writer = &buf
	var gz *gzip.Writer
	if s.config.UseCompression {
		gz = gzip.NewWriter(&buf)
		w = gz
	}
	if err := interfaces.WriteCSV(w, sheet); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to serialize sheet "+sheet.Name)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to compress sheet "+sheet.Name)
		}
	}

	key := s.generateKey(sheet.Name)
	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]*string{
			"sheet": aws.String(sheet.Name),
			"rows":  aws.String(fmt.Sprintf("%d", len(sheet.Rows))),
		},
	}
	if gz != nil {
		input.ContentEncoding = aws.String("gzip")
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to upload to S3")
	}
	s.logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": buf.Len(),
	}).Debug("Uploaded sheet")
	return nil
}

// ReadSheet downloads and parses one sheet.
func (s *S3Storage) ReadSheet(ctx context.Context, name string) (*interfaces.Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.downloader == nil {
		return nil, errors.NewStorageError(errors.CodeReadFailed, "S3 not connected")
	}

	key := s.generateKey(name)
	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewStorageError(errors.CodeArtifactNotFound, fmt.Sprintf("Object '%s' not found", key))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to download from S3")
	}

	var r io.Reader = bytes.NewReader(buf.Bytes())
	if s.config.UseCompression {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to decompress "+key)
		}
		defer gz.Close()
		r = gz
	}

	sheet, err := interfaces.ReadCSV(r, name)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to parse "+key)
	}
	return sheet, nil
}

// Close implements interfaces.SheetStorage
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.uploader = nil
	s.downloader = nil
	s.closed = true
	s.logger.Info("S3 connection closed")
	return nil
}

func (s *S3Storage) generateKey(name string) string {
	return path.Join(s.config.Prefix, constants.AppName, name+".csv")
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}
