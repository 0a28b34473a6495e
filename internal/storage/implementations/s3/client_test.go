package s3

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/ipdsynth/internal/storage/interfaces"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

// memoryBucket implements the transfer manager interfaces over a map.
type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	inputs  []*s3manager.UploadInput
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: make(map[string][]byte)}
}

func (b *memoryBucket) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return b.UploadWithContext(context.Background(), input, opts...)
}

func (b *memoryBucket) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[aws.StringValue(input.Key)] = data
	b.inputs = append(b.inputs, input)
	return &s3manager.UploadOutput{}, nil
}

func (b *memoryBucket) Download(w io.WriterAt, input *s3.GetObjectInput, opts ...func(*s3manager.Downloader)) (int64, error) {
	return b.DownloadWithContext(context.Background(), w, input, opts...)
}

func (b *memoryBucket) DownloadWithContext(ctx aws.Context, w io.WriterAt, input *s3.GetObjectInput, opts ...func(*s3manager.Downloader)) (int64, error) {
	b.mu.Lock()
	data, ok := b.objects[aws.StringValue(input.Key)]
	b.mu.Unlock()
	if !ok {
		return 0, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	n, err := w.WriteAt(data, 0)
	return int64(n), err
}

func TestNewS3StorageInvalidConfig(t *testing.T) {
	_, err := NewS3Storage(nil, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 config cannot be nil")

	_, err = NewS3Storage(&S3Config{Region: "us-east-1"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 bucket is required")
}

func TestS3StorageGenerateKey(t *testing.T) {
	storage, err := NewS3Storage(&S3Config{Bucket: "test-bucket", Prefix: "studies/abc"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "studies/abc/ipdsynth/strata_counts.csv", storage.generateKey("strata_counts"))

	storage, err = NewS3Storage(&S3Config{Bucket: "test-bucket"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "ipdsynth/strata_counts.csv", storage.generateKey("strata_counts"))
}

func TestS3StorageRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		bucket := newMemoryBucket()
		storage, err := NewS3StorageWithClients(&S3Config{
			Bucket:         "test-bucket",
			UseCompression: compress,
		}, bucket, bucket, logrus.New())
		require.NoError(t, err)
		require.NoError(t, storage.Connect(context.Background()))

		sheet := &interfaces.Sheet{
			Name:   "strata_counts",
			Header: []string{"stratum_id", "n"},
			Rows:   [][]string{{"1", "25"}, {"2", "≤10"}},
		}
		require.NoError(t, storage.WriteSheet(context.Background(), sheet))

		got, err := storage.ReadSheet(context.Background(), "strata_counts")
		require.NoError(t, err)
		assert.Equal(t, sheet.Header, got.Header)
		assert.Equal(t, sheet.Rows, got.Rows)

		require.Len(t, bucket.inputs, 1)
		if compress {
			assert.Equal(t, "gzip", aws.StringValue(bucket.inputs[0].ContentEncoding))
		} else {
			assert.Nil(t, bucket.inputs[0].ContentEncoding)
		}
	}
}

func TestS3StorageMissingObject(t *testing.T) {
	bucket := newMemoryBucket()
	storage, err := NewS3StorageWithClients(&S3Config{Bucket: "test-bucket"}, bucket, bucket, logrus.New())
	require.NoError(t, err)

	_, err = storage.ReadSheet(context.Background(), "manifest")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestS3StorageClosed(t *testing.T) {
	bucket := newMemoryBucket()
	storage, err := NewS3StorageWithClients(&S3Config{Bucket: "test-bucket"}, bucket, bucket, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	err = storage.WriteSheet(context.Background(), &interfaces.Sheet{Name: "x", Header: []string{"a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3 not connected")
}
