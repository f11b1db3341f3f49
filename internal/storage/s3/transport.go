package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// objectAPI is the subset of *s3.Client the transport uses.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Transport streams byte ranges of a single S3 object.
type Transport struct {
	api            objectAPI
	bucket         string
	key            string
	requestTimeout time.Duration
	pinETag        bool
	logger         *slog.Logger
	metrics        requestMetrics

	mu   sync.Mutex
	etag string
}

// NewTransport creates a transport for s3://bucket/key.
func NewTransport(ctx context.Context, bucket, key string, cfg *Config) (*Transport, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newTransport(client, bucket, key, cfg)
}

func newTransport(api objectAPI, bucket, key string, cfg *Config) (*Transport, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if key == "" {
		return nil, fmt.Errorf("object key cannot be empty")
	}
	return &Transport{
		api:            api,
		bucket:         bucket,
		key:            key,
		requestTimeout: cfg.RequestTimeout,
		pinETag:        cfg.PinETag,
		logger:         slog.Default().With("component", "s3-transport", "bucket", bucket, "key", key),
	}, nil
}

// Open retrieves the object's metadata with HeadObject.
func (t *Transport) Open(ctx context.Context) (types.ObjectInfo, error) {
	if t.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := t.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key),
	})
	t.metrics.observe(time.Since(start), err)
	if err != nil {
		return types.ObjectInfo{}, t.translateError(err, "HeadObject")
	}

	info := types.ObjectInfo{
		Key:          t.key,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
	}

	t.mu.Lock()
	t.etag = info.ETag
	t.mu.Unlock()

	t.logger.Debug("Opened object", "size", info.Size, "etag", info.ETag)
	return info, nil
}

// Fetch issues a ranged GetObject for [offset, offset+length) and returns
// its body. Cancelling ctx aborts the body.
func (t *Transport) Fetch(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "invalid fetch range").
			WithComponent("s3-transport").
			WithOperation("GetObject").
			WithDetail("offset", offset).
			WithDetail("length", length)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	}
	t.mu.Lock()
	if t.pinETag && t.etag != "" {
		input.IfMatch = aws.String(t.etag)
	}
	t.mu.Unlock()

	start := time.Now()
	result, err := t.api.GetObject(ctx, input)
	t.metrics.observe(time.Since(start), err)
	if err != nil {
		return nil, t.translateError(err, "GetObject")
	}

	return &countingBody{ReadCloser: result.Body, metrics: &t.metrics}, nil
}

// RecordThroughput implements types.ThroughputRecorder.
func (t *Transport) RecordThroughput(bytesPerSecond float64) {
	t.metrics.addThroughput(bytesPerSecond)
}

// TransportStats implements types.TransportStatsReporter.
func (t *Transport) TransportStats() types.TransportStats {
	return t.metrics.snapshot()
}

func (t *Transport) translateError(err error, operation string) error {
	code := errors.ErrCodeStorageRead
	retryable := true

	var apiErr smithy.APIError
	var respErr *smithyhttp.ResponseError
	switch {
	case stderrors.Is(err, context.Canceled):
		code, retryable = errors.ErrCodeOperationCanceled, false
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.ErrCodeConnectionTimeout
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		code, retryable = errors.ErrCodeObjectNotFound, false
	case isErrorType[*s3types.NoSuchBucket](err):
		code, retryable = errors.ErrCodeBucketNotFound, false
	case stderrors.As(err, &apiErr) && isAccessDenied(apiErr.ErrorCode()):
		code, retryable = errors.ErrCodeAccessDenied, false
	case stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange":
		code, retryable = errors.ErrCodeInvalidRange, false
	case stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed":
		// The object changed since Open; retrying cannot help.
		retryable = false
	case stderrors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound:
		code, retryable = errors.ErrCodeObjectNotFound, false
	case stderrors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusForbidden:
		code, retryable = errors.ErrCodeAccessDenied, false
	}

	e := errors.Wrap(code, fmt.Sprintf("%s failed", operation), err).
		WithComponent("s3-transport").
		WithOperation(operation).
		WithContext("bucket", t.bucket).
		WithContext("key", t.key)
	e.Retryable = retryable
	return e
}

func isAccessDenied(code string) bool {
	switch code {
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return false
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

// countingBody records downloaded bytes as the cache consumes them.
type countingBody struct {
	io.ReadCloser
	metrics *requestMetrics
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.metrics.addBytes(int64(n))
	}
	return n, err
}

var (
	_ types.Transport              = (*Transport)(nil)
	_ types.ThroughputRecorder     = (*Transport)(nil)
	_ types.TransportStatsReporter = (*Transport)(nil)
)
