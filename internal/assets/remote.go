package assets

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hotrun-dev/hotrun/internal/errors"
)

// ObjectGetter is the part of the S3 client RemoteTransformer uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// RemoteConfig locates prebuilt assets in a bucket.
type RemoteConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Client creates an anonymous client for cfg. A custom endpoint
// switches to path-style addressing, as local S3 emulators expect.
func NewS3Client(cfg RemoteConfig) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// RemoteTransformer serves assets stored under a bucket prefix.
type RemoteTransformer struct {
	client ObjectGetter
	bucket string
	prefix string
}

// NewRemoteTransformer creates a transformer reading from bucket/prefix.
func NewRemoteTransformer(client ObjectGetter, bucket, prefix string) *RemoteTransformer {
	return &RemoteTransformer{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key returns the object key for a request URL.
func (t *RemoteTransformer) Key(url string) string {
	key := strings.TrimPrefix(path.Clean("/"+cleanURL(url)), "/")
	if t.prefix != "" {
		key = t.prefix + "/" + key
	}
	return key
}

// Transform implements Transformer.
func (t *RemoteTransformer) Transform(ctx context.Context, url string) (*Result, error) {
	key := t.Key(url)
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}
		return nil, errors.New("H511").WithModule("s3://" + t.bucket + "/" + key).Wrap(err)
	}
	defer out.Body.Close()

	code, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.New("H511").WithModule("s3://" + t.bucket + "/" + key).Wrap(err)
	}

	res := &Result{Code: code, ETag: ETag(code), ContentType: ContentType(key)}
	if out.ETag != nil && *out.ETag != "" {
		res.ETag = *out.ETag
	}
	if out.ContentType != nil && *out.ContentType != "" {
		res.ContentType = *out.ContentType
	}
	return res, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if stderrors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
