package s3

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Options configures the object store client. Fields carry envconfig tags so callers
// can embed Options under an S3_ prefix.
type Options struct {
	Endpoint       string `env:"ENDPOINT"`
	Bucket         string `env:"BUCKET"`
	AccessKey      string `env:"ACCESS_KEY"`
	SecretKey      string `env:"SECRET_KEY"`
	Region         string `env:"REGION,default=us-east-1"`
	DisableTLS     bool   `env:"DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE,default=true"`
}

// Enabled reports whether enough settings are present to talk to a bucket.
func (o Options) Enabled() bool {
	return strings.TrimSpace(o.Endpoint) != "" && strings.TrimSpace(o.Bucket) != ""
}

// Client is a thin wrapper around the AWS SDK v2 S3 client tuned for S3-compatible endpoints.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
}

// New initialises a Client from opts.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("s3 access key and secret key are required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	endpoint := normalizeEndpoint(opts.Endpoint, opts.DisableTLS)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.ForcePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &Client{
		api:     client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// PutOption adjusts the upload request built by PutObject.
type PutOption func(*s3.PutObjectInput)

// WithContentType sets the stored object's Content-Type.
func WithContentType(ct string) PutOption {
	return func(in *s3.PutObjectInput) { in.ContentType = aws.String(ct) }
}

// WithContentEncoding sets the stored object's Content-Encoding.
func WithContentEncoding(enc string) PutOption {
	return func(in *s3.PutObjectInput) { in.ContentEncoding = aws.String(enc) }
}

// PutObject uploads data to the given bucket/key with checksum metadata.
func (c *Client) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string, opts ...PutOption) error {
	if c == nil {
		return errors.New("nil client")
	}
	in, err := putInput(bucket, key, r, size, sha256, opts...)
	if err != nil {
		return err
	}
	_, err = c.api.PutObject(ctx, in)
	return err
}

func putInput(bucket, key string, r io.Reader, size int64, sha256 string, opts ...PutOption) (*s3.PutObjectInput, error) {
	checksum, err := encodeSHA256(sha256)
	if err != nil {
		return nil, err
	}
	in := &s3.PutObjectInput{
		Bucket:            &bucket,
		Key:               &key,
		Body:              r,
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"sha256": sha256,
		},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// PresignGet generates a presigned GET URL for the provided key and TTL.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if c == nil {
		return "", errors.New("nil client")
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", err
	}

	return req.URL, nil
}

func normalizeEndpoint(endpoint string, disableTLS bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https"
	if disableTLS {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s", scheme, endpoint)
}

func encodeSHA256(hexDigest string) (string, error) {
	if hexDigest == "" {
		return "", errors.New("sha256 digest required")
	}
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
