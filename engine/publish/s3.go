// Package publish uploads dataset payloads to an S3-compatible artifact store
// and announces them on NATS.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/WessleyAI/ragset/engine/dataset"
	"github.com/WessleyAI/ragset/engine/domain"
)

const (
	service       = "artifact-store"
	defaultRegion = "us-east-1"
	objectName    = "dataset.json"
)

// S3Client is the subset of *s3.Client used by S3Publisher.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config describes the artifact store.
type Config struct {
	Token       string // secret access key
	KeyID       string // access key id
	Destination string // bucket
	Endpoint    string // optional, for S3-compatible services
	Region      string
	BaseURL     string // public URL base; derived from Endpoint or AWS when empty
}

// Option configures an S3Publisher.
type Option func(*S3Publisher)

// WithS3Client replaces the SDK client. Used by tests.
func WithS3Client(c S3Client) Option {
	return func(p *S3Publisher) { p.client = c }
}

// S3Publisher writes one dataset.json object per model uid. Safe for
// concurrent use.
type S3Publisher struct {
	client  S3Client
	bucket  string
	region  string
	baseURL string
	ready   atomic.Bool
}

// New validates cfg and builds the S3 client.
func New(ctx context.Context, cfg Config, opts ...Option) (*S3Publisher, error) {
	var missing []string
	if cfg.Token == "" {
		missing = append(missing, "ARTIFACT_STORE_TOKEN")
	}
	if cfg.KeyID == "" {
		missing = append(missing, "ARTIFACT_STORE_KEY_ID")
	}
	if cfg.Destination == "" {
		missing = append(missing, "ARTIFACT_STORE_DESTINATION")
	}
	if len(missing) > 0 {
		return nil, domain.NewConfigError(strings.Join(missing, ", "), domain.ErrMissingVariable)
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	p := &S3Publisher{
		bucket:  cfg.Destination,
		region:  cfg.Region,
		baseURL: baseURL(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		return p, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Token, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: load aws config: %w", err)
	}
	p.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return p, nil
}

func baseURL(cfg Config) string {
	u := cfg.BaseURL
	if u == "" {
		if cfg.Endpoint != "" {
			u = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Destination)
		} else {
			u = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Destination, cfg.Region)
		}
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// Publish uploads payload as {uid}/dataset.json and returns its URL. The
// bucket is created on first use if missing.
func (p *S3Publisher) Publish(ctx context.Context, uid string, payload dataset.Payload) (string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return "", err
	}
	body, err := payload.Encode()
	if err != nil {
		return "", fmt.Errorf("publish: encode payload: %w", err)
	}
	key := uid + "/" + objectName
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", domain.Upstream(service, "put "+key, err)
	}
	return p.baseURL + key, nil
}

func (p *S3Publisher) ensureBucket(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	switch {
	case err == nil:
	case isMissingBucket(err):
		in := &s3.CreateBucketInput{Bucket: aws.String(p.bucket)}
		if p.region != defaultRegion {
			in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
				LocationConstraint: types.BucketLocationConstraint(p.region),
			}
		}
		if _, err := p.client.CreateBucket(ctx, in); err != nil && !isOwnedBucket(err) {
			return domain.Upstream(service, "create bucket "+p.bucket, err)
		}
	default:
		return domain.Upstream(service, "head bucket "+p.bucket, err)
	}
	p.ready.Store(true)
	return nil
}

func isMissingBucket(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// isOwnedBucket reports a create race lost to ourselves.
func isOwnedBucket(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &owned)
}
