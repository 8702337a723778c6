package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3HeadClient is the slice of the S3 API the resolver needs. Satisfied
// by *s3.Client; mockable in tests.
type S3HeadClient interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3MediaConfig configures the S3-backed media resolver.
type S3MediaConfig struct {
	Bucket      string `env:"MEDIA_S3_BUCKET,required"`
	Region      string `env:"MEDIA_S3_REGION,required"`
	AccessKeyID string `env:"MEDIA_S3_ACCESS_KEY_ID"`
	SecretKey   string `env:"MEDIA_S3_SECRET_KEY"`
	Endpoint    string `env:"MEDIA_S3_ENDPOINT"`     // optional, for S3-compatible services
	BaseURL     string `env:"MEDIA_S3_BASE_URL"`     // public URL base for serving media
	KeyPrefix   string `env:"MEDIA_S3_KEY_PREFIX" envDefault:"media/"`
	PathStyle   bool   `env:"MEDIA_S3_PATH_STYLE" envDefault:"false"`
}

// S3MediaResolver implements MediaResolver over an S3 bucket. Objects
// live under KeyPrefix keyed by media id; Resolve verifies each object
// exists before handing out its public URL, so a deleted attachment
// fails the post instead of publishing a broken link.
type S3MediaResolver struct {
	client    S3HeadClient
	bucket    string
	baseURL   string
	keyPrefix string
}

// S3MediaOption configures the resolver.
type S3MediaOption func(*S3MediaResolver)

// WithS3Client sets a pre-configured S3 client. Useful for testing.
func WithS3Client(client S3HeadClient) S3MediaOption {
	return func(r *S3MediaResolver) {
		r.client = client
	}
}

// NewS3MediaResolver creates an S3-backed media resolver.
func NewS3MediaResolver(ctx context.Context, cfg S3MediaConfig, opts ...S3MediaOption) (*S3MediaResolver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("s3 media resolver: bucket and region are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Bucket)
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	r := &S3MediaResolver{
		bucket:    cfg.Bucket,
		baseURL:   strings.TrimSuffix(baseURL, "/") + "/",
		keyPrefix: cfg.KeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		awsOptions := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretKey, "",
				)),
			)
		}

		awsConfig, err := awsconfig.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("s3 media resolver: load aws config: %w", err)
		}

		r.client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.PathStyle
		})
	}

	return r, nil
}

// Resolve implements MediaResolver.
func (r *S3MediaResolver) Resolve(ctx context.Context, mediaIDs []uuid.UUID) ([]string, error) {
	urls := make([]string, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		key := r.keyPrefix + id.String()

		_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isS3NotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, id)
			}
			return nil, Transient(fmt.Sprintf("media lookup failed for %s", id), err)
		}

		urls = append(urls, r.baseURL+key)
	}
	return urls, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
