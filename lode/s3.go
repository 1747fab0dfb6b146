package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates a spool in S3 or an S3-compatible store (R2, MinIO).
// Credentials come from the default AWS chain.
type S3Config struct {
	Bucket string
	Prefix string
	// Region overrides the region from the AWS chain.
	Region string
	// Endpoint overrides the AWS endpoint.
	Endpoint string
	// UsePathStyle puts the bucket in the path instead of the host name.
	UsePathStyle bool
}

// Validate reports missing required fields.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 spool requires a bucket")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" (optionally "s3://bucket/prefix/")
// into its bucket and key prefix.
func ParseS3Path(path string) (bucket, prefix string) {
	path = strings.Trim(strings.TrimPrefix(path, "s3://"), "/")
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

func (c *S3Config) loadOptions() []func(*config.LoadOptions) error {
	if c.Region == "" {
		return nil
	}
	return []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
}

func (c *S3Config) clientOptions() []func(*s3.Options) {
	endpoint, pathStyle := c.Endpoint, c.UsePathStyle
	return []func(*s3.Options){func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = o.UsePathStyle || pathStyle
	}}
}

// NewS3Factory builds a Lode store factory over one S3 client.
func NewS3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, cfg.loadOptions()...)
	if err != nil {
		return nil, wrap("init", cfg.Bucket, fmt.Errorf("load AWS config: %w", err))
	}
	client := s3.NewFromConfig(awsCfg, cfg.clientOptions()...)

	storeCfg := lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix}
	return func() (lode.Store, error) {
		return lodes3.New(client, storeCfg)
	}, nil
}

// NewS3Spool opens the default spool dataset in S3.
func NewS3Spool(ctx context.Context, cfg S3Config) (*Spool, error) {
	factory, err := NewS3Factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewSpool(DefaultDataset, factory)
}
