// Package archive stores signed documents pulled from e-signature providers in S3 or an
// S3-compatible bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lexdesk/lexdesk/internal/config"
)

const defaultHTTPTimeout = 2 * time.Minute

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes objects under a fixed key prefix.
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
}

// New loads AWS configuration from the default chain, or from the static keys in cfg when
// both are set. A custom endpoint switches to path-style addressing for MinIO and friends.
func New(ctx context.Context, cfg config.ArchiveConfig) (*S3, error) {
	if !cfg.Enabled() {
		return nil, errors.New("archive bucket is not configured")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(&http.Client{Timeout: defaultHTTPTimeout}),
	}
	if region := strings.TrimSpace(cfg.Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	keyID, secret := strings.TrimSpace(cfg.AccessKeyID), strings.TrimSpace(cfg.SecretAccessKey)
	switch {
	case keyID != "" && secret != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(keyID, secret, "")))
	case keyID != "" || secret != "":
		return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID and ARCHIVE_S3_SECRET_ACCESS_KEY must be set together")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewWithClient(client putObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: strings.TrimSpace(bucket), prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

// Put uploads body to prefix/key. It satisfies acmesign.Archiver.
func (a *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	objectKey := a.objectKey(key)
	if objectKey == "" {
		return errors.New("archive key is required")
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := a.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", a.bucket, objectKey, err)
	}
	return nil
}

func (a *S3) objectKey(key string) string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return ""
	}
	if a.prefix == "" {
		return path.Clean(key)
	}
	return path.Join(a.prefix, key)
}
