package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// putObjectAPI is the subset of the S3 client used by S3Store.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket    string
	Region    string
	CDNDomain string
	// Endpoint overrides the S3 endpoint (MinIO, localstack). Path-style
	// addressing is used when set.
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store stores objects in an S3 bucket.
type S3Store struct {
	client    putObjectAPI
	bucket    string
	region    string
	cdnDomain string
	endpoint  string
}

// NewS3Store builds an S3 client from the default AWS credential chain,
// or from static keys when both are given.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client putObjectAPI, opts S3Options) *S3Store {
	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		region:    opts.Region,
		cdnDomain: strings.TrimRight(opts.CDNDomain, "/"),
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
	}
}

// Put uploads data in a single PutObject call. S3 makes the object visible
// only once the call succeeds.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", &StorageError{Backend: "s3", Key: key, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(cleanKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", &StorageError{Backend: "s3", Key: cleanKey, Err: err}
	}
	return s.PublicURL(cleanKey), nil
}

// PublicURL derives the public URL of key: the CDN domain when configured,
// otherwise the bucket's virtual-hosted (or custom endpoint) URL.
func (s *S3Store) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.cdnDomain != "":
		domain := s.cdnDomain
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		return domain + "/" + escaped
	case s.endpoint != "":
		return s.endpoint + "/" + s.bucket + "/" + escaped
	case s.region != "":
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, escaped)
	}
}
