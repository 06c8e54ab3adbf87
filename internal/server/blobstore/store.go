// Package blobstore keeps file contents in S3-compatible object storage.
// The hierarchy only ever sees the opaque reference returned by Put.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/google/uuid"
)

// Store is the upload/download/delete-by-reference contract.
type Store interface {
	Put(ctx context.Context, ownerID string, body io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
	PresignGet(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignGetObject = func(c *s3.Client, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return s3.NewPresignClient(c).PresignGetObject(ctx, in, optFns...)
	}

	now = time.Now
)

// Options describes the bucket and the static credentials used to reach it.
type Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

type S3Store struct {
	bucket string
	client *s3.Client
	api    objectAPI
}

// NewS3Store builds a client with static credentials and path-style
// addressing, which MinIO requires.
func NewS3Store(ctx context.Context, opts Options) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{bucket: opts.Bucket, client: client, api: client}, nil
}

// NewRef returns a fresh object key for ownerID.
func NewRef(ownerID string) string {
	d := now().UTC()
	return fmt.Sprintf("users/%s/%d/%02d/%02d/%v", ownerID, d.Year(), d.Month(), d.Day(), uuid.New())
}

// Put stores body under a new reference and returns it. Bodies that cannot
// seek are buffered, since S3 needs a replayable payload over plain HTTP.
func (s *S3Store) Put(ctx context.Context, ownerID string, body io.Reader, size int64, contentType string) (string, error) {
	if _, ok := body.(io.ReadSeeker); !ok {
		buf, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		body = bytes.NewReader(buf)
		size = int64(len(buf))
	}

	ref := NewRef(ownerID)
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(ref),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return ref, nil
}

// Get opens the object. A missing object is common.ErrorNotFound.
func (s *S3Store) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for ref.
func (s *S3Store) PresignGet(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	req, err := presignGetObject(s.client, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
