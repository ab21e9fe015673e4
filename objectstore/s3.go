package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/vekterdb/corekv/errs"
)

// S3Config names an S3 (or S3-compatible, e.g. MinIO) endpoint. Adapted from
// the teacher's S3Factory in persistence-s3.go.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // custom endpoint for S3-compatible storage
	Bucket          string
	ForcePathStyle  bool // required for MinIO
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

// NewS3Store constructs an S3Store. The client connects lazily on first use,
// matching the teacher's ensureOpen pattern.
func NewS3Store(cfg S3Config) *S3Store {
	return &S3Store{cfg: cfg}
}

func (s *S3Store) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return errs.New(errs.KindInternal, "objectstore.S3Store", "", err)
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(s.cfg.Endpoint) })
	}
	if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	s.client = s3.NewFromConfig(cfg, s3Opts...)
	s.opened = true
	return nil
}

func (s *S3Store) Get(ctx context.Context, path string) (Object, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return Object{}, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket), Key: aws.String(path),
	})
	if err != nil {
		return Object{}, classifyS3Err("objectstore.Get", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Object{}, transient("objectstore.Get", path, err)
	}
	etag := ""
	if resp.ETag != nil {
		etag = strings.Trim(*resp.ETag, `"`)
	}
	return Object{Body: body, ETag: etag}, nil
}

func (s *S3Store) GetRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket), Key: aws.String(path), Range: aws.String(rng),
	})
	if err != nil {
		return nil, classifyS3Err("objectstore.GetRange", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient("objectstore.GetRange", path, err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, path string, body []byte, opts Options) (PutResult, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return PutResult{}, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(body),
	}
	switch opts.Mode {
	case IfNotExists:
		input.IfNoneMatch = aws.String("*")
	case IfMatches:
		input.IfMatch = aws.String(`"` + opts.ETag + `"`)
	}

	resp, err := s.client.PutObject(ctx, input)
	if err != nil {
		switch opts.Mode {
		case IfNotExists:
			if isS3Precondition(err) {
				return PutResult{}, alreadyExists("objectstore.Put", path, err)
			}
		case IfMatches:
			if isS3Precondition(err) {
				return PutResult{}, precondition("objectstore.Put", path, err)
			}
		}
		return PutResult{}, classifyS3Err("objectstore.Put", path, err)
	}

	etag := ""
	if resp.ETag != nil {
		etag = strings.Trim(*resp.ETag, `"`)
	}
	return PutResult{ETag: etag}, nil
}

func (s *S3Store) Delete(ctx context.Context, path string) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket), Key: aws.String(path),
	})
	if err != nil {
		return classifyS3Err("objectstore.Delete", path, err)
	}
	return nil
}

func (s *S3Store) ListPrefix(ctx context.Context, prefix string) ([]ListedObject, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	var out []ListedObject
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket), Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Err("objectstore.ListPrefix", prefix, err)
		}
		for _, obj := range page.Contents {
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			out = append(out, ListedObject{Path: aws.ToString(obj.Key), Size: size})
		}
	}
	return out, nil
}

func (s *S3Store) Copy(ctx context.Context, src, dst string) error {
	if err := s.ensureOpen(ctx); err != nil {
		return err
	}
	source := s.cfg.Bucket + "/" + src
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(source),
	})
	if err != nil {
		return classifyS3Err("objectstore.Copy", src, err)
	}
	return nil
}

func isS3Precondition(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func classifyS3Err(op, path string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return notFound(op, path, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return precondition(op, path, err)
		}
	}
	return transient(op, path, err)
}
