// Package objectstore reads media representations from the S3-compatible origin.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/pkg/config"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrInvalidRange  = errors.New("requested range not satisfiable")
	ErrNotConfigured = errors.New("object store is not configured")
	ErrOriginFailure = errors.New("origin request failed")
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Object is an open origin response. Callers must close Body.
type Object struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	// ContentRange is set when the origin answered a byte-range request.
	ContentRange string
	ETag         string
}

func (o *Object) Partial() bool { return o.ContentRange != "" }

type Store struct {
	client S3API
	bucket string
}

func NewStore(client S3API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// New builds the store from the video config; an empty bucket yields a store that refuses every read.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Store, error) {
	vc := cfg.Video
	if vc.Bucket == "" {
		log.Warnw("video bucket is empty, streaming disabled")
		return &Store{}, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(vc.Region)}
	if vc.AccessKeyID != "" && vc.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(vc.AccessKeyID, vc.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if vc.Endpoint != "" {
			o.BaseEndpoint = aws.String(vc.Endpoint)
		}
		o.UsePathStyle = vc.ForcePathStyle
	})
	return NewStore(client, vc.Bucket), nil
}

// Get fetches key, forwarding rangeHeader (e.g. "bytes=0-1023") untouched.
func (s *Store) Get(ctx context.Context, key, rangeHeader string) (*Object, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rangeHeader != "" {
		in.Range = aws.String(rangeHeader)
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}
	return &Object{
		Body:          out.Body,
		ContentLength: aws.ToInt64(out.ContentLength),
		ContentType:   aws.ToString(out.ContentType),
		ContentRange:  aws.ToString(out.ContentRange),
		ETag:          aws.ToString(out.ETag),
	}, nil
}

func mapError(err error) error {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "InvalidRange":
			return ErrInvalidRange
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOriginFailure, err)
}

var Module = fx.Options(
	fx.Provide(New),
)
