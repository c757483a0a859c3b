package storage

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
)

// s3API is the subset of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// presigner is the subset of the presign client the store uses
type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store keeps objects in one bucket under a key prefix.
type S3Store struct {
	client     s3API
	presign    presigner
	bucket     string
	prefix     string
	presignTTL time.Duration
}

// NewS3Store builds a store from the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg am.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequestError("s3 bucket not configured")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := time.Duration(cfg.PresignMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &S3Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		presignTTL: ttl,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, localPath, key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	objectKey := path.Join(s.prefix, key)

	f, err := os.Open(localPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", localPath)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        f,
		ContentType: aws.String(contentType(objectKey)),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload s3://%s/%s", s.bucket, objectKey)
	}
	return S3Scheme + "://" + s.bucket + "/" + objectKey, nil
}

func (s *S3Store) Fetch(ctx context.Context, ref, dst string) error {
	bucket, key, err := s.split(ref)
	if err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to download %s", ref)
	}
	defer out.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return errors.Wrapf(err, "failed to download %s", ref)
	}
	return f.Close()
}

func (s *S3Store) Locate(ctx context.Context, ref string) (Location, error) {
	bucket, key, err := s.split(ref)
	if err != nil {
		return Location{}, err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return Location{}, errors.Wrapf(err, "failed to presign %s", ref)
	}
	return Location{URL: req.URL}, nil
}

func (s *S3Store) Owns(ref string) bool {
	scheme, _, ok := splitRef(ref)
	return ok && scheme == S3Scheme
}

func (s *S3Store) split(ref string) (string, string, error) {
	scheme, rest, ok := splitRef(ref)
	if !ok || scheme != S3Scheme {
		return "", "", errors.Wrapf(ErrUnknownReference, "%s", ref)
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", errors.Wrapf(ErrUnknownReference, "%s", ref)
	}
	return bucket, key, nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
