package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/pipegrid/internal/pipeline"
)

// S3Config configures an S3 backend.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is the key prefix under which version directories live.
	Prefix string
}

// S3 reads dataset files from an S3 compatible bucket laid out as
// "<prefix>/<version>/<path>".
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 validates cfg and creates the client.
func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3) key(version, p string) string {
	k := version + "/" + strings.TrimPrefix(p, "/")
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *S3) mapErr(err error, name string) error {
	code := minio.ToErrorResponse(err).Code
	if code == "NoSuchKey" || code == "NoSuchBucket" {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func (s *S3) ListFiles(ctx context.Context, version string) ([]pipeline.FileContext, error) {
	prefix := s.key(version, "")
	var files []pipeline.FileContext
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, s.mapErr(obj.Err, prefix)
		}
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" || strings.HasSuffix(rest, "/") {
			continue
		}
		files = append(files, pipeline.NewFileContext(version, rest))
	}
	return files, nil
}

func (s *S3) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(file.Version, file.Path), minio.GetObjectOptions{})
	if err != nil {
		return "", s.mapErr(err, file.String())
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", s.mapErr(err, file.String())
	}
	return string(data), nil
}

func (s *S3) GetMetadata(ctx context.Context, file pipeline.FileContext) (pipeline.Metadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(file.Version, file.Path), minio.StatObjectOptions{})
	if err != nil {
		return pipeline.Metadata{}, s.mapErr(err, file.String())
	}
	modified := info.LastModified
	return pipeline.Metadata{Size: info.Size, LastModified: &modified}, nil
}
