package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3Store.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix string
}

// S3Store keeps entries as objects in an S3 compatible bucket.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	prefix     string
	codec      Codec
	bucketInit lazyInit
}

// NewS3Store validates cfg and creates the client. The bucket is created
// lazily on first use.
func NewS3Store(cfg S3Config, codec Codec) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	if codec == nil {
		codec = JSONCodec{}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		codec:      codec,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	return s.bucketInit.Do(ctx, func(ctx context.Context) error {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil || exists {
			return err
		}
		return s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
}

func (s *S3Store) objectKey(key Key) string {
	d := key.Digest()
	name := d[:2] + "/" + d + s.codec.Ext()
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func (s *S3Store) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, false, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	e, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	if !e.Key.Equal(key) {
		return nil, false, fmt.Errorf("cache: object %s belongs to a different key", s.objectKey(key))
	}
	return e, true, nil
}

// Set relies on PutObject being atomic: the object becomes visible only
// once fully uploaded.
func (s *S3Store) Set(ctx context.Context, entry *Entry) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	data, err := s.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, s.objectKey(entry.Key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"route":   entry.Key.RouteID,
			"version": entry.Key.Version,
		},
	})
	return err
}

func (s *S3Store) Has(ctx context.Context, key Key) (bool, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return false, fmt.Errorf("ensure bucket: %w", err)
	}
	_, err := s.client.StatObject(ctx, s.bucketName, s.objectKey(key), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, key Key) (bool, error) {
	ok, err := s.Has(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, s.objectKey(key), minio.RemoveObjectOptions{}); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes every object below the store prefix.
func (s *S3Store) Clear(ctx context.Context) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("cache: remove %s: %w", obj.Key, err)
		}
	}
	return nil
}
