package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

// Options configures the S3-compatible client.
type Options struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	CreateBucket bool
}

// Store implements analysis.ObjectStore on top of minio-go.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

var _ analysis.ObjectStore = (*Store)(nil)

// New buat koneksi S3/MinIO. Tanpa static key, kredensial diambil dari env, ~/.aws/credentials, lalu IAM role.
func New(ctx context.Context, opts Options) (*Store, error) {
	creds := credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	if opts.AccessKey == "" {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	s := &Store{client: cli, bucketName: opts.Bucket, region: opts.Region}
	if opts.CreateBucket {
		if err := s.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// pastikan bucket ada
func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	}
	return nil
}

func (s *Store) Bucket() string { return s.bucketName }

// Ping is used by the health check.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return translate(err, "")
	}
	if !exists {
		return errs.Internal("S3 bucket does not exist").With("bucket", s.bucketName)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return translate(err, key)
	}
	return nil
}

func (s *Store) Stat(ctx context.Context, key string) (analysis.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return analysis.ObjectInfo{}, translate(err, key)
	}
	return toInfo(info), nil
}

func (s *Store) Get(ctx context.Context, key string) (*analysis.Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	defer obj.Close()

	// GetObject is lazy; errors such as NoSuchKey surface on the first Stat or Read.
	info, err := obj.Stat()
	if err != nil {
		return nil, translate(err, key)
	}
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, key)
	}
	return &analysis.Object{Info: toInfo(info), Body: body}, nil
}

// List returns at most maxKeys objects under prefix in lexical key order.
func (s *Store) List(ctx context.Context, prefix string, maxKeys int) ([]analysis.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []analysis.ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   maxKeys,
	}) {
		if obj.Err != nil {
			return nil, translate(obj.Err, prefix)
		}
		out = append(out, toInfo(obj))
		if maxKeys > 0 && len(out) >= maxKeys {
			break
		}
	}
	return out, nil
}

func toInfo(o minio.ObjectInfo) analysis.ObjectInfo {
	return analysis.ObjectInfo{
		Key:          o.Key,
		Size:         o.Size,
		LastModified: o.LastModified,
		ContentType:  o.ContentType,
	}
}

// translate maps S3 error codes onto domain error kinds; the code is kept in Fields.
func translate(err error, key string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	var e *errs.Error
	switch resp.Code {
	case "NoSuchKey":
		e = errs.NotFound("object not found").With("attemptedKey", key)
	case "AccessDenied":
		e = errs.Forbidden("Access denied to S3 bucket")
	case "NoSuchBucket":
		e = errs.Internal("S3 bucket does not exist")
	case "":
		return fmt.Errorf("s3 %s: %w", key, err)
	default:
		e = errs.Internal("S3 request failed")
	}
	return e.With("code", resp.Code).Wrap(err)
}
