package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/querypilot/querypilot/internal/storage"
)

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	PartSize uint64
}

type client interface {
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

type Store struct {
	client client
	bucket string
	prefix string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, mc)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, c client) (*Store, error) {
	if c == nil {
		return nil, errors.New("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	cleaned, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return &Store{client: c, bucket: bucket, prefix: cleaned}, nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Put(ctx, s.bucket, full, body, size, opts)
	if err != nil {
		return storage.ObjectInfo{}, objectErr("put", full, err)
	}
	return s.relative(info), nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Get(ctx, s.bucket, full)
	if err != nil {
		return nil, objectErr("get", full, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.client.Stat(ctx, s.bucket, full)
	if err != nil {
		return storage.ObjectInfo{}, objectErr("stat", full, err)
	}
	return s.relative(info), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	full, err := s.objectKey(key)
	if err != nil {
		return err
	}
	err = s.client.Delete(ctx, s.bucket, full)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return objectErr("delete", full, err)
}

func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	case !exists:
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) objectKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("object key is required")
	}
	if err := checkSegments(key); err != nil {
		return "", fmt.Errorf("invalid object key %q: %w", key, err)
	}
	return path.Join(s.prefix, key), nil
}

func (s *Store) relative(info storage.ObjectInfo) storage.ObjectInfo {
	if s.prefix != "" {
		info.Key = strings.TrimPrefix(info.Key, s.prefix+"/")
	}
	return info
}

func checkSegments(key string) error {
	if strings.ContainsAny(key, "\\\x00") {
		return errors.New("contains a backslash or NUL")
	}
	for _, segment := range strings.Split(key, "/") {
		switch segment {
		case "":
			return errors.New("contains an empty segment")
		case ".", "..":
			return fmt.Errorf("contains %q", segment)
		}
	}
	return nil
}

func cleanPrefix(prefix string) (string, error) {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "", nil
	}
	if err := checkSegments(prefix); err != nil {
		return "", fmt.Errorf("invalid object prefix %q: %w", prefix, err)
	}
	return prefix, nil
}

func objectErr(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return storage.ErrObjectNotFound
	}
	return fmt.Errorf("%s object %q: %w", op, key, err)
}
