package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querypilot/querypilot/internal/storage"
)

const defaultPartSize = 16 << 20

type minioClient struct {
	api      *minio.Client
	partSize uint64
}

func newMinioClient(cfg Config) (*minioClient, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	api, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	return &minioClient{api: api, partSize: partSize}, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	switch {
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return "", false, fmt.Errorf("s3 endpoint scheme %q is not http or https", parsed.Scheme)
	case parsed.Host == "":
		return "", false, errors.New("s3 endpoint host is required")
	case strings.Trim(parsed.Path, "/") != "":
		return "", false, fmt.Errorf("s3 endpoint must not include a path: %q", parsed.Path)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType, UserMetadata: opts.Metadata}
	if size < 0 {
		putOpts.PartSize = m.partSize
	}
	uploaded, err := m.api.PutObject(ctx, bucket, key, reader, size, putOpts)
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:          uploaded.Key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		ContentType:  opts.ContentType,
		Metadata:     lowerKeys(opts.Metadata),
		LastModified: uploaded.LastModified,
	}, nil
}

// Get stats the object before returning it so a missing key fails here
// rather than on the first Read.
func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	obj, err := m.api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		ETag:         obj.ETag,
		ContentType:  obj.ContentType,
		Metadata:     lowerKeys(obj.UserMetadata),
		LastModified: obj.LastModified,
	}, nil
}

func (m *minioClient) Delete(ctx context.Context, bucket, key string) error {
	return mapMinioErr(m.api.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}))
}

func (m *minioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.api.BucketExists(ctx, bucket)
	return exists, mapMinioErr(err)
}

func (m *minioClient) CreateBucket(ctx context.Context, bucket, region string) error {
	return mapMinioErr(m.api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func lowerKeys(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
