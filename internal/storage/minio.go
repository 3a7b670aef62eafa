package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage S3 兼容后端（MinIO / AWS S3）
type MinioStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// MinioOptions S3 后端连接参数
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NewMinioStorage 创建 S3 兼容存储客户端
func NewMinioStorage(opts MinioOptions) (*MinioStorage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("无法创建对象存储客户端: %w", err)
	}

	scheme := "http"
	if opts.UseSSL {
		scheme = "https"
	}
	// AWS 官方端点使用虚拟主机风格地址，其余（MinIO 等）使用路径风格
	baseURL := fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	if opts.Endpoint == "s3.amazonaws.com" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}

	return &MinioStorage{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: baseURL,
	}, nil
}

// Put 上传对象；PutObject 要么完整写入要么报错，不会留下半个对象
func (s *MinioStorage) Put(ctx context.Context, r io.Reader, size int64, contentType, origName string) (*BlobRef, error) {
	key := ObjectKey(origName)

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, err
	}

	return &BlobRef{Key: key, URL: s.baseURL + "/" + key}, nil
}

// Delete 幂等删除；对象不存在时 RemoveObject 同样返回成功
func (s *MinioStorage) Delete(ctx context.Context, ref string) error {
	key, ok := keyFromRef(ref, s.baseURL)
	if !ok {
		return nil
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
