package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage 本地磁盘后端，文件经 /uploads 静态路由对外提供
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage 创建本地存储，目录不存在时自动创建
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("无法创建上传目录: %w", err)
	}
	return &LocalStorage{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Put 先写临时文件再改名，写入失败不会留下可访问的文件
func (s *LocalStorage) Put(ctx context.Context, r io.Reader, size int64, contentType, origName string) (*BlobRef, error) {
	key := ObjectKey(origName)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	return &BlobRef{Key: key, URL: s.baseURL + "/" + key}, nil
}

// Delete 幂等删除；文件已不存在不算错误
func (s *LocalStorage) Delete(ctx context.Context, ref string) error {
	key, ok := keyFromRef(ref, s.baseURL)
	if !ok {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
