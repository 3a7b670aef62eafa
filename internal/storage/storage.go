package storage

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"
)

// BlobRef 已存储对象的引用
type BlobRef struct {
	Key string // 存储键
	URL string // 可直接访问的地址
}

// Storage 对象存储接口（本地磁盘或 S3/MinIO，启动时按配置注入）
type Storage interface {
	// Put 存储对象并返回引用；失败时不得留下可寻址的半成品
	Put(ctx context.Context, r io.Reader, size int64, contentType, origName string) (*BlobRef, error)
	// Delete 按引用删除，幂等；不属于本后端的引用直接忽略
	Delete(ctx context.Context, ref string) error
}

// ObjectKey 生成对象键：原文件名 + 毫秒时间戳 + 随机后缀 + 扩展名
func ObjectKey(origName string) string {
	ext := filepath.Ext(origName)
	base := strings.TrimSuffix(filepath.Base(origName), ext)
	if base == "" || base == "." {
		base = "poster"
	}
	return fmt.Sprintf("%s-%d-%09d%s", base, time.Now().UnixMilli(), rand.IntN(1e9), ext)
}

// keyFromRef 从引用中解析出本后端的对象键
// 引用可以是完整 URL（必须匹配 baseURL 前缀）或裸键；其他来源返回 false
func keyFromRef(ref, baseURL string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if strings.HasPrefix(ref, baseURL+"/") {
		ref = strings.TrimPrefix(ref, baseURL+"/")
	}
	if ref == "" || strings.ContainsAny(ref, "/\\") || strings.Contains(ref, "://") {
		return "", false
	}
	return ref, true
}
