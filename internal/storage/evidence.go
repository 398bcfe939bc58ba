// Package storage MinIO 证据存储实现
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"gitguide/internal/config"
)

// EvidenceStore 验证证据对象存储
//
// 每次验证运行归档收集到的源码快照和测试输出，报告可追溯
type EvidenceStore struct {
	mc     *minio.Client
	bucket string
}

// NewEvidenceStore 创建证据存储客户端
func NewEvidenceStore(cfg config.MinIOConfig) (*EvidenceStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "gitguide-evidence"
	}

	return &EvidenceStore{mc: mc, bucket: bucket}, nil
}

// EnsureBucket 确保 bucket 存在
func (s *EvidenceStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[minio] Created bucket: %s", s.bucket)
	}
	return nil
}

// evidenceKey 对象 key 布局: evidence/{sessionID}/{reportID}/{name}
func evidenceKey(sessionID, reportID, name string) string {
	return fmt.Sprintf("evidence/%s/%s/%s", sessionID, reportID, name)
}

// PutEvidence 归档一份证据文件
func (s *EvidenceStore) PutEvidence(ctx context.Context, sessionID, reportID, name string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := evidenceKey(sessionID, reportID, name)
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// GetEvidence 下载证据文件，调用方负责关闭返回的 ReadCloser
func (s *EvidenceStore) GetEvidence(ctx context.Context, sessionID, reportID, name string) (io.ReadCloser, error) {
	key := evidenceKey(sessionID, reportID, name)
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	// 验证对象存在（GetObject 不会立即返回错误）
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return obj, nil
}

// ListEvidence 列出某次验证运行归档的证据对象名
func (s *EvidenceStore) ListEvidence(ctx context.Context, sessionID, reportID string) ([]string, error) {
	prefix := fmt.Sprintf("evidence/%s/%s/", sessionID, reportID)

	var names []string
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		names = append(names, obj.Key[len(prefix):])
	}
	return names, nil
}

// DeleteEvidence 删除一份证据文件
func (s *EvidenceStore) DeleteEvidence(ctx context.Context, sessionID, reportID, name string) error {
	return s.mc.RemoveObject(ctx, s.bucket, evidenceKey(sessionID, reportID, name), minio.RemoveObjectOptions{})
}
