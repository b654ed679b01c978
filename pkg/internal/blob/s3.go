package blob

import (
	"context"
	"fmt"
	"io"
	pathpkg "path"
	"sort"
	"strings"

	minio "github.com/minio/minio-go/v7"
)

// S3 S3 兼容对象存储，对象键为 prefix/path/name.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 创建对象存储实现.
func NewS3(client *minio.Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Kind 实现名称.
func (s *S3) Kind() string { return "s3" }

func (s *S3) key(path, name string) string {
	return strings.TrimPrefix(pathpkg.Join(s.prefix, path, name), "/")
}

func s3Err(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}

	return err
}

// Exists 对象是否存在.
func (s *S3) Exists(ctx context.Context, path, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(path, name), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}

	return false, err
}

// Stat 返回对象信息.
func (s *S3) Stat(ctx context.Context, path, name string) (Info, error) {
	oi, err := s.client.StatObject(ctx, s.bucket, s.key(path, name), minio.StatObjectOptions{})
	if err != nil {
		return Info{}, s3Err(err)
	}

	return Info{Path: path, Name: name, Size: oi.Size, LastMod: oi.LastModified.UTC()}, nil
}

// Open 读取对象.
func (s *S3) Open(ctx context.Context, path, name string) (io.ReadCloser, error) {
	return s.OpenRange(ctx, path, name, 0, -1)
}

// OpenRange 范围读取对象.
func (s *S3) OpenRange(ctx context.Context, path, name string, off, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}

	if off > 0 || length >= 0 {
		end := int64(0)
		if length >= 0 {
			end = off + length - 1
		}

		if err := opts.SetRange(off, end); err != nil {
			return nil, fmt.Errorf("set range: %w", err)
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(path, name), opts)
	if err != nil {
		return nil, s3Err(err)
	}

	// GetObject 延迟到首次读取才报告不存在
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s3Err(err)
	}

	return obj, nil
}

// Put 上传对象.
func (s *S3) Put(ctx context.Context, path, name string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(path, name), r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}

	return nil
}

// Delete 删除对象.
func (s *S3) Delete(ctx context.Context, path, name string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.key(path, name), minio.RemoveObjectOptions{})
}

// List 列出前缀下的对象，不递归.
func (s *S3) List(ctx context.Context, path, prefix string) ([]Info, error) {
	dir := s.key(path, "")
	if dir != "" {
		dir += "/"
	}

	var out []Info

	for oi := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: dir + prefix}) {
		if oi.Err != nil {
			return nil, oi.Err
		}

		name := strings.TrimPrefix(oi.Key, dir)
		if strings.Contains(name, "/") {
			continue
		}

		out = append(out, Info{Path: path, Name: name, Size: oi.Size, LastMod: oi.LastModified.UTC()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}
