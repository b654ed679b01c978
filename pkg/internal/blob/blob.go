// Package blob 按 (path, name) 读写文件本体，提供 bzip2 透明压缩/解压与范围读取.
//
// 本地文件系统与 S3 兼容对象存储实现同一个 Store 接口，在构造时注入.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yeisme/fitsvault/pkg/configs"
	s3c "github.com/yeisme/fitsvault/pkg/internal/storage/s3"
)

// ErrNotExist 文件不存在.
var ErrNotExist = errors.New("blob: file does not exist")

// CompressedSuffix bzip2 压缩文件的扩展名.
const CompressedSuffix = ".bz2"

// Info 文件元信息.
type Info struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	LastMod time.Time `json:"lastmod"`
}

// Store 文件本体存储.
type Store interface {
	// Exists 文件是否存在.
	Exists(ctx context.Context, path, name string) (bool, error)
	// Stat 返回大小与修改时间，不存在时返回 ErrNotExist.
	Stat(ctx context.Context, path, name string) (Info, error)
	// Open 读取磁盘上的原始字节.
	Open(ctx context.Context, path, name string) (io.ReadCloser, error)
	// OpenRange 从 off 开始读取最多 length 字节，length<0 读到末尾.
	OpenRange(ctx context.Context, path, name string, off, length int64) (io.ReadCloser, error)
	// Put 写入文件，size 未知时传 -1.
	Put(ctx context.Context, path, name string, r io.Reader, size int64) error
	// Delete 删除文件，不存在时不报错.
	Delete(ctx context.Context, path, name string) error
	// List 列出 path 下以 prefix 开头的文件.
	List(ctx context.Context, path, prefix string) ([]Info, error)
	// Kind 返回实现名称.
	Kind() string
}

// New 根据存储配置创建 Store.
func New(cfg *configs.StorageConfig, s3 *s3c.Client) (Store, error) {
	switch cfg.Mode {
	case configs.StorageModeLocal, "":
		return NewLocal(cfg.Root), nil
	case configs.StorageModeS3:
		if s3 == nil {
			return nil, fmt.Errorf("storage mode s3 requires an s3 client")
		}

		return NewS3(s3.Client, s3.Bucket(), cfg.Root), nil
	default:
		return nil, fmt.Errorf("unsupported storage mode: %s", cfg.Mode)
	}
}

// IsCompressed 根据文件名判断是否 bzip2 压缩.
func IsCompressed(name string) bool {
	return strings.HasSuffix(name, CompressedSuffix)
}

// TrimCompressed 去掉 .bz2 扩展名.
func TrimCompressed(name string) string {
	return strings.TrimSuffix(name, CompressedSuffix)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var err error

	for _, c := range r.closers {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}

	return err
}
