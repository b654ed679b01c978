// Package s3 连接 S3 兼容对象存储，文件本体在 storage.mode=s3 时存放于此.
package s3

import (
	"context"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yeisme/fitsvault/pkg/configs"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// Client 包装 MinIO 客户端并记住归档使用的 bucket.
type Client struct {
	*minio.Client
	bucket string
}

// New 连接对象存储并确认 bucket 可用.
func New(ctx context.Context, cfg *configs.S3Config) (*Client, error) {
	host, secure := cfg.HostAndSecure()

	cli, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	cli.SetAppInfo("fitsvault", configs.AppVersion)

	exists, err := cli.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.BucketName, err)
	}

	log := nlog.Component("s3")

	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %s does not exist and s3.create_bucket is off", cfg.BucketName)
		}

		if err := cli.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.BucketName, err)
		}

		log.Info().Str("bucket", cfg.BucketName).Msg("bucket created")
	}

	log.Info().Str("endpoint", host).Bool("tls", secure).Str("bucket", cfg.BucketName).Msg("object storage connected")

	return &Client{Client: cli, bucket: cfg.BucketName}, nil
}

// Bucket 文件本体所在的 bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

// HealthCheck 只检查归档 bucket，不要求列出全部 bucket 的权限.
func (c *Client) HealthCheck(ctx context.Context) error {
	ok, err := c.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("bucket %s not found", c.bucket)
	}

	return nil
}
