package configs

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// StorageMode 文件本体存储方式.
type StorageMode string

const (
	StorageModeLocal StorageMode = "local" // 本地文件系统
	StorageModeS3    StorageMode = "s3"    // S3 兼容对象存储

	DefaultStorageRoot    = "/data/fitsstorage"
	DefaultProcessedPath  = "reduced_cals"
	DefaultPreviewPath    = "previews"
	DefaultUploadStaging  = "/data/upload_staging"
	DefaultCompressOnPut  = false
	DefaultStorageSection = "storage"
)

// StorageConfig 文件存储布局配置. 文件位于 root/{path}/{filename}.
type StorageConfig struct {
	Mode          StorageMode `mapstructure:"mode"           rule:"oneof=local s3"`
	Root          string      `mapstructure:"root"           rule:"required"`
	ProcessedPath string      `mapstructure:"processed_path"`
	PreviewPath   string      `mapstructure:"preview_path"`
	UploadStaging string      `mapstructure:"upload_staging"`
	// CompressOnPut 上传落盘时是否统一压缩为 .bz2
	CompressOnPut bool `mapstructure:"compress_on_put"`
}

// FullPath 返回本地模式下文件的完整路径.
func (c *StorageConfig) FullPath(path, name string) string {
	return filepath.Join(c.Root, path, name)
}

func (c *StorageConfig) setDefaults(v *viper.Viper) {
	v.SetDefault("storage.mode", StorageModeLocal)
	v.SetDefault("storage.root", DefaultStorageRoot)
	v.SetDefault("storage.processed_path", DefaultProcessedPath)
	v.SetDefault("storage.preview_path", DefaultPreviewPath)
	v.SetDefault("storage.upload_staging", DefaultUploadStaging)
	v.SetDefault("storage.compress_on_put", DefaultCompressOnPut)
}
