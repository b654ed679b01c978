package model

import (
	"time"
)

// File 逻辑文件，按去掉 .bz2 后的文件名唯一. 首次 ingest 时创建，之后不删除.
type File struct {
	ID   uint   `gorm:"primaryKey"                   json:"id"`
	Name string `gorm:"size:255;uniqueIndex;not null" json:"name"`
}

// TableName 表名.
func (File) TableName() string { return "file" }

// DiskFile 一个 File 的某个物理版本.
// 同一 File 任一时刻至多一个 canonical；canonical 必然 present.
type DiskFile struct {
	ID     uint  `gorm:"primaryKey"         json:"id"`
	FileID uint  `gorm:"not null;index"     json:"file_id"`
	File   *File `gorm:"foreignKey:FileID"  json:"-"`
	// Filename 磁盘上的文件名（可能带 .bz2）
	Filename string `gorm:"size:255;index" json:"filename"`
	Path     string `gorm:"size:255"       json:"path"`
	// Present 文件当前仍在存储上
	Present bool `gorm:"index" json:"present"`
	// Canonical 当前代表该 File 的版本
	Canonical bool `gorm:"index" json:"canonical"`
	// FileMD5/FileSize 描述磁盘字节
	FileMD5  string `gorm:"size:32" json:"file_md5"`
	FileSize int64  `json:"file_size"`
	// DataMD5/DataSize 描述解压后的内容
	DataMD5    string    `gorm:"size:32;index" json:"data_md5"`
	DataSize   int64     `json:"data_size"`
	Compressed bool      `json:"compressed"`
	Lastmod    time.Time `gorm:"index"         json:"lastmod"`
	Entrytime  time.Time `gorm:"index"         json:"entrytime"`
	IsFits     bool      `gorm:"column:isfits" json:"isfits"`
	// MdReady 元数据是否通过校验
	MdReady bool `gorm:"column:mdready;index" json:"mdready"`
}

// TableName 表名.
func (DiskFile) TableName() string { return "diskfile" }

// DiskFileReport 每个 DiskFile 的校验与元数据报告.
type DiskFileReport struct {
	ID         uint   `gorm:"primaryKey"            json:"id"`
	DiskFileID uint   `gorm:"column:diskfile_id;not null;uniqueIndex" json:"diskfile_id"`
	Validation string `gorm:"type:text"             json:"validation"`
	Metadata   string `gorm:"type:text"             json:"metadata"`
	// Errors 校验错误数
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// TableName 表名.
func (DiskFileReport) TableName() string { return "diskfilereport" }

// FullTextHeader FITS 头逐字文本，用于精确关键字搜索.
type FullTextHeader struct {
	ID         uint   `gorm:"primaryKey"           json:"id"`
	DiskFileID uint   `gorm:"column:diskfile_id;not null;uniqueIndex" json:"diskfile_id"`
	FullText   string `gorm:"type:text"            json:"fulltext"`
}

// TableName 表名.
func (FullTextHeader) TableName() string { return "fulltextheader" }

// Preview 预览图记录.
type Preview struct {
	ID         uint      `gorm:"primaryKey"     json:"id"`
	DiskFileID uint      `gorm:"column:diskfile_id;not null;index" json:"diskfile_id"`
	Filename   string    `gorm:"size:255;index" json:"filename"`
	Path       string    `gorm:"size:255"       json:"path"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 表名.
func (Preview) TableName() string { return "preview" }
