// Package model 定义归档目录的 gorm 模型: 文件与版本、头信息、仪器子表、定标缓存、
// 五个工作队列、项目与用户授权以及审计日志.
package model

import (
	"fmt"

	"gorm.io/gorm"
)

// Models 返回全部需要迁移的模型.
func Models() []any {
	return []any{
		&File{}, &DiskFile{}, &DiskFileReport{}, &FullTextHeader{}, &Preview{},
		&Header{}, &Footprint{},
		&Gmos{}, &Niri{}, &F2{}, &Gnirs{}, &Nifs{}, &Gsaoi{}, &Nici{}, &Gpi{},
		&Michelle{}, &Ghost{}, &Igrins{}, &VisitorInstrument{},
		&CalCache{}, &ProcessingTag{},
		&IngestQueueEntry{}, &ExportQueueEntry{}, &PreviewQueueEntry{},
		&CalCacheQueueEntry{}, &FileopsQueueEntry{},
		&Program{}, &Publication{}, &ProgramPublication{}, &User{}, &UserProgram{},
		&UsageLog{}, &QueryLog{}, &DownloadLog{}, &FileDownloadLog{}, &FileUploadLog{},
	}
}

// queueUniqueIndexes 每个队列防止重复待处理条目的唯一约束.
var queueUniqueIndexes = []struct {
	model   any
	table   string
	name    string
	columns string
}{
	{&IngestQueueEntry{}, "ingestqueue", "uq_ingestqueue_pending", "filename, path, inprogress, failed, last_failed"},
	{&ExportQueueEntry{}, "exportqueue", "uq_exportqueue_pending", "filename, path, destination, inprogress, failed, last_failed"},
	{&PreviewQueueEntry{}, "previewqueue", "uq_previewqueue_pending", "diskfile_id, inprogress, failed, last_failed"},
	{&CalCacheQueueEntry{}, "calcachequeue", "uq_calcachequeue_pending", "obs_hid, inprogress, failed, last_failed"},
}

// Migrate 迁移全部表并补齐队列唯一索引.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, idx := range queueUniqueIndexes {
		if db.Migrator().HasIndex(idx.model, idx.name) {
			continue
		}

		stmt := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	return nil
}
