package workqueue

import (
	"time"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// 各队列的具体类型.
type (
	IngestQueue   = Queue[model.IngestQueueEntry, *model.IngestQueueEntry]
	ExportQueue   = Queue[model.ExportQueueEntry, *model.ExportQueueEntry]
	PreviewQueue  = Queue[model.PreviewQueueEntry, *model.PreviewQueueEntry]
	CalCacheQueue = Queue[model.CalCacheQueueEntry, *model.CalCacheQueueEntry]
	FileopsQueue  = Queue[model.FileopsQueueEntry, *model.FileopsQueueEntry]
)

// NewIngestEntry 构造 ingest 条目. delay 大于零时推迟处理.
func NewIngestEntry(filename, path string, force, forceMD5 bool, now time.Time, delay time.Duration) *model.IngestQueueEntry {
	e := &model.IngestQueueEntry{Filename: filename, Path: path, Force: force, ForceMD5: forceMD5}
	e.Sortkey = gemini.Sortkey(filename)

	if delay > 0 {
		e.After = now.Add(delay).UTC()
	}

	return e
}

// NewExportEntry 构造 export 条目，目的地优先级进入排序键.
func NewExportEntry(filename, path, destination string, priority int) *model.ExportQueueEntry {
	e := &model.ExportQueueEntry{Filename: filename, Path: path, Destination: destination}
	e.Sortkey = gemini.ExportSortkey(filename, priority)

	return e
}

// NewPreviewEntry 构造 preview 条目.
func NewPreviewEntry(diskFileID uint, filename string, force bool) *model.PreviewQueueEntry {
	e := &model.PreviewQueueEntry{DiskFileID: diskFileID, Filename: filename, Force: force}
	e.Sortkey = gemini.Sortkey(filename)

	return e
}

// NewCalCacheEntry 构造 calcache 条目.
func NewCalCacheEntry(obsHID uint, filename string) *model.CalCacheQueueEntry {
	e := &model.CalCacheQueueEntry{ObsHID: obsHID, Filename: filename}
	e.Sortkey = gemini.Sortkey(filename)

	return e
}

// NewFileopsEntry 构造 fileops 条目. filename 为空时不与其他条目互斥.
func NewFileopsEntry(filename, request string, responseRequired bool) *model.FileopsQueueEntry {
	e := &model.FileopsQueueEntry{Filename: filename, Request: request, ResponseRequired: responseRequired}
	e.Sortkey = gemini.Sortkey(filename)

	return e
}
