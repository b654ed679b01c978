package model

import (
	"strconv"
	"time"
)

// QueueName 队列名.
type QueueName string

const (
	QueueIngest   QueueName = "ingest"
	QueueExport   QueueName = "export"
	QueuePreview  QueueName = "preview"
	QueueCalCache QueueName = "calcache"
	QueueFileops  QueueName = "fileops"
)

// AllQueues 全部队列，顺序固定.
var AllQueues = []QueueName{QueueIngest, QueueExport, QueuePreview, QueueCalCache, QueueFileops}

// QueueState 所有队列表共享的状态列.
// LastFailed 为 1970-01-01 表示未失败；它参与唯一索引，使失败条目不阻塞新的待处理条目.
type QueueState struct {
	ID         uint      `gorm:"primaryKey"              json:"id"`
	InProgress bool      `gorm:"column:inprogress;index" json:"inprogress"`
	Failed     bool      `gorm:"index"                   json:"failed"`
	LastFailed time.Time `gorm:"column:last_failed"      json:"last_failed"`
	// Transient 失败可由冷却后的清扫自动重排
	Transient bool      `json:"transient"`
	Attempts  int       `json:"attempts"`
	Added     time.Time `json:"added"`
	After     time.Time `gorm:"index"          json:"after"`
	StartedAt time.Time `json:"started_at"`
	Sortkey   string    `gorm:"size:255;index" json:"sortkey"`
	Error     string    `gorm:"type:text"      json:"error"`
}

// GetID 返回条目主键.
func (s *QueueState) GetID() uint { return s.ID }

// State 返回状态列的指针.
func (s *QueueState) State() *QueueState { return s }

// QueueEntry 队列条目的公共行为.
type QueueEntry interface {
	TableName() string
	GetID() uint
	State() *QueueState
	// Target 逻辑目标，同一目标同时至多一个条目在处理中
	Target() string
}

// IngestQueueEntry ingest 队列条目.
type IngestQueueEntry struct {
	QueueState
	Filename string `gorm:"size:255;not null;index" json:"filename"`
	Path     string `gorm:"size:255"                json:"path"`
	// Force 即使 md5 相同也走 supersede 路径
	Force bool `json:"force"`
	// ForceMD5 跳过 lastmod 捷径，总是计算 md5
	ForceMD5 bool `gorm:"column:force_md5" json:"force_md5"`
	// HeaderUpdate 非空时为关键字修改请求 (JSON 对象)
	HeaderUpdate string `gorm:"type:text"    json:"header_update,omitempty"`
	MD5Before    string `gorm:"column:md5_before;size:32" json:"md5_before,omitempty"`
	MD5After     string `gorm:"column:md5_after;size:32"  json:"md5_after,omitempty"`
}

// TableName 表名.
func (IngestQueueEntry) TableName() string { return "ingestqueue" }

// Target 逻辑目标.
func (e *IngestQueueEntry) Target() string { return e.Filename }

// ExportQueueEntry export 队列条目，每个下游目的地一行.
type ExportQueueEntry struct {
	QueueState
	Filename    string `gorm:"size:255;not null;index" json:"filename"`
	Path        string `gorm:"size:255"                json:"path"`
	Destination string `gorm:"size:255;not null"       json:"destination"`
}

// TableName 表名.
func (ExportQueueEntry) TableName() string { return "exportqueue" }

// Target 逻辑目标，跨目的地按文件名互斥.
func (e *ExportQueueEntry) Target() string { return e.Filename }

// PreviewQueueEntry preview 队列条目.
type PreviewQueueEntry struct {
	QueueState
	DiskFileID uint   `gorm:"column:diskfile_id;not null;index" json:"diskfile_id"`
	Filename   string `gorm:"size:255;index"                    json:"filename"`
	Force      bool   `json:"force"`
}

// TableName 表名.
func (PreviewQueueEntry) TableName() string { return "previewqueue" }

// Target 逻辑目标.
func (e *PreviewQueueEntry) Target() string { return e.Filename }

// CalCacheQueueEntry calcache 队列条目，引用一个观测 Header.
type CalCacheQueueEntry struct {
	QueueState
	ObsHID   uint   `gorm:"column:obs_hid;not null;index" json:"obs_hid"`
	Filename string `gorm:"size:255"                      json:"filename"`
}

// TableName 表名.
func (CalCacheQueueEntry) TableName() string { return "calcachequeue" }

// Target 逻辑目标.
func (e *CalCacheQueueEntry) Target() string { return strconv.FormatUint(uint64(e.ObsHID), 10) }

// FileopsQueueEntry fileops 队列条目. Filename 可为空，非空时用于同文件互斥.
// ResponseRequired 为真时条目处理完不删除，由调用方读取 Response 后删除.
type FileopsQueueEntry struct {
	QueueState
	Filename         string `gorm:"size:255;index" json:"filename"`
	Request          string `gorm:"type:text;not null" json:"request"`
	Response         string `gorm:"type:text"      json:"response"`
	ResponseRequired bool   `json:"response_required"`
}

// TableName 表名.
func (FileopsQueueEntry) TableName() string { return "fileopsqueue" }

// Target 逻辑目标.
func (e *FileopsQueueEntry) Target() string { return e.Filename }
