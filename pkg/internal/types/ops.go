package types

import "github.com/yeisme/fitsvault/pkg/internal/workqueue"

// UploadVerification upload_file 的回执.
type UploadVerification struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
}

// HeaderUpdateItem update_headers 中的一个文件. filename 与 data_label 二选一.
type HeaderUpdateItem struct {
	Filename  string         `json:"filename,omitempty"   rule:"omitempty,filename"`
	DataLabel string         `json:"data_label,omitempty" rule:"omitempty,datalabel"`
	Values    map[string]any `json:"values"`
}

// UpdateHeadersRequest update_headers 的新格式负载. 旧格式直接是 HeaderUpdateItem 列表.
type UpdateHeadersRequest struct {
	Request []HeaderUpdateItem `json:"request"`
}

// UpdateHeadersResult update_headers 对每个文件的结果.
type UpdateHeadersResult struct {
	ID     string `json:"id,omitempty"`
	Result bool   `json:"result"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QueueStatusResponse queuestatus 的响应.
type QueueStatusResponse struct {
	Queues []workqueue.Status `json:"queues"`
}

// CurationRow 一个违反目录约束的 DiskFile.
type CurationRow struct {
	DiskFileID uint   `json:"diskfile_id"`
	FileID     uint   `json:"file_id"`
	Filename   string `json:"filename"`
	DataLabel  string `json:"data_label,omitempty"`
}

// CurationReport 目录约束检查结果，各列表为空时表示没有问题.
type CurationReport struct {
	DuplicateDataLabels  []CurationRow `json:"duplicate_datalabels"`
	DuplicateCanonicals  []CurationRow `json:"duplicate_canonicals"`
	DuplicatePresent     []CurationRow `json:"duplicate_present"`
	PresentNotCanonical  []CurationRow `json:"present_not_canonical"`
	CanonicalNotPresent  []CurationRow `json:"canonical_not_present"`
	ExcludedEngineering  bool          `json:"excluded_engineering"`
	RestrictedInstrument string        `json:"restricted_instrument,omitempty"`
}

// Clean 没有发现任何问题.
func (r *CurationReport) Clean() bool {
	return len(r.DuplicateDataLabels)+len(r.DuplicateCanonicals)+len(r.DuplicatePresent)+
		len(r.PresentNotCanonical)+len(r.CanonicalNotPresent) == 0
}

// HealthResponse 单个组件的健康状态.
type HealthResponse struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// HealthReport 全部组件的健康状态，任一必需组件异常时 Status 为 degraded.
type HealthReport struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Components []HealthResponse `json:"components"`
}

// MessageResponse 只有说明文本的响应.
type MessageResponse struct {
	Message string `json:"message"`
}
