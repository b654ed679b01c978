package model

import "time"

// UsageLog 每个请求一行的审计记录.
type UsageLog struct {
	ID         uint      `gorm:"primaryKey"                json:"id"`
	UTDatetime time.Time `gorm:"column:utdatetime;index"   json:"utdatetime"`
	UserID     *uint     `gorm:"index"                     json:"user_id"`
	IPAddress  string    `gorm:"size:64"                   json:"ip_address"`
	UserAgent  string    `gorm:"type:text"                 json:"user_agent"`
	Referer    string    `gorm:"type:text"                 json:"referer"`
	Method     string    `gorm:"size:16"                   json:"method"`
	URI        string    `gorm:"type:text"                 json:"uri"`
	ThisKind   string    `gorm:"column:this;size:64;index" json:"this"`
	Status     int       `gorm:"index"                     json:"status"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `gorm:"column:duration_ms"        json:"duration_ms"`
	RequestID  string    `gorm:"size:64;index"             json:"request_id"`
	Notes      string    `gorm:"type:text"                 json:"notes"`
}

// TableName 表名.
func (UsageLog) TableName() string { return "usagelog" }

// QueryLog 选择查询的审计记录.
type QueryLog struct {
	ID          uint      `gorm:"primaryKey"               json:"id"`
	UsageLogID  uint      `gorm:"column:usagelog_id;index" json:"usagelog_id"`
	Summarytype string    `gorm:"size:32"                  json:"summarytype"`
	Selection   string    `gorm:"type:text"                json:"selection"`
	NumResults  int       `gorm:"column:numresults"        json:"numresults"`
	QueryStart  time.Time `json:"query_started"`
	QueryEnd    time.Time `json:"query_completed"`
}

// TableName 表名.
func (QueryLog) TableName() string { return "querylog" }

// DownloadLog tar 下载的审计记录.
type DownloadLog struct {
	ID          uint      `gorm:"primaryKey"               json:"id"`
	UsageLogID  uint      `gorm:"column:usagelog_id;index" json:"usagelog_id"`
	Selection   string    `gorm:"type:text"                json:"selection"`
	NumResults  int       `gorm:"column:numresults"        json:"numresults"`
	Sending     int       `json:"sending_files"`
	Denied      int       `json:"numdenied"`
	Bytes       int64     `json:"bytes"`
	Truncated   bool      `json:"truncated"`
	QueryStart  time.Time `json:"query_started"`
	DownloadEnd time.Time `json:"download_completed"`
	Aborted     bool      `json:"aborted"`
}

// TableName 表名.
func (DownloadLog) TableName() string { return "downloadlog" }

// FileDownloadLog 单文件下载的审计记录.
type FileDownloadLog struct {
	ID          uint      `gorm:"primaryKey"               json:"id"`
	UsageLogID  uint      `gorm:"column:usagelog_id;index" json:"usagelog_id"`
	DiskFileID  uint      `gorm:"column:diskfile_id;index" json:"diskfile_id"`
	Filename    string    `gorm:"size:255;index"           json:"diskfile_filename"`
	FileMD5     string    `gorm:"size:32"                  json:"diskfile_file_md5"`
	FileSize    int64     `json:"diskfile_file_size"`
	Released    bool      `json:"released"`
	PIAccess    bool      `gorm:"column:pi_access"         json:"pi_access"`
	StaffAccess bool      `json:"staff_access"`
	MagicAccess bool      `json:"magic_access"`
	EngAccess   bool      `json:"eng_access"`
	CanHaveIt   bool      `json:"canhaveit"`
	UTDatetime  time.Time `gorm:"column:ut_datetime"       json:"ut_datetime"`
}

// TableName 表名.
func (FileDownloadLog) TableName() string { return "filedownloadlog" }

// FileUploadLog 上传的审计记录.
type FileUploadLog struct {
	ID            uint      `gorm:"primaryKey"               json:"id"`
	UsageLogID    uint      `gorm:"column:usagelog_id;index" json:"usagelog_id"`
	Filename      string    `gorm:"size:255;index"           json:"filename"`
	Size          int64     `json:"size"`
	MD5           string    `gorm:"size:32"                  json:"md5"`
	Processed     bool      `json:"processed_cal"`
	IngestQueueID *uint     `gorm:"column:ingestqueue_id"    json:"ingestqueue_id"`
	TransferStart time.Time `json:"transfer_started"`
	TransferEnd   time.Time `json:"transfer_completed"`
	Notes         string    `gorm:"type:text"                json:"notes"`
}

// TableName 表名.
func (FileUploadLog) TableName() string { return "fileuploadlog" }
