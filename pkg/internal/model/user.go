package model

import "time"

// Program 项目登记表.
type Program struct {
	ID        uint      `gorm:"primaryKey"              json:"id"`
	ProgramID string    `gorm:"size:64;uniqueIndex"     json:"program_id"`
	PIName    string    `gorm:"column:pi_name;size:255" json:"pi_name"`
	PICoI     string    `gorm:"column:pi_coi;type:text" json:"pi_coi"`
	Title     string    `gorm:"type:text"               json:"title"`
	Abstract  string    `gorm:"type:text"               json:"abstract"`
	TooType   string    `gorm:"size:32"                 json:"too_type"`
	Partners  string    `gorm:"size:255"                json:"partners"`
	Notify    string    `gorm:"type:text"               json:"notify"`
	Updated   time.Time `json:"updated"`
}

// TableName 表名.
func (Program) TableName() string { return "program" }

// Publication 论文.
type Publication struct {
	ID      uint   `gorm:"primaryKey"          json:"id"`
	Bibcode string `gorm:"size:32;uniqueIndex" json:"bibcode"`
	Author  string `gorm:"type:text"           json:"author"`
	Title   string `gorm:"type:text"           json:"title"`
	Year    int    `json:"year"`
	Journal string `gorm:"size:255"            json:"journal"`
}

// TableName 表名.
func (Publication) TableName() string { return "publication" }

// ProgramPublication Program 与 Publication 的多对多关联.
type ProgramPublication struct {
	ID            uint `gorm:"primaryKey"     json:"id"`
	ProgramID     uint `gorm:"not null;index" json:"program_id"`
	PublicationID uint `gorm:"not null;index" json:"publication_id"`
}

// TableName 表名.
func (ProgramPublication) TableName() string { return "programpublication" }

// User 归档用户账户.
type User struct {
	ID       uint   `gorm:"primaryKey"           json:"id"`
	Username string `gorm:"size:64;uniqueIndex"  json:"username"`
	Fullname string `gorm:"size:255"             json:"fullname"`
	Email    string `gorm:"size:255;index"       json:"email"`
	// Staff 可访问全部数据
	Staff bool `gorm:"column:gemini_staff" json:"gemini_staff"`
	// Superuser 可执行管理操作 (队列、标签、头更新)
	Superuser    bool       `json:"superuser"`
	FileUploader bool       `json:"file_uploader"`
	SessionToken string     `gorm:"column:cookie;size:128;index" json:"-"`
	APIToken     string     `gorm:"column:api_token;size:128;index" json:"-"`
	AccountType  string     `gorm:"size:32" json:"account_type"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login"`
}

// TableName 表名.
func (User) TableName() string { return "archiveuser" }

// UserProgram 用户对项目/观测/文件的访问授权. 三个字段中一个非空.
type UserProgram struct {
	ID            uint   `gorm:"primaryKey"     json:"id"`
	UserID        uint   `gorm:"not null;index" json:"user_id"`
	ProgramID     string `gorm:"size:64;index"  json:"program_id"`
	ObservationID string `gorm:"size:64;index"  json:"observation_id"`
	Filename      string `gorm:"size:255;index" json:"filename"`
}

// TableName 表名.
func (UserProgram) TableName() string { return "userprogram" }
