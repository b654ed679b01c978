package model

import "time"

// CalCache 物化后的定标关联边 (obs_hid, cal_hid, caltype, rank).
type CalCache struct {
	ID      uint   `gorm:"primaryKey"                        json:"id"`
	ObsHID  uint   `gorm:"column:obs_hid;not null;index"     json:"obs_hid"`
	CalHID  uint   `gorm:"column:cal_hid;not null;index"     json:"cal_hid"`
	Caltype string `gorm:"size:64;not null;index"            json:"caltype"`
	Rank    int    `gorm:"not null"                          json:"rank"`
	// IsPrimary 是否首层关联结果，递归得到的为 false
	IsPrimary bool `gorm:"column:is_primary_cal" json:"is_primary_cal"`
}

// TableName 表名.
func (CalCache) TableName() string { return "calcache" }

// ProcessingTag 处理流水线标签目录. 只有 Raw 或已发布的标签可作为定标候选.
type ProcessingTag struct {
	ID        uint      `gorm:"primaryKey"                json:"id"`
	Tag       string    `gorm:"size:64;uniqueIndex"       json:"tag"`
	Domain    string    `gorm:"size:64"                   json:"domain"`
	Priority  int       `gorm:"not null;default:0"        json:"priority"`
	Published bool      `gorm:"not null;default:false"    json:"published"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 表名.
func (ProcessingTag) TableName() string { return "processingtag" }
