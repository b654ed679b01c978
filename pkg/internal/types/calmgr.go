package types

import (
	"encoding/xml"
	"time"
)

// CalMgrRequest jsoncalmgr POST 的 JSON 负载. Types 是 Tags 的旧名.
type CalMgrRequest struct {
	Descriptors map[string]any `json:"descriptors" binding:"required"`
	Tags        []string       `json:"tags"`
	Types       []string       `json:"types"`
}

// CalMgrCal 一个定标结果. URL 为空表示文件已不在存储上.
type CalMgrCal struct {
	Caltype  string `json:"caltype"  xml:"caltype"`
	Label    string `json:"label"    xml:"datalabel"`
	Filename string `json:"filename" xml:"filename"`
	MD5      string `json:"md5"      xml:"md5"`
	URL      string `json:"url"      xml:"url"`
}

// CalMgrDataset 一个科学帧的全部定标结果，按定标类型与次序排列.
type CalMgrDataset struct {
	Label        string      `json:"label"              xml:"datalabel"`
	Filename     string      `json:"filename,omitempty" xml:"filename,omitempty"`
	MD5          string      `json:"md5,omitempty"      xml:"md5,omitempty"`
	Calibrations []CalMgrCal `json:"calibrations"       xml:"calibration"`
	// Missing 没有找到结果的定标类型
	Missing []string `json:"missing,omitempty" xml:"missing,omitempty"`
	// Failed 关联出错的定标类型
	Failed []string `json:"failed,omitempty" xml:"failed,omitempty"`
}

// CalMgrResponse calmgr 的响应，XML 与 JSON 共用.
type CalMgrResponse struct {
	XMLName   xml.Name        `json:"-"         xml:"calibration_associations"`
	Machine   string          `json:"machine"   xml:"machine,attr"`
	Method    string          `json:"method"    xml:"method,attr"`
	Generated time.Time       `json:"generated" xml:"generated,attr"`
	Datasets  []CalMgrDataset `json:"datasets"  xml:"dataset"`
}
