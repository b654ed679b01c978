// Package types 定义 HTTP 接口的请求与响应结构.
package types

import "time"

// FileListItem jsonfilelist 的一行，描述一个 DiskFile.
type FileListItem struct {
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Compressed bool      `json:"compressed"`
	FileSize   int64     `json:"file_size"`
	DataSize   int64     `json:"data_size"`
	FileMD5    string    `json:"file_md5"`
	DataMD5    string    `json:"data_md5"`
	Lastmod    time.Time `json:"lastmod"`
	Entrytime  time.Time `json:"entrytime"`
	MdReady    bool      `json:"mdready"`
	// Size 与 MD5 是 file_size 与 file_md5 的旧名
	Size int64  `json:"size"`
	MD5  string `json:"md5"`
	// PendingIngest 同名文件在 ingest 队列中等待处理
	PendingIngest bool `json:"pending_ingest"`
}

// FileNameItem jsonfilenames 的一行.
type FileNameItem struct {
	Filename string `json:"filename"`
}

// SummaryItem jsonsummary 的一行: DiskFile 字段加上大部分 Header 字段.
// 坐标受保护且请求方无权访问时，坐标相关字段为 null.
type SummaryItem struct {
	FileListItem

	ProgramID           string     `json:"program_id"`
	Engineering         bool       `json:"engineering"`
	ScienceVerification bool       `json:"science_verification"`
	CalibrationProgram  bool       `json:"calibration_program"`
	ObservationID       string     `json:"observation_id"`
	DataLabel           string     `json:"data_label"`
	Telescope           string     `json:"telescope"`
	Instrument          string     `json:"instrument"`
	UTDatetime          *time.Time `json:"ut_datetime"`
	LocalTime           string     `json:"local_time"`
	ObservationType     string     `json:"observation_type"`
	ObservationClass    string     `json:"observation_class"`
	Object              string     `json:"object"`
	RA                  *float64   `json:"ra"`
	Dec                 *float64   `json:"dec"`
	Azimuth             *float64   `json:"azimuth"`
	Elevation           *float64   `json:"elevation"`
	CassRotatorPA       *float64   `json:"cass_rotator_pa"`
	Airmass             *float64   `json:"airmass"`
	FilterName          string     `json:"filter_name"`
	ExposureTime        *float64   `json:"exposure_time"`
	Disperser           string     `json:"disperser"`
	Camera              string     `json:"camera"`
	CentralWavelength   *float64   `json:"central_wavelength"`
	WavelengthBand      string     `json:"wavelength_band"`
	FocalPlaneMask      string     `json:"focal_plane_mask"`
	DetectorBinning     string     `json:"detector_binning"`
	DetectorROISetting  string     `json:"detector_roi_setting"`
	Spectroscopy        bool       `json:"spectroscopy"`
	Mode                string     `json:"mode"`
	AdaptiveOptics      bool       `json:"adaptive_optics"`
	LaserGuideStar      bool       `json:"laser_guide_star"`
	WavefrontSensor     string     `json:"wavefront_sensor"`
	GcalLamp            string     `json:"gcal_lamp"`
	RawIQ               *int       `json:"raw_iq"`
	RawCC               *int       `json:"raw_cc"`
	RawWV               *int       `json:"raw_wv"`
	RawBG               *int       `json:"raw_bg"`
	QAState             string     `json:"qa_state"`
	Release             *time.Time `json:"release"`
	Reduction           string     `json:"reduction"`
	Types               string     `json:"types"`
	PhotStandard        bool       `json:"phot_standard"`

	// ResultsTruncated 只出现在开放查询结果的最后一行
	ResultsTruncated bool `json:"results_truncated,omitempty"`
}

// ErrorResponse 错误响应.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
