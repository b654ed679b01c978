package model

import (
	"sort"
	"strings"
	"time"
)

// UTDatetimeSecsEpoch ut_datetime_secs 的起点.
var UTDatetimeSecsEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Header 每个 DiskFile 的归一化描述符. 创建后不修改，替换通过新的 DiskFile 完成.
type Header struct {
	ID         uint      `gorm:"primaryKey"                     json:"id"`
	DiskFileID uint      `gorm:"column:diskfile_id;not null;index" json:"diskfile_id"`
	DiskFile   *DiskFile `gorm:"foreignKey:DiskFileID"          json:"-"`

	ProgramID           string `gorm:"size:64;index"  json:"program_id"`
	ObservationID       string `gorm:"size:64;index"  json:"observation_id"`
	DataLabel           string `gorm:"size:80;index"  json:"data_label"`
	Engineering         bool   `gorm:"index"          json:"engineering"`
	ScienceVerification bool   `gorm:"index"          json:"science_verification"`
	CalibrationProgram  bool   `gorm:"index"          json:"calibration_program"`
	Telescope           string `gorm:"size:32;index"  json:"telescope"`
	Instrument          string `gorm:"size:32;index"  json:"instrument"`

	UTDatetime     *time.Time `gorm:"index"   json:"ut_datetime"`
	UTDatetimeSecs *int64     `gorm:"index"   json:"ut_datetime_secs"`
	LocalTime      string     `gorm:"size:16" json:"local_time"`

	ObservationType  string   `gorm:"size:32;index"  json:"observation_type"`
	ObservationClass string   `gorm:"size:32;index"  json:"observation_class"`
	Object           string   `gorm:"size:255;index" json:"object"`
	RA               *float64 `gorm:"index"          json:"ra"`
	Dec              *float64 `gorm:"index"          json:"dec"`
	Azimuth          *float64 `json:"azimuth"`
	Elevation        *float64 `json:"elevation"`
	CassRotatorPA    *float64 `json:"cass_rotator_pa"`
	Airmass          *float64 `json:"airmass"`

	FilterName        string   `gorm:"size:64;index" json:"filter_name"`
	ExposureTime      *float64 `json:"exposure_time"`
	Disperser         string   `gorm:"size:64;index" json:"disperser"`
	Camera            string   `gorm:"size:64;index" json:"camera"`
	CentralWavelength *float64 `gorm:"index"         json:"central_wavelength"`
	WavelengthBand    string   `gorm:"size:16"       json:"wavelength_band"`
	FocalPlaneMask    string   `gorm:"size:64;index" json:"focal_plane_mask"`
	PupilMask         string   `gorm:"size:64"       json:"pupil_mask"`

	DetectorBinning          string `gorm:"size:16" json:"detector_binning"`
	DetectorROISetting       string `gorm:"size:64" json:"detector_roi_setting"`
	DetectorGainSetting      string `gorm:"size:16" json:"detector_gain_setting"`
	DetectorReadspeedSetting string `gorm:"size:32" json:"detector_readspeed_setting"`
	DetectorWelldepthSetting string `gorm:"size:16" json:"detector_welldepth_setting"`
	DetectorReadmodeSetting  string `gorm:"size:32" json:"detector_readmode_setting"`
	Coadds                   *int   `json:"coadds"`

	Spectroscopy           bool       `gorm:"index"         json:"spectroscopy"`
	Mode                   string     `gorm:"size:16;index" json:"mode"`
	AdaptiveOptics         bool       `json:"adaptive_optics"`
	LaserGuideStar         bool       `json:"laser_guide_star"`
	WavefrontSensor        string     `gorm:"size:32"       json:"wavefront_sensor"`
	GcalLamp               string     `gorm:"size:32"       json:"gcal_lamp"`
	RawIQ                  *int       `json:"raw_iq"`
	RawCC                  *int       `json:"raw_cc"`
	RawWV                  *int       `json:"raw_wv"`
	RawBG                  *int       `json:"raw_bg"`
	QAState                string     `gorm:"size:16;index" json:"qa_state"`
	Release                *time.Time `gorm:"index"         json:"release"`
	Reduction              string     `gorm:"size:32;index" json:"reduction"`
	SiteMonitoring         bool       `json:"site_monitoring"`
	Types                  string     `gorm:"type:text"     json:"types"`
	PhotStandard           bool       `json:"phot_standard"`
	ProprietaryCoordinates bool       `json:"proprietary_coordinates"`
	PreImage               bool       `json:"pre_image"`
	// Processing 处理模式: Raw/Quick-Look/Science-Quality/Failed
	Processing    string `gorm:"size:32;index" json:"processing"`
	ProcessingTag string `gorm:"size:64;index" json:"processing_tag"`
}

// TableName 表名.
func (Header) TableName() string { return "header" }

// TagSet 返回 Types 字段解析出的标签集合.
func (h *Header) TagSet() map[string]struct{} {
	return ParseTypes(h.Types)
}

// HasTag 是否包含某个 astrodata 标签.
func (h *Header) HasTag(tag string) bool {
	_, ok := h.TagSet()[tag]
	return ok
}

// FormatTypes 将标签集合编码为排序后的逗号分隔文本.
func FormatTypes(tags []string) string {
	uniq := make(map[string]struct{}, len(tags))

	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			uniq[t] = struct{}{}
		}
	}

	out := make([]string, 0, len(uniq))
	for t := range uniq {
		out = append(out, t)
	}

	sort.Strings(out)

	return strings.Join(out, ",")
}

// ParseTypes 解析 FormatTypes 生成的文本.
func ParseTypes(s string) map[string]struct{} {
	out := make(map[string]struct{})

	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out[t] = struct{}{}
		}
	}

	return out
}

// SecsSinceEpoch 将时间换算为 ut_datetime_secs.
func SecsSinceEpoch(t time.Time) int64 {
	return int64(t.Sub(UTDatetimeSecsEpoch) / time.Second)
}

// Footprint 由 WCS 推得的天区多边形，每个扩展一行.
type Footprint struct {
	ID        uint   `gorm:"primaryKey"     json:"id"`
	HeaderID  uint   `gorm:"not null;index" json:"header_id"`
	Extension string `gorm:"size:32"        json:"extension"`
	// Area 多边形顶点 "ra dec, ra dec, ..."，单位度
	Area   string  `gorm:"type:text" json:"area"`
	RAMin  float64 `gorm:"index"     json:"ra_min"`
	RAMax  float64 `gorm:"index"     json:"ra_max"`
	DecMin float64 `gorm:"index"     json:"dec_min"`
	DecMax float64 `gorm:"index"     json:"dec_max"`
}

// TableName 表名.
func (Footprint) TableName() string { return "footprint" }
