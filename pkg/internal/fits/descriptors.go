// Package fits 读取 FITS 头并归一化为描述符，提供逐字头文本、关键字原位修改、
// 元数据校验、WCS 足迹与预览像素读取.
package fits

import (
	"time"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// Descriptors 从 FITS 头推得的类型化描述符. 缺失或无法解析的关键字保持零值 / nil.
// json 名与定标管理器 POST 的描述符字典键一致.
type Descriptors struct {
	Telescope     string `json:"telescope,omitempty"`
	Instrument    string `json:"instrument,omitempty"`
	ProgramID     string `json:"program_id,omitempty"`
	ObservationID string `json:"observation_id,omitempty"`
	DataLabel     string `json:"data_label,omitempty"`

	UTDatetime *time.Time `json:"ut_datetime,omitempty"`
	LocalTime  string     `json:"local_time,omitempty"`

	ObservationType  string   `json:"observation_type,omitempty"`
	ObservationClass string   `json:"observation_class,omitempty"`
	Object           string   `json:"object,omitempty"`
	RA               *float64 `json:"ra,omitempty"`
	Dec              *float64 `json:"dec,omitempty"`
	Azimuth          *float64 `json:"azimuth,omitempty"`
	Elevation        *float64 `json:"elevation,omitempty"`
	CassRotatorPA    *float64 `json:"cass_rotator_pa,omitempty"`
	Airmass          *float64 `json:"airmass,omitempty"`

	FilterName        string   `json:"filter_name,omitempty"`
	ExposureTime      *float64 `json:"exposure_time,omitempty"`
	Disperser         string   `json:"disperser,omitempty"`
	Camera            string   `json:"camera,omitempty"`
	CentralWavelength *float64 `json:"central_wavelength,omitempty"`
	WavelengthBand    string   `json:"wavelength_band,omitempty"`
	FocalPlaneMask    string   `json:"focal_plane_mask,omitempty"`
	PupilMask         string   `json:"pupil_mask,omitempty"`
	LyotStop          string   `json:"lyot_stop,omitempty"`

	DetectorBinning          string `json:"detector_binning,omitempty"`
	DetectorXBin             *int   `json:"detector_x_bin,omitempty"`
	DetectorYBin             *int   `json:"detector_y_bin,omitempty"`
	DetectorROISetting       string `json:"detector_roi_setting,omitempty"`
	DetectorGainSetting      string `json:"gain_setting,omitempty"`
	DetectorReadspeedSetting string `json:"read_speed_setting,omitempty"`
	DetectorWelldepthSetting string `json:"well_depth_setting,omitempty"`
	DetectorReadmodeSetting  string `json:"read_mode,omitempty"`
	Coadds                   *int   `json:"coadds,omitempty"`
	DataSection              string `json:"data_section,omitempty"`
	ArrayName                string `json:"array_name,omitempty"`
	AmpReadArea              string `json:"amp_read_area,omitempty"`

	Spectroscopy    bool   `json:"spectroscopy,omitempty"`
	Mode            string `json:"mode,omitempty"`
	AdaptiveOptics  bool   `json:"adaptive_optics,omitempty"`
	LaserGuideStar  bool   `json:"laser_guide_star,omitempty"`
	WavefrontSensor string `json:"wavefront_sensor,omitempty"`
	GcalLamp        string `json:"gcal_lamp,omitempty"`

	Nodandshuffle      bool `json:"nodandshuffle,omitempty"`
	NodCount           *int `json:"nod_count,omitempty"`
	NodPixels          *int `json:"nod_pixels,omitempty"`
	Prepared           bool `json:"prepared,omitempty"`
	OverscanSubtracted bool `json:"overscan_subtracted,omitempty"`
	OverscanTrimmed    bool `json:"overscan_trimmed,omitempty"`

	// Arm GHOST 的 red/blue/slitv
	Arm string `json:"arm,omitempty"`

	RawIQ          *int       `json:"raw_iq,omitempty"`
	RawCC          *int       `json:"raw_cc,omitempty"`
	RawWV          *int       `json:"raw_wv,omitempty"`
	RawBG          *int       `json:"raw_bg,omitempty"`
	QAState        string     `json:"qa_state,omitempty"`
	Release        *time.Time `json:"release,omitempty"`
	Reduction      string     `json:"reduction,omitempty"`
	Processing     string     `json:"processing,omitempty"`
	ProcessingTag  string     `json:"processing_tag,omitempty"`
	PreImage       bool       `json:"pre_image,omitempty"`
	PropCoords     bool       `json:"proprietary_coordinates,omitempty"`
	PhotStandard   bool       `json:"phot_standard,omitempty"`
	SiteMonitoring bool       `json:"site_monitoring,omitempty"`

	// Tags astrodata 风格的标签集合
	Tags []string `json:"tags,omitempty"`

	Footprints []model.Footprint `json:"-"`
}

// HasTag 是否带有某个标签.
func (d *Descriptors) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Header 将描述符转换为 Header 行. 程序号相关的布尔字段由调用方补充.
func (d *Descriptors) Header(diskFileID uint) *model.Header {
	h := &model.Header{
		DiskFileID:               diskFileID,
		ProgramID:                d.ProgramID,
		ObservationID:            d.ObservationID,
		DataLabel:                d.DataLabel,
		Telescope:                d.Telescope,
		Instrument:               d.Instrument,
		UTDatetime:               d.UTDatetime,
		LocalTime:                d.LocalTime,
		ObservationType:          d.ObservationType,
		ObservationClass:         d.ObservationClass,
		Object:                   d.Object,
		RA:                       d.RA,
		Dec:                      d.Dec,
		Azimuth:                  d.Azimuth,
		Elevation:                d.Elevation,
		CassRotatorPA:            d.CassRotatorPA,
		Airmass:                  d.Airmass,
		FilterName:               d.FilterName,
		ExposureTime:             d.ExposureTime,
		Disperser:                d.Disperser,
		Camera:                   d.Camera,
		CentralWavelength:        d.CentralWavelength,
		WavelengthBand:           d.WavelengthBand,
		FocalPlaneMask:           d.FocalPlaneMask,
		PupilMask:                d.PupilMask,
		DetectorBinning:          d.DetectorBinning,
		DetectorROISetting:       d.DetectorROISetting,
		DetectorGainSetting:      d.DetectorGainSetting,
		DetectorReadspeedSetting: d.DetectorReadspeedSetting,
		DetectorWelldepthSetting: d.DetectorWelldepthSetting,
		DetectorReadmodeSetting:  d.DetectorReadmodeSetting,
		Coadds:                   d.Coadds,
		Spectroscopy:             d.Spectroscopy,
		Mode:                     d.Mode,
		AdaptiveOptics:           d.AdaptiveOptics,
		LaserGuideStar:           d.LaserGuideStar,
		WavefrontSensor:          d.WavefrontSensor,
		GcalLamp:                 d.GcalLamp,
		RawIQ:                    d.RawIQ,
		RawCC:                    d.RawCC,
		RawWV:                    d.RawWV,
		RawBG:                    d.RawBG,
		QAState:                  d.QAState,
		Release:                  d.Release,
		Reduction:                d.Reduction,
		SiteMonitoring:           d.SiteMonitoring,
		Types:                    model.FormatTypes(d.Tags),
		PhotStandard:             d.PhotStandard,
		ProprietaryCoordinates:   d.PropCoords,
		PreImage:                 d.PreImage,
		Processing:               d.Processing,
		ProcessingTag:            d.ProcessingTag,
	}

	if d.UTDatetime != nil {
		secs := model.SecsSinceEpoch(*d.UTDatetime)
		h.UTDatetimeSecs = &secs
	}

	return h
}

// InstrumentRow 返回该仪器对应的子表行，无专用子表的仪器落入 VisitorInstrument.
// 没有仪器名时返回 nil.
func (d *Descriptors) InstrumentRow(headerID uint) any {
	switch d.Instrument {
	case "":
		return nil
	case "GMOS-N", "GMOS-S":
		return &model.Gmos{
			HeaderID:           headerID,
			Disperser:          d.Disperser,
			FilterName:         d.FilterName,
			DetectorXBin:       d.DetectorXBin,
			DetectorYBin:       d.DetectorYBin,
			ArrayName:          d.ArrayName,
			AmpReadArea:        d.AmpReadArea,
			ReadSpeedSetting:   d.DetectorReadspeedSetting,
			GainSetting:        d.DetectorGainSetting,
			FocalPlaneMask:     d.FocalPlaneMask,
			Nodandshuffle:      d.Nodandshuffle,
			NodCount:           d.NodCount,
			NodPixels:          d.NodPixels,
			Prepared:           d.Prepared,
			OverscanSubtracted: d.OverscanSubtracted,
			OverscanTrimmed:    d.OverscanTrimmed,
		}
	case "NIRI":
		return &model.Niri{
			HeaderID:         headerID,
			Disperser:        d.Disperser,
			FilterName:       d.FilterName,
			ReadMode:         d.DetectorReadmodeSetting,
			WellDepthSetting: d.DetectorWelldepthSetting,
			DataSection:      d.DataSection,
			Coadds:           d.Coadds,
			Camera:           d.Camera,
			FocalPlaneMask:   d.FocalPlaneMask,
		}
	case "F2":
		return &model.F2{
			HeaderID:       headerID,
			Disperser:      d.Disperser,
			FilterName:     d.FilterName,
			LyotStop:       d.LyotStop,
			ReadMode:       d.DetectorReadmodeSetting,
			FocalPlaneMask: d.FocalPlaneMask,
		}
	case "GNIRS":
		return &model.Gnirs{
			HeaderID:         headerID,
			Disperser:        d.Disperser,
			FilterName:       d.FilterName,
			ReadMode:         d.DetectorReadmodeSetting,
			WellDepthSetting: d.DetectorWelldepthSetting,
			Camera:           d.Camera,
			FocalPlaneMask:   d.FocalPlaneMask,
		}
	}

	return instrumentRowOther(d, headerID)
}
