// Package cal 为科学帧寻找候选定标帧.
//
// 输入是描述符向量与标签集合，按仪器分派到具体的定标类，每个定标类型由 CalQuery
// 组合出一条 SQL 查询. Associate 在此基础上对定标帧递归，AssociateCached 读取
// calcache 表得到同样的结果.
package cal

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// Descriptors 科学帧的描述符. Engineering 为 nil 时表示未知 (例如 calmgr POST).
type Descriptors struct {
	fits.Descriptors

	HeaderID    uint  `json:"header_id,omitempty"`
	Engineering *bool `json:"engineering,omitempty"`
}

// FromHeader 由目录中的 Header 与仪器子表行构造描述符.
func FromHeader(ctx context.Context, db *gorm.DB, h *model.Header) (*Descriptors, error) {
	eng := h.Engineering

	d := &Descriptors{
		HeaderID:    h.ID,
		Engineering: &eng,
		Descriptors: fits.Descriptors{
			Telescope:                h.Telescope,
			Instrument:               h.Instrument,
			ProgramID:                h.ProgramID,
			ObservationID:            h.ObservationID,
			DataLabel:                h.DataLabel,
			UTDatetime:               h.UTDatetime,
			ObservationType:          h.ObservationType,
			ObservationClass:         h.ObservationClass,
			Object:                   h.Object,
			Elevation:                h.Elevation,
			CassRotatorPA:            h.CassRotatorPA,
			FilterName:               h.FilterName,
			ExposureTime:             h.ExposureTime,
			Disperser:                h.Disperser,
			Camera:                   h.Camera,
			CentralWavelength:        h.CentralWavelength,
			FocalPlaneMask:           h.FocalPlaneMask,
			DetectorBinning:          h.DetectorBinning,
			DetectorROISetting:       h.DetectorROISetting,
			DetectorGainSetting:      h.DetectorGainSetting,
			DetectorReadspeedSetting: h.DetectorReadspeedSetting,
			DetectorWelldepthSetting: h.DetectorWelldepthSetting,
			DetectorReadmodeSetting:  h.DetectorReadmodeSetting,
			Coadds:                   h.Coadds,
			Spectroscopy:             h.Spectroscopy,
			Mode:                     h.Mode,
			GcalLamp:                 h.GcalLamp,
			QAState:                  h.QAState,
			Reduction:                h.Reduction,
			Processing:               h.Processing,
			ProcessingTag:            h.ProcessingTag,
			PhotStandard:             h.PhotStandard,
		},
	}

	for t := range h.TagSet() {
		d.Tags = append(d.Tags, t)
	}

	slices.Sort(d.Tags)

	if err := d.loadInstrument(ctx, db); err != nil {
		return nil, err
	}

	return d, nil
}

// loadInstrument 用仪器子表覆盖对应字段，子表行不存在时保持 Header 的值.
func (d *Descriptors) loadInstrument(ctx context.Context, db *gorm.DB) error {
	q := db.WithContext(ctx).Where("header_id = ?", d.HeaderID)

	var err error

	switch d.Instrument {
	case "GMOS-N", "GMOS-S":
		var g model.Gmos
		if err = q.First(&g).Error; err == nil {
			d.Disperser, d.FilterName, d.FocalPlaneMask = g.Disperser, g.FilterName, g.FocalPlaneMask
			d.DetectorXBin, d.DetectorYBin = g.DetectorXBin, g.DetectorYBin
			d.ArrayName, d.AmpReadArea = g.ArrayName, g.AmpReadArea
			d.DetectorReadspeedSetting, d.DetectorGainSetting = g.ReadSpeedSetting, g.GainSetting
			d.Nodandshuffle, d.NodCount, d.NodPixels = g.Nodandshuffle, g.NodCount, g.NodPixels
			d.Prepared, d.OverscanTrimmed, d.OverscanSubtracted = g.Prepared, g.OverscanTrimmed, g.OverscanSubtracted
		}
	case "NIRI":
		var n model.Niri
		if err = q.First(&n).Error; err == nil {
			d.Disperser, d.FilterName, d.FocalPlaneMask, d.Camera = n.Disperser, n.FilterName, n.FocalPlaneMask, n.Camera
			d.DetectorReadmodeSetting, d.DetectorWelldepthSetting = n.ReadMode, n.WellDepthSetting
			d.DataSection = n.DataSection
		}
	case "F2":
		var f model.F2
		if err = q.First(&f).Error; err == nil {
			d.Disperser, d.FilterName, d.FocalPlaneMask = f.Disperser, f.FilterName, f.FocalPlaneMask
			d.LyotStop, d.DetectorReadmodeSetting = f.LyotStop, f.ReadMode
		}
	case "GNIRS":
		var g model.Gnirs
		if err = q.First(&g).Error; err == nil {
			d.Disperser, d.FilterName, d.FocalPlaneMask, d.Camera = g.Disperser, g.FilterName, g.FocalPlaneMask, g.Camera
			d.DetectorReadmodeSetting, d.DetectorWelldepthSetting = g.ReadMode, g.WellDepthSetting
		}
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load %s row for header %d: %w", d.Instrument, d.HeaderID, err)
	}

	return nil
}

// Value 按列名取描述符值，供 MatchDescriptors 使用. nil 指针返回 nil.
func (d *Descriptors) Value(field string) (any, bool) {
	switch field {
	case "instrument":
		return d.Instrument, true
	case "disperser":
		return d.Disperser, true
	case "filter_name":
		return d.FilterName, true
	case "focal_plane_mask":
		return d.FocalPlaneMask, true
	case "camera":
		return d.Camera, true
	case "lyot_stop":
		return d.LyotStop, true
	case "detector_binning":
		return d.DetectorBinning, true
	case "amp_read_area":
		return d.AmpReadArea, true
	case "data_section":
		return d.DataSection, true
	case "read_speed_setting", "detector_readspeed_setting":
		return d.DetectorReadspeedSetting, true
	case "gain_setting", "detector_gain_setting":
		return d.DetectorGainSetting, true
	case "read_mode", "detector_readmode_setting":
		return d.DetectorReadmodeSetting, true
	case "well_depth_setting", "detector_welldepth_setting":
		return d.DetectorWelldepthSetting, true
	case "spectroscopy":
		return d.Spectroscopy, true
	case "detector_x_bin":
		return deref(d.DetectorXBin), true
	case "detector_y_bin":
		return deref(d.DetectorYBin), true
	case "nod_count":
		return deref(d.NodCount), true
	case "nod_pixels":
		return deref(d.NodPixels), true
	case "coadds":
		return deref(d.Coadds), true
	case "exposure_time":
		return deref(d.ExposureTime), true
	case "central_wavelength":
		return deref(d.CentralWavelength), true
	}

	return nil, false
}

// Float 按列名取浮点描述符，供 Tolerance 使用.
func (d *Descriptors) Float(field string) *float64 {
	switch field {
	case "central_wavelength":
		return d.CentralWavelength
	case "exposure_time":
		return d.ExposureTime
	case "elevation":
		return d.Elevation
	case "cass_rotator_pa":
		return d.CassRotatorPA
	}

	return nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}

	return *p
}
