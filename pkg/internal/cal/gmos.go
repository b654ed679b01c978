package cal

import (
	"math"
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

type gmos struct {
	*base
}

func newGMOS(b *base) *gmos {
	g := &gmos{base: b}
	b.instTable = "gmos"

	b.methods["arc"] = b.notImaging(g.arc)
	b.methods["dark"] = g.dark
	b.methods["bias"] = g.bias
	b.methods["bpm"] = g.bpm
	b.methods["flat"] = g.flat
	b.methods["fringe"] = g.fringe
	b.methods["standard"] = g.standard
	b.methods["specphot"] = notProcessed(b.notImaging(g.specphot))
	b.methods["photometric_standard"] = notProcessed(b.notSpectroscopy(g.photometricStandard))
	b.methods["mask"] = notProcessed(g.mask)
	b.methods["slitillum"] = b.notImaging(g.slitillum)

	g.setApplicable()

	return g
}

func (g *gmos) setApplicable() {
	d := g.d

	if d.ObservationType == "MASK" || d.ObservationType == "BPM" || g.hasTag("PROCESSED_SCIENCE") {
		return
	}

	requireBias := true

	switch {
	case d.ObservationType == "BIAS" || d.ObservationType == "ARC":
		requireBias = false
	case d.ObservationClass == "acq" || d.ObservationClass == "acqCal":
		requireBias = false
	case d.DetectorROISetting == "Central Stamp":
		requireBias = false
	}

	if requireBias {
		g.need("bias", "processed_bias")
	}

	if d.Spectroscopy && d.ObservationType == "FLAT" {
		g.need("arc", "processed_arc")
	}

	if d.Spectroscopy && d.ObservationType == "OBJECT" && d.Object != "Twilight" {
		g.need("arc", "processed_arc", "flat", "processed_flat")

		if !g.hasTag("STANDARD") {
			g.need("specphot")

			if d.CentralWavelength != nil {
				g.need("processed_standard", "processed_slitillum", "slitillum")
			}
		}
	}

	if !d.Spectroscopy && d.FocalPlaneMask == "Imaging" && d.ObservationType == "OBJECT" &&
		d.Object != "Twilight" && d.ObservationClass != "acq" && d.ObservationClass != "acqCal" {
		g.need("flat", "processed_flat", "processed_fringe")

		if d.CentralWavelength != nil {
			g.need("processed_standard")
		}

		if d.ObservationClass == "science" {
			g.need("photometric_standard")
		}
	}

	// 探测器更换后 nod-and-shuffle 不再需要 dark
	if d.Nodandshuffle && d.ObservationType == "OBJECT" {
		if d.UTDatetime == nil || d.UTDatetime.Before(g.opts.GmosDarkCutoff) {
			g.need("dark", "processed_dark")
		}
	}

	if g.hasTag("MOS") {
		g.need("mask")
	}

	if d.DetectorXBin != nil && d.DetectorYBin != nil {
		g.need("processed_bpm")
	}
}

// allAmps 科学帧使用全部放大器.
func (g *gmos) allAmps() bool {
	return g.d.DetectorROISetting == "Full Frame" || g.d.DetectorROISetting == "Central Spectrum"
}

// ampFilter 科学帧的 amp_read_area 必须与定标帧相同 (全部放大器) 或为其子串.
func (g *gmos) ampFilter(q *CalQuery) *CalQuery {
	switch {
	case g.allAmps():
		return q.Where("gmos.amp_read_area = ?", g.d.AmpReadArea)
	case g.d.AmpReadArea != "":
		return q.Where("gmos.amp_read_area LIKE ?", "%"+g.d.AmpReadArea+"%")
	}

	return q
}

func (g *gmos) arc(processed bool, howmany int) ([]model.Header, error) {
	q := g.query().Arc(processed)

	if g.d.FocalPlaneMask == "5.0arcsec" {
		q.Where("gmos.focal_plane_mask LIKE ?", "%arcsec")
	} else {
		q.Where("gmos.focal_plane_mask = ?", g.d.FocalPlaneMask)
	}

	// 处理结果按 ROI 等价类匹配
	if processed {
		if g.d.DetectorROISetting == "Central Spectrum" {
			q.Where("header.detector_roi_setting IN ?", []string{"Full Frame", "Central Spectrum"})
		} else {
			q.Where("header.detector_roi_setting = ?", "Full Frame")
		}
	} else {
		g.ampFilter(q)
	}

	return q.MatchDescriptors("header.instrument", "gmos.disperser", "gmos.filter_name",
		"gmos.detector_x_bin", "gmos.detector_y_bin").
		Tolerance(true, "header.central_wavelength", 0.001).
		MaxInterval(365).
		All(defaultCount(howmany, true, 1))
}

func (g *gmos) dark(processed bool, howmany int) ([]model.Header, error) {
	q := g.ampFilter(g.query().Dark(processed))

	return q.MatchDescriptors("header.instrument", "gmos.detector_x_bin", "gmos.detector_y_bin",
		"gmos.read_speed_setting", "gmos.gain_setting").
		Tolerance(true, "header.exposure_time", 50).
		MatchDescriptors("gmos.nod_count", "gmos.nod_pixels").
		MaxInterval(365).
		All(defaultCount(howmany, processed, 15))
}

func (g *gmos) bias(processed bool, howmany int) ([]model.Header, error) {
	q := g.ampFilter(g.query().Bias(processed))

	// 只对已 prepare 的科学帧匹配 overscan 状态
	if processed && g.d.Prepared {
		q.Where("gmos.overscan_trimmed = ? AND gmos.overscan_subtracted = ?",
			g.d.OverscanTrimmed, g.d.OverscanSubtracted)
	}

	return q.MatchDescriptors("header.instrument", "gmos.detector_x_bin", "gmos.detector_y_bin",
		"gmos.read_speed_setting", "gmos.gain_setting").
		MaxInterval(90).
		All(defaultCount(howmany, processed, 50))
}

func (g *gmos) bpm(processed bool, howmany int) ([]model.Header, error) {
	if strings.TrimSpace(g.d.ArrayName) == "" {
		return nil, nil
	}

	return g.query().Bpm(processed).
		NotAfter().
		Where("gmos.array_name LIKE ?", "%"+g.d.ArrayName+"%").
		MatchDescriptors("header.instrument", "gmos.detector_x_bin", "gmos.detector_y_bin").
		All(defaultCount(howmany, true, 1))
}

func (g *gmos) flat(processed bool, howmany int) ([]model.Header, error) {
	cols := []string{
		"header.instrument", "gmos.detector_x_bin", "gmos.detector_y_bin", "gmos.filter_name",
		"gmos.read_speed_setting", "gmos.gain_setting", "header.spectroscopy",
		"gmos.focal_plane_mask", "gmos.disperser",
	}

	var q *CalQuery

	if g.d.Spectroscopy {
		q = g.query().Flat(processed)
		g.flexure(q)
		howmany = defaultCount(howmany, processed, 2)
	} else {
		if processed {
			q = g.query().Reduction("PROCESSED_FLAT")
		} else {
			// 成像平场为黄昏天光: dayCal 的 OBJECT 帧，目标 Twilight
			q = g.query().Raw().ObservationClass("dayCal").ObservationType("OBJECT").Object("Twilight")
		}

		howmany = defaultCount(howmany, processed, 20)
	}

	if g.allAmps() {
		cols = append(cols, "gmos.amp_read_area")
	} else if g.d.AmpReadArea != "" {
		q.Where("gmos.amp_read_area LIKE ?", "%"+g.d.AmpReadArea+"%")
	}

	return q.MatchDescriptors(cols...).MaxInterval(180).All(howmany)
}

// flexure 光谱平场需要与望远镜指向大致一致.
func (g *gmos) flexure(q *CalQuery) {
	q.Tolerance(true, "header.central_wavelength", 0.001)

	d := g.d
	if d.Elevation == nil {
		return
	}

	var (
		ifu, mosOrLS bool
		thres        float64
	)

	if strings.HasPrefix(d.FocalPlaneMask, "IFU") {
		ifu, thres = true, 7.5
	}

	if (g.hasTag("MOS") || g.hasTag("LS")) &&
		((d.CentralWavelength != nil && *d.CentralWavelength > 0.55) || strings.HasPrefix(d.Disperser, "R150")) {
		mosOrLS, thres = true, 15
	}

	if !ifu && !mosOrLS {
		return
	}

	q.Tolerance(true, "header.elevation", thres)

	// crpa*cos(el) 在阈值内；接近天顶时不限制
	if *d.Elevation < 85 {
		q.Tolerance(true, "header.cass_rotator_pa", thres/math.Cos(*d.Elevation*math.Pi/180))
	}
}

func (g *gmos) fringe(processed bool, howmany int) ([]model.Header, error) {
	if !processed {
		return nil, nil
	}

	q := g.ampFilter(g.query().Reduction("PROCESSED_FRINGE"))

	return q.MatchDescriptors("header.instrument", "gmos.detector_x_bin", "gmos.detector_y_bin", "gmos.filter_name").
		MaxInterval(365).
		All(defaultCount(howmany, true, 1))
}

func (g *gmos) standard(processed bool, howmany int) ([]model.Header, error) {
	return g.query().Standard(processed).
		Tolerance(true, "header.central_wavelength", g.wavelengthTolerance(200)).
		MatchDescriptors("header.instrument", "gmos.disperser", "gmos.detector_x_bin",
			"gmos.detector_y_bin", "gmos.filter_name").
		MaxInterval(183).
		All(defaultCount(howmany, true, 1))
}

func (g *gmos) specphot(_ bool, howmany int) ([]model.Header, error) {
	tol := g.wavelengthTolerance(200)

	q := g.query().Raw().ObservationType("OBJECT").Spectroscopy(true).
		HasType("STANDARD").
		Where("header.object <> ?", "Twilight")

	// MOS 与长缝科学帧可用任意长缝标准星，IFU 需要 IFU 标准星
	switch {
	case g.hasTag("MOS"):
		q.Where("gmos.focal_plane_mask LIKE ?", "%arcsec%")
		tol = g.wavelengthTolerance(1000)
	case g.hasTag("LS"):
		q.Where("gmos.focal_plane_mask LIKE ?", "%arcsec%")
	case g.hasTag("IFU"):
		q.Where("gmos.focal_plane_mask LIKE ?", "%IFU%")
	default:
		q.Where("gmos.focal_plane_mask = ?", g.d.FocalPlaneMask)
	}

	return q.MatchDescriptors("header.instrument", "gmos.filter_name", "gmos.disperser").
		Tolerance(true, "header.central_wavelength", tol).
		MaxInterval(183).
		OrderByClosest(365, tol).
		All(defaultCount(howmany, false, 4))
}

func (g *gmos) photometricStandard(_ bool, howmany int) ([]model.Header, error) {
	return g.query().PhotometricStandard(false, "OBJECT", "partnerCal").
		Where("header.program_id LIKE ?", "G_-CAL%").
		MatchDescriptors("header.instrument", "gmos.filter_name").
		MaxInterval(1).
		All(defaultCount(howmany, false, 4))
}

// mask MOS 科学帧的 focal_plane_mask 即掩模文件的 data_label.
func (g *gmos) mask(_ bool, howmany int) ([]model.Header, error) {
	return g.query().ObservationType("MASK").
		Where("header.data_label = ?", g.d.FocalPlaneMask).
		Where("header.instrument LIKE ?", "GMOS%").
		All(defaultCount(howmany, false, 1))
}

func (g *gmos) slitillum(processed bool, howmany int) ([]model.Header, error) {
	tol := g.wavelengthTolerance(200)

	// 只要求空间方向 (y) 合并一致
	return g.query().Slitillum(processed).
		Tolerance(true, "header.central_wavelength", tol).
		MatchDescriptors("header.instrument", "gmos.disperser", "gmos.detector_y_bin",
			"gmos.filter_name", "gmos.focal_plane_mask").
		MaxInterval(183).
		OrderByClosest(183, tol).
		All(defaultCount(howmany, true, 1))
}

// wavelengthTolerance 由光栅色散估算 pixels 个未合并像素对应的波长 (um).
func (g *gmos) wavelengthTolerance(pixels float64) float64 {
	disp, ok := gemini.GmosDispersion(g.d.Disperser)
	if !ok {
		disp = 0.03 / 1200
	}

	return pixels * disp
}
