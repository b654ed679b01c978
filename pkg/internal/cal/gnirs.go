package cal

import "github.com/yeisme/fitsvault/pkg/internal/model"

type gnirs struct {
	*base
}

func newGNIRS(b *base) *gnirs {
	g := &gnirs{base: b}
	b.instTable = "gnirs"

	b.methods["dark"] = g.dark
	b.methods["flat"] = g.flat
	b.methods["lampoff_flat"] = notProcessed(g.lampoffFlat)
	b.methods["qh_flat"] = notProcessed(g.qhFlat)
	b.methods["arc"] = g.arc
	b.methods["pinhole"] = g.pinhole
	b.methods["telluric_standard"] = g.telluricStandard

	g.setApplicable()

	return g
}

func (g *gnirs) setApplicable() {
	d := g.d

	switch {
	case d.ObservationType == "OBJECT" && !d.Spectroscopy:
		if d.ObservationClass == "acq" || d.ObservationClass == "acqCal" {
			return
		}

		g.need("dark", "flat", "lampoff_flat", "processed_flat")
	case d.ObservationType == "OBJECT" && d.Spectroscopy:
		g.need("flat", "lampoff_flat", "arc", "pinhole")

		// 交叉色散模式另需 QH 平场
		if g.hasTag("XD") {
			g.need("qh_flat")
		}

		g.need("telluric_standard")
	case d.ObservationType == "FLAT" && d.GcalLamp == "IRhigh":
		g.need("lampoff_flat")
	}
}

func (g *gnirs) dark(processed bool, howmany int) ([]model.Header, error) {
	return g.query().Dark(processed).
		MatchDescriptors("header.exposure_time", "gnirs.read_mode", "gnirs.well_depth_setting", "header.coadds").
		MaxInterval(90).
		All(defaultCount(howmany, processed, 10))
}

// flatBase 各类平场共享的光路配置.
func (g *gnirs) flatBase(q *CalQuery) *CalQuery {
	return q.MatchDescriptors("gnirs.disperser", "gnirs.focal_plane_mask", "gnirs.camera",
		"gnirs.filter_name", "gnirs.well_depth_setting").
		Tolerance(g.d.Spectroscopy, "header.central_wavelength", 0.001)
}

func (g *gnirs) flat(processed bool, howmany int) ([]model.Header, error) {
	q := g.query().Flat(processed)
	if !processed {
		q.Where("header.gcal_lamp = ?", "IRhigh")
	}

	return g.flatBase(q).
		MaxInterval(90).
		All(defaultCount(howmany, processed, 10))
}

func (g *gnirs) lampoffFlat(_ bool, howmany int) ([]model.Header, error) {
	return g.flatBase(g.query().Flat(false).Where("header.gcal_lamp = ?", "Off")).
		MaxInterval(1).
		All(defaultCount(howmany, false, 10))
}

func (g *gnirs) qhFlat(_ bool, howmany int) ([]model.Header, error) {
	return g.flatBase(g.query().Flat(false).Where("header.gcal_lamp LIKE ?", "QH%")).
		MaxInterval(90).
		All(defaultCount(howmany, false, 10))
}

func (g *gnirs) arc(processed bool, howmany int) ([]model.Header, error) {
	return g.query().Arc(processed).
		MatchDescriptors("header.central_wavelength", "gnirs.disperser", "gnirs.focal_plane_mask",
			"gnirs.filter_name", "gnirs.camera").
		MaxInterval(365).
		All(defaultCount(howmany, processed, 1))
}

func (g *gnirs) pinhole(processed bool, howmany int) ([]model.Header, error) {
	return g.query().Pinhole(processed).
		MatchDescriptors("header.central_wavelength", "gnirs.disperser", "gnirs.camera").
		MaxInterval(365).
		All(defaultCount(howmany, processed, 5))
}

func (g *gnirs) telluricStandard(processed bool, howmany int) ([]model.Header, error) {
	return g.query().TelluricStandard(processed, "OBJECT", "partnerCal").
		MatchDescriptors("header.central_wavelength", "gnirs.disperser", "gnirs.focal_plane_mask",
			"gnirs.camera", "gnirs.filter_name").
		MaxInterval(1).
		All(defaultCount(howmany, processed, 8))
}
