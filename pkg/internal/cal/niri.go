package cal

import (
	"slices"
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// niriNoFlatFilters 热红外滤光片不做平场.
var niriNoFlatFilters = []string{
	"Lprime_G0207", "Mprime_G0208", "Bra_G0238", "Bracont_G0237", "hydrocarb_G0231",
}

type niri struct {
	*base
}

func newNIRI(b *base) *niri {
	n := &niri{base: b}
	b.instTable = "niri"

	b.methods["dark"] = n.dark
	b.methods["flat"] = n.flat
	b.methods["arc"] = n.arc
	b.methods["lampoff_flat"] = notProcessed(n.lampoffFlat)
	b.methods["photometric_standard"] = notProcessed(n.photometricStandard)
	b.methods["telluric_standard"] = n.telluricStandard
	b.methods["bpm"] = n.bpm

	n.setApplicable()

	return n
}

func (n *niri) setApplicable() {
	d := n.d

	if d.ObservationType == "BPM" {
		return
	}

	flattable := !slices.Contains(niriNoFlatFilters, d.FilterName)

	switch {
	case !d.Spectroscopy && d.ObservationType == "OBJECT":
		n.need("processed_flat")

		switch d.ObservationClass {
		case "partnerCal":
			if flattable {
				n.need("flat")
			}
		case "science":
			n.need("dark")

			if flattable {
				n.need("flat")
			}

			n.need("photometric_standard")
		}
	case !d.Spectroscopy && d.ObservationType == "FLAT" && d.GcalLamp != "Off":
		n.need("lampoff_flat")
	case d.Spectroscopy && d.ObservationType == "OBJECT":
		n.need("flat", "arc")

		if d.ObservationClass == "science" {
			n.need("telluric_standard", "processed_flat")
		}
	}

	n.need("processed_bpm")
}

func (n *niri) dark(processed bool, howmany int) ([]model.Header, error) {
	return n.query().Dark(processed).
		MatchDescriptors("niri.data_section", "niri.read_mode", "niri.well_depth_setting", "niri.coadds").
		Tolerance(true, "header.exposure_time", 0.01).
		MaxInterval(180).
		All(defaultCount(howmany, processed, 10))
}

func (n *niri) flat(processed bool, howmany int) ([]model.Header, error) {
	q := n.query().Flat(processed)

	if !processed {
		lamps := "header.gcal_lamp IN ? OR header.gcal_lamp LIKE ?"
		// Mgrism 光谱的平场由开灯与关灯帧组合
		if strings.HasPrefix(n.d.Disperser, "Mgrism") {
			lamps += " OR header.gcal_lamp = 'Off'"
		}

		q.Where("("+lamps+")", []string{"IRhigh", "IRlow"}, "QH%")
	}

	return q.MatchDescriptors("niri.data_section", "niri.well_depth_setting", "niri.filter_name",
		"niri.camera", "niri.focal_plane_mask", "niri.disperser").
		Tolerance(n.d.Spectroscopy, "header.central_wavelength", 0.001).
		MaxInterval(180).
		All(defaultCount(howmany, processed, 10))
}

func (n *niri) arc(processed bool, howmany int) ([]model.Header, error) {
	return n.query().Arc(processed).
		MatchDescriptors("niri.data_section", "niri.filter_name", "niri.camera",
			"niri.focal_plane_mask", "niri.disperser").
		Tolerance(true, "header.central_wavelength", 0.001).
		MaxInterval(180).
		All(defaultCount(howmany, processed, 1))
}

func (n *niri) lampoffFlat(_ bool, howmany int) ([]model.Header, error) {
	return n.query().Flat(false).
		Where("header.gcal_lamp = ?", "Off").
		MatchDescriptors("niri.data_section", "niri.well_depth_setting", "niri.filter_name", "niri.camera").
		MaxInterval(1).
		All(defaultCount(howmany, false, 10))
}

func (n *niri) photometricStandard(_ bool, howmany int) ([]model.Header, error) {
	return n.query().Raw().ObservationType("OBJECT").Spectroscopy(false).
		Where("header.phot_standard = ?", true).
		MatchDescriptors("niri.filter_name", "niri.camera").
		MaxInterval(1).
		All(defaultCount(howmany, false, 10))
}

func (n *niri) telluricStandard(processed bool, howmany int) ([]model.Header, error) {
	return n.query().TelluricStandard(processed, "OBJECT", "partnerCal").
		MatchDescriptors("niri.filter_name", "niri.camera", "niri.focal_plane_mask", "niri.disperser").
		MaxInterval(1).
		All(defaultCount(howmany, processed, 10))
}

func (n *niri) bpm(processed bool, howmany int) ([]model.Header, error) {
	return n.query().Bpm(processed).
		NotAfter().
		MatchDescriptors("header.instrument", "header.detector_binning").
		All(defaultCount(howmany, true, 1))
}
