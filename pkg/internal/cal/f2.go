package cal

import "github.com/yeisme/fitsvault/pkg/internal/model"

type f2 struct {
	*base
}

func newF2(b *base) *f2 {
	f := &f2{base: b}
	b.instTable = "f2"

	b.methods["dark"] = f.dark
	b.methods["flat"] = f.flat
	b.methods["arc"] = f.arc
	b.methods["photometric_standard"] = f.photometricStandard
	b.methods["telluric_standard"] = f.telluricStandard

	f.setApplicable()

	return f
}

func (f *f2) setApplicable() {
	d := f.d

	switch d.ObservationType {
	case "OBJECT":
		if d.Spectroscopy {
			f.need("dark", "flat", "arc")

			if d.ObservationClass == "science" {
				f.need("telluric_standard")
			}

			return
		}

		if d.ObservationClass == "acq" || d.ObservationClass == "acqCal" {
			return
		}

		f.need("dark", "flat")

		if d.ObservationClass == "science" {
			f.need("photometric_standard")
		}
	case "FLAT":
		f.need("dark")
	case "ARC":
		f.need("dark", "flat")
	}
}

// common 光路配置.
func (f *f2) common(q *CalQuery) *CalQuery {
	return q.MatchDescriptors("f2.disperser", "f2.lyot_stop", "f2.filter_name", "f2.focal_plane_mask")
}

func (f *f2) dark(processed bool, howmany int) ([]model.Header, error) {
	return f.query().Dark(processed).
		MatchDescriptors("header.exposure_time", "f2.read_mode").
		MaxInterval(90).
		All(defaultCount(howmany, processed, 10))
}

func (f *f2) flat(processed bool, howmany int) ([]model.Header, error) {
	q := f.query().Flat(processed).MatchDescriptors("f2.read_mode")

	return f.common(q).
		Tolerance(f.d.Spectroscopy, "header.central_wavelength", 0.001).
		MaxInterval(90).
		All(defaultCount(howmany, processed, 10))
}

func (f *f2) arc(processed bool, howmany int) ([]model.Header, error) {
	return f.common(f.query().Arc(processed)).
		Tolerance(true, "header.central_wavelength", 0.001).
		MaxInterval(90).
		All(defaultCount(howmany, processed, 1))
}

func (f *f2) photometricStandard(processed bool, howmany int) ([]model.Header, error) {
	return f.query().PhotometricStandard(processed, "OBJECT", "partnerCal").
		MatchDescriptors("f2.filter_name", "f2.lyot_stop").
		MaxInterval(1).
		All(defaultCount(howmany, processed, 10))
}

func (f *f2) telluricStandard(processed bool, howmany int) ([]model.Header, error) {
	return f.common(f.query().TelluricStandard(processed, "OBJECT", "partnerCal")).
		Tolerance(true, "header.central_wavelength", 0.001).
		MaxInterval(1).
		All(defaultCount(howmany, processed, 10))
}
