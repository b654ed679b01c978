package cal

import "github.com/yeisme/fitsvault/pkg/internal/model"

// generic 没有专门规则的仪器按仪器与基本光路配置匹配.
type generic struct {
	*base
}

func newGeneric(b *base) *generic {
	g := &generic{base: b}

	b.methods["bias"] = g.match(func(q *CalQuery, p bool) *CalQuery { return q.Bias(p) }, 90, 10)
	b.methods["dark"] = g.match(func(q *CalQuery, p bool) *CalQuery {
		return q.Dark(p).Tolerance(true, "header.exposure_time", 0.01)
	}, 180, 10)
	b.methods["flat"] = g.match(func(q *CalQuery, p bool) *CalQuery {
		return q.Flat(p).MatchDescriptors("header.filter_name", "header.spectroscopy")
	}, 180, 10)
	b.methods["arc"] = b.notImaging(g.match(func(q *CalQuery, p bool) *CalQuery {
		return q.Arc(p).MatchDescriptors("header.filter_name", "header.disperser").
			Tolerance(true, "header.central_wavelength", 0.001)
	}, 365, 1))

	if b.d.ObservationType == "OBJECT" {
		b.need("flat", "processed_flat")

		if b.d.Spectroscopy {
			b.need("arc")
		}
	}

	return g
}

func (g *generic) match(filter func(*CalQuery, bool) *CalQuery, days float64, raw int) method {
	return func(processed bool, howmany int) ([]model.Header, error) {
		return filter(g.query(), processed).
			MatchDescriptors("header.instrument", "header.detector_binning").
			MaxInterval(days).
			All(defaultCount(howmany, processed, raw))
	}
}
