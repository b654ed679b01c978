package fits

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// WCS 线性部分加 TAN 投影.
type WCS struct {
	CRVAL1, CRVAL2 float64
	CRPIX1, CRPIX2 float64
	CD             [2][2]float64
}

// PixelToSky 像素坐标 (1 起) 转换为 (ra, dec)，单位度.
func (w WCS) PixelToSky(p1, p2 float64) (float64, float64) {
	dx, dy := p1-w.CRPIX1, p2-w.CRPIX2
	xi := (w.CD[0][0]*dx + w.CD[0][1]*dy) * math.Pi / 180
	eta := (w.CD[1][0]*dx + w.CD[1][1]*dy) * math.Pi / 180

	ra0, dec0 := w.CRVAL1*math.Pi/180, w.CRVAL2*math.Pi/180
	den := math.Cos(dec0) - eta*math.Sin(dec0)

	ra := ra0 + math.Atan2(xi, den)
	dec := math.Atan2(math.Sin(dec0)+eta*math.Cos(dec0), math.Hypot(xi, den))

	ra = math.Mod(ra*180/math.Pi+360, 360)

	return ra, dec * 180 / math.Pi
}

// wcsFromKeywords 读取 CRVAL/CRPIX/CD，缺 CD 时退回 CDELT 与 PC. 不完整返回 false.
func wcsFromKeywords(k keywords) (WCS, bool) {
	var w WCS

	req := []struct {
		dst *float64
		key string
	}{
		{&w.CRVAL1, "CRVAL1"}, {&w.CRVAL2, "CRVAL2"},
		{&w.CRPIX1, "CRPIX1"}, {&w.CRPIX2, "CRPIX2"},
	}

	for _, r := range req {
		v := k.float(r.key)
		if v == nil {
			return w, false
		}

		*r.dst = *v
	}

	if ctype := k.str("CTYPE1"); ctype != "" && !strings.Contains(ctype, "TAN") {
		return w, false
	}

	cd11, cd12, cd21, cd22 := k.float("CD1_1"), k.float("CD1_2"), k.float("CD2_1"), k.float("CD2_2")
	if cd11 != nil || cd22 != nil {
		w.CD = [2][2]float64{{deref(cd11), deref(cd12)}, {deref(cd21), deref(cd22)}}
		return w, w.CD[0][0]*w.CD[1][1]-w.CD[0][1]*w.CD[1][0] != 0
	}

	d1, d2 := k.float("CDELT1"), k.float("CDELT2")
	if d1 == nil || d2 == nil {
		return w, false
	}

	pc := [2][2]float64{{1, 0}, {0, 1}}
	if v := k.float("PC1_1"); v != nil {
		pc = [2][2]float64{
			{*v, deref(k.float("PC1_2"))},
			{deref(k.float("PC2_1")), deref(k.float("PC2_2"))},
		}
	}

	w.CD = [2][2]float64{
		{*d1 * pc[0][0], *d1 * pc[0][1]},
		{*d2 * pc[1][0], *d2 * pc[1][1]},
	}

	return w, true
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}

	return *v
}

// Footprint 以四个角点构成的天区多边形.
func Footprint(w WCS, naxis1, naxis2 int, extension string) model.Footprint {
	corners := [][2]float64{
		{0.5, 0.5},
		{float64(naxis1) + 0.5, 0.5},
		{float64(naxis1) + 0.5, float64(naxis2) + 0.5},
		{0.5, float64(naxis2) + 0.5},
	}

	fp := model.Footprint{Extension: extension, RAMin: 360, DecMin: 90, RAMax: 0, DecMax: -90}
	pts := make([]string, 0, len(corners))

	for _, c := range corners {
		ra, dec := w.PixelToSky(c[0], c[1])
		pts = append(pts, strconv.FormatFloat(ra, 'f', 6, 64)+" "+strconv.FormatFloat(dec, 'f', 6, 64))

		fp.RAMin, fp.RAMax = math.Min(fp.RAMin, ra), math.Max(fp.RAMax, ra)
		fp.DecMin, fp.DecMax = math.Min(fp.DecMin, dec), math.Max(fp.DecMax, dec)
	}

	fp.Area = strings.Join(pts, ", ")

	return fp
}

// footprints 每个二维图像 HDU 一个足迹. 失败的 HDU 跳过.
func footprints(f *fitsio.File) []model.Footprint {
	var out []model.Footprint

	for i, hdu := range f.HDUs() {
		if hdu.Type() != fitsio.IMAGE_HDU {
			continue
		}

		hdr := hdu.Header()

		axes := hdr.Axes()
		if len(axes) < 2 || axes[0] == 0 || axes[1] == 0 {
			continue
		}

		k := keywords{hdrs: []*fitsio.Header{hdr}}

		w, ok := wcsFromKeywords(k)
		if !ok {
			continue
		}

		out = append(out, Footprint(w, axes[0], axes[1], extensionName(k, i)))
	}

	return out
}

func extensionName(k keywords, index int) string {
	if index == 0 {
		return "PHU"
	}

	name := k.str("EXTNAME")
	if name == "" {
		return strconv.Itoa(index)
	}

	if ver := k.integer("EXTVER"); ver != nil {
		return fmt.Sprintf("%s,%d", name, *ver)
	}

	return name
}
