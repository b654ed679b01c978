package fits

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

// ErrNotFITS 输入不是可解析的 FITS 文件.
var ErrNotFITS = errors.New("not a fits file")

// Extractor 元数据提取器. 返回的描述符可以不完整，只有无法读取文件时返回错误.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, filename string) (*Descriptors, error)
}

// FitsioExtractor 基于 astrogo/fitsio 的默认提取器.
type FitsioExtractor struct{}

// NewExtractor 创建默认提取器.
func NewExtractor() *FitsioExtractor {
	return &FitsioExtractor{}
}

// Extract 读取全部 HDU 的头并映射为描述符.
func (e *FitsioExtractor) Extract(ctx context.Context, r io.Reader, filename string) (*Descriptors, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFITS, filename, err)
	}
	defer f.Close()

	if len(f.HDUs()) == 0 {
		return nil, fmt.Errorf("%w: %s: no hdu", ErrNotFITS, filename)
	}

	d := describe(newKeywords(f))
	d.Footprints = footprints(f)

	return d, nil
}

var componentIDRe = regexp.MustCompile(`_G\d{4}$`)

// stripComponentID 去掉 "_G5305" 形式的部件编号.
func stripComponentID(s string) string {
	return componentIDRe.ReplaceAllString(s, "")
}

func describe(k keywords) *Descriptors {
	d := &Descriptors{
		Telescope:     gemini.Telescope(k.str("TELESCOP")),
		ProgramID:     k.str("GEMPRGID"),
		ObservationID: k.str("OBSID"),
		DataLabel:     k.str("DATALAB"),
		LocalTime:     k.str("LT"),

		ObservationType:  k.str("OBSTYPE"),
		ObservationClass: k.str("OBSCLASS"),
		Object:           k.str("OBJECT"),
		RA:               k.float("RA"),
		Dec:              k.float("DEC"),
		Azimuth:          k.float("AZIMUTH"),
		Elevation:        k.float("ELEVATIO"),
		CassRotatorPA:    k.float("CRPA"),
		Airmass:          k.float("AIRMASS"),
		ExposureTime:     k.float("EXPTIME"),
		Camera:           k.str("CAMERA"),
		PupilMask:        k.str("PUPILMSK", "PUPIL"),
		LyotStop:         k.str("LYOT"),
		WavelengthBand:   k.str("WAVEBAND", "BAND"),
		Coadds:           k.integer("COADDS"),
		DataSection:      k.str("DATASEC"),
		GcalLamp:         gcalLamp(k),
		WavefrontSensor:  wavefrontSensor(k),
		AdaptiveOptics:   strings.EqualFold(k.str("AOFOLD"), "IN"),
		LaserGuideStar:   strings.EqualFold(k.str("LGUSTAGE"), "IN") || strings.EqualFold(k.str("LGSLOOP"), "CLOSED"),
		RawIQ:            percentile(k.str("RAWIQ")),
		RawCC:            percentile(k.str("RAWCC")),
		RawWV:            percentile(k.str("RAWWV")),
		RawBG:            percentile(k.str("RAWBG")),
		QAState:          qaState(k.str("RAWGEMQA"), k.str("RAWPIREQ")),
		Release:          parseDay(k.str("RELEASE")),
		ProcessingTag:    k.str("PROCTAG"),
		PreImage:         k.flag("PREIMAGE"),
		PropCoords:       k.flag("PROP_MD"),
		Arm:              k.str("ARM"),
		Prepared:         k.has("PREPARE"),

		OverscanSubtracted: k.has("OVERSCAN") || k.has("OVERSUB"),
		OverscanTrimmed:    k.has("TRIMMED") || k.has("OVERTRIM"),
	}

	if d.LaserGuideStar {
		d.AdaptiveOptics = true
	}

	inst := k.str("INSTRUME")
	if d.Instrument = gemini.Instrument(inst, false); d.Instrument == "" {
		d.Instrument = inst
	}

	d.SiteMonitoring = gemini.SiteMonitor(d.Instrument)
	d.UTDatetime = utDatetime(k)

	if gemini.IsGMOS(d.Instrument) {
		describeGMOS(k, d)
	} else {
		describeGeneric(k, d)
	}

	d.Tags = tags(k, d)
	d.Reduction = reduction(k, d)
	d.Processing = processing(k.str("PROCMODE"), d)

	return d
}

func describeGMOS(k keywords, d *Descriptors) {
	var filters []string

	for _, key := range []string{"FILTER1", "FILTER2"} {
		v := stripComponentID(k.str(key))
		if v == "" || strings.HasPrefix(strings.ToLower(v), "open") {
			continue
		}

		filters = append(filters, v)
	}

	d.FilterName = "open"
	if len(filters) > 0 {
		d.FilterName = strings.Join(filters, "&")
	}

	d.Disperser = strings.TrimSuffix(stripComponentID(k.str("GRATING")), "+")
	d.FocalPlaneMask = k.str("MASKNAME")

	// GMOS 中心波长以 nm 记录
	if cw := k.float("CENTWAVE", "GRWLEN"); cw != nil && *cw > 0 {
		um := *cw / 1000
		d.CentralWavelength = &um
	}

	d.Spectroscopy = d.Disperser != "" && d.Disperser != "MIRROR"

	switch {
	case !d.Spectroscopy:
		d.Mode = "imaging"
	case strings.Contains(d.FocalPlaneMask, "IFU"):
		d.Mode = "IFS"
	case strings.Contains(d.FocalPlaneMask, "arcsec"):
		d.Mode = "LS"
	case gemini.GmosFocalPlaneMask(d.FocalPlaneMask) != "":
		d.Mode = "MOS"
	default:
		d.Mode = "spectroscopy"
	}

	if bin := k.str("CCDSUM"); bin != "" {
		if f := strings.Fields(bin); len(f) == 2 {
			x, errX := strconv.Atoi(f[0])
			y, errY := strconv.Atoi(f[1])

			if errX == nil && errY == nil {
				d.DetectorXBin, d.DetectorYBin = &x, &y
				d.DetectorBinning = fmt.Sprintf("%dx%d", x, y)
			}
		}
	}

	if gain := k.float("GAIN"); gain != nil {
		d.DetectorGainSetting = "low"
		if *gain > 3 {
			d.DetectorGainSetting = "high"
		}
	}

	if integ := k.float("AMPINTEG"); integ != nil {
		d.DetectorReadspeedSetting = "slow"
		if *integ == 1000 {
			d.DetectorReadspeedSetting = "fast"
		}
	}

	d.DetectorROISetting = k.str("DETROI")
	if d.DetectorROISetting == "" {
		if n := k.integer("DETNROI"); n != nil {
			d.DetectorROISetting = "Custom"
			x0, y0 := k.integer("DETRO1X"), k.integer("DETRO1Y")

			if *n == 1 && x0 != nil && y0 != nil && *x0 == 1 && *y0 == 1 {
				d.DetectorROISetting = "Full Frame"
			}
		}
	}

	d.ArrayName = strings.Join(unique(k.each("CCDNAME")), ",")

	var amps []string

	for i, amp := range k.each("AMPNAME") {
		detsec := k.each("DETSEC")
		if i < len(detsec) {
			amp = "'" + amp + "':" + detsec[i]
		}

		amps = append(amps, amp)
	}

	d.AmpReadArea = strings.Join(amps, "+")

	d.NodPixels = k.integer("NODPIX")
	d.NodCount = k.integer("NODCOUNT")
	d.Nodandshuffle = d.NodPixels != nil && *d.NodPixels > 0

	if d.Nodandshuffle {
		d.DetectorReadmodeSetting = "NodAndShuffle"
	} else {
		d.DetectorReadmodeSetting = "Classic"
	}
}

var (
	niriReadModes = map[[2]int]string{
		{16, 16}: "Low_Background",
		{1, 16}:  "Medium_Background",
		{1, 1}:   "High_Background",
	}
	gnirsReadModes = map[[2]int]string{
		{1, 1}:   "Very_Bright_Objects",
		{1, 16}:  "Bright_Objects",
		{16, 16}: "Faint_Objects",
		{32, 16}: "Very_Faint_Objects",
	}
	f2ReadModes = map[int]string{1: "Bright", 4: "Medium", 8: "Faint"}
)

func describeGeneric(k keywords, d *Descriptors) {
	d.Disperser = stripComponentID(k.str("DISPERSR", "GRATING", "GRISM"))
	d.FocalPlaneMask = stripComponentID(k.str("MASKNAME", "FPMASK", "SLIT", "DECKER"))
	d.CentralWavelength = k.float("GRATWAVE", "CWAVE", "WAVELENG")

	var filters []string

	for _, key := range []string{"FILTER", "FILTER1", "FILTER2", "FILTER3"} {
		v := stripComponentID(k.str(key))
		if v == "" || strings.EqualFold(v, "open") || strings.EqualFold(v, "blank") {
			continue
		}

		filters = append(filters, v)
	}

	d.FilterName = strings.Join(filters, "&")

	switch strings.ToLower(d.Disperser) {
	case "", "mirror", "open", "none", "imaging":
		d.Spectroscopy = false
		d.Mode = "imaging"
	default:
		d.Spectroscopy = true
		d.Mode = "LS"

		if strings.Contains(strings.ToUpper(d.FocalPlaneMask), "IFU") || d.Instrument == "NIFS" {
			d.Mode = "IFS"
		}
	}

	lnrs, ndavgs := k.integer("LNRS"), k.integer("NDAVGS", "DIGAVGS")

	d.DetectorReadmodeSetting = k.str("READMODE")
	if d.DetectorReadmodeSetting == "" && lnrs != nil {
		switch d.Instrument {
		case "NIRI":
			if ndavgs != nil {
				d.DetectorReadmodeSetting = orInvalid(niriReadModes[[2]int{*lnrs, *ndavgs}])
			}
		case "GNIRS":
			if ndavgs != nil {
				d.DetectorReadmodeSetting = orInvalid(gnirsReadModes[[2]int{*lnrs, *ndavgs}])
			}
		case "F2":
			d.DetectorReadmodeSetting = orInvalid(f2ReadModes[*lnrs])
		}
	}

	d.DetectorWelldepthSetting = k.str("WELLDEPT")
	if d.DetectorWelldepthSetting == "" {
		switch d.Instrument {
		case "NIRI":
			vdduc, vdet := k.float("A_VDDUC"), k.float("A_VDET")
			if vdduc != nil && vdet != nil {
				d.DetectorWelldepthSetting = wellDepth(*vdduc-*vdet, 0.6, 0.87)
			}
		case "GNIRS":
			if bias := k.float("DETBIAS"); bias != nil {
				d.DetectorWelldepthSetting = wellDepth(*bias, 0.3, 0.6)
			}
		}
	}

	if bin := k.str("CCDSUM", "BINNING"); bin != "" {
		if f := strings.Fields(strings.ReplaceAll(bin, "x", " ")); len(f) == 2 {
			x, errX := strconv.Atoi(f[0])
			y, errY := strconv.Atoi(f[1])

			if errX == nil && errY == nil {
				d.DetectorXBin, d.DetectorYBin = &x, &y
				d.DetectorBinning = fmt.Sprintf("%dx%d", x, y)
			}
		}
	}

	d.DetectorGainSetting = strings.ToLower(k.str("GAINSET"))
	d.DetectorReadspeedSetting = k.str("READSPD")
	d.DetectorROISetting = k.str("DETROI")
	d.ArrayName = k.str("DETECTOR", "DETID")
}

func orInvalid(s string) string {
	if s == "" {
		return "Invalid"
	}

	return s
}

func wellDepth(bias, shallow, deep float64) string {
	switch {
	case math.Abs(bias-shallow) < 0.05:
		return "Shallow"
	case math.Abs(bias-deep) < 0.05:
		return "Deep"
	default:
		return "Invalid"
	}
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// utDatetime 合并 DATE-OBS 与 TIME-OBS (或 UT)；DATE-OBS 自带时间时直接使用.
func utDatetime(k keywords) *time.Time {
	date := k.str("DATE-OBS")
	if date == "" {
		return nil
	}

	if !strings.Contains(date, "T") {
		tod := k.str("TIME-OBS", "UT", "UTSTART")
		if tod == "" {
			return parseDay(date)
		}

		date = date + "T" + tod
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			t = t.UTC()
			return &t
		}
	}

	return nil
}

func parseDay(s string) *time.Time {
	if s == "" {
		return nil
	}

	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}

	return &t
}

// percentile 解析 "20-percentile" 与 "Any".
func percentile(s string) *int {
	if s == "" {
		return nil
	}

	if strings.EqualFold(s, "any") {
		v := 100
		return &v
	}

	num, _, _ := strings.Cut(s, "-")

	v, err := strconv.Atoi(num)
	if err != nil {
		return nil
	}

	return &v
}

func qaState(gemqa, pireq string) string {
	gemqa, pireq = strings.ToUpper(gemqa), strings.ToUpper(pireq)

	switch {
	case gemqa == "BAD":
		return "Fail"
	case gemqa == "CHECK" || pireq == "CHECK":
		return "CHECK"
	case gemqa == "USABLE" && pireq == "YES":
		return "Pass"
	case gemqa == "USABLE" && pireq == "NO":
		return "Usable"
	default:
		return "Undefined"
	}
}

func gcalLamp(k keywords) string {
	lamp := k.str("GCALLAMP")
	if lamp == "" {
		return ""
	}

	if strings.EqualFold(k.str("GCALSHUT"), "CLOSED") {
		return "Off"
	}

	return lamp
}

func wavefrontSensor(k keywords) string {
	var wfs []string

	for _, name := range []string{"AOWFS", "OIWFS", "PWFS1", "PWFS2"} {
		if strings.EqualFold(k.str(name+"_ST"), "guiding") {
			wfs = append(wfs, name)
		}
	}

	return strings.Join(wfs, "&")
}

func processing(procmode string, d *Descriptors) string {
	switch strings.ToLower(procmode) {
	case "sq":
		return "Science-Quality"
	case "ql":
		return "Quick-Look"
	}

	if d.HasTag("PROCESSED") {
		return "Science-Quality"
	}

	return "Raw"
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]

	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}
