package selection

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
)

// defaultSR 未给出或无法解析搜索半径时使用的值，单位角秒.
const defaultSR = "180"

// equalities 直接按相等过滤的字符串条件.
var equalities = []struct {
	key    string
	column string
}{
	{KeyProgramID, "header.program_id"},
	{KeyObservationID, "header.observation_id"},
	{KeyDataLabel, "header.data_label"},
	{KeyObsType, "header.observation_type"},
	{KeyObsClass, "header.observation_class"},
	{KeyReduction, "header.reduction"},
	{KeyTelescope, "header.telescope"},
	{"binning", "header.detector_binning"},
	{"gain", "header.detector_gain_setting"},
	{"readspeed", "header.detector_readspeed_setting"},
	{"welldepth", "header.detector_welldepth_setting"},
	{"readmode", "header.detector_readmode_setting"},
	{"filter", "header.filter_name"},
	{"mode", "header.mode"},
	{"pupil_mask", "header.pupil_mask"},
	{KeyProcessing, "header.processing"},
	{"processing_tag", "header.processing_tag"},
	{"path", "diskfile.path"},
}

// integers 整数列上的相等过滤.
var integers = []struct {
	key    string
	column string
}{
	{"coadds", "header.coadds"},
	{"raw_cc", "header.raw_cc"},
	{"raw_iq", "header.raw_iq"},
	{"raw_bg", "header.raw_bg"},
	{"raw_wv", "header.raw_wv"},
}

// booleanColumns 布尔条件对应的列.
var booleanColumns = []struct {
	key    string
	column string
}{
	{KeyPresent, "diskfile.present"},
	{KeyCanonical, "diskfile.canonical"},
	{KeyEngineering, "header.engineering"},
	{"science_verification", "header.science_verification"},
	{KeySpectro, "header.spectroscopy"},
	{"mdready", "diskfile.mdready"},
	{"site_monitoring", "header.site_monitoring"},
	{"calprog", "header.calibration_program"},
	{"pre_image", "header.pre_image"},
}

var (
	rangeRe    = regexp.MustCompile(`^(-?\d*\.?\d*)-(-?\d*\.?\d*)`)
	decRangeRe = regexp.MustCompile(`^(-?[\d:.]+)-(-?[\d:.]+)`)
	expRangeRe = regexp.MustCompile(`^([\d.]+)-([\d.]+)`)
)

// Query 返回 Header ⨝ DiskFile ⨝ File 的基础查询.
func Query(db *gorm.DB) *gorm.DB {
	return db.Model(&model.Header{}).
		Joins("JOIN diskfile ON diskfile.id = header.diskfile_id").
		Joins("JOIN file ON file.id = diskfile.file_id")
}

// Apply 在 Query 返回的查询上追加选择条件. 无效的条件被忽略并记入 Warnings.
func (s *Selection) Apply(stmt *gorm.DB) *gorm.DB {
	a := applier{s: s, stmt: stmt}

	for _, f := range booleanColumns {
		if v, ok := s.flags[f.key]; ok {
			a.where(f.column+" = ?", v)
		}
	}

	for _, f := range equalities {
		if v, ok := s.values[f.key]; ok {
			a.where(f.column+" = ?", v)
		}
	}

	for _, f := range integers {
		v, ok := s.values[f.key]
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			s.Warn(fmt.Sprintf("Invalid %s value, ignoring it.", f.key))
			continue
		}

		a.where(f.column+" = ?", n)
	}

	if v, ok := s.values[KeyFilename]; ok {
		a.where("file.name = ?", strings.TrimSuffix(v, gemini.CompressedSuffix))
	}

	if v, ok := s.values[KeyFilePre]; ok {
		a.where("file.name LIKE ?", v+"%")
	}

	a.object()
	a.dates()
	a.instrument()
	a.qaState()
	a.flags()
	a.ranges()
	a.coordinates()
	a.exposureTime()
	a.centralWavelength()
	a.program()

	return a.stmt
}

type applier struct {
	s    *Selection
	stmt *gorm.DB

	propcoords    bool
	programJoined bool
}

func (a *applier) where(query string, args ...any) {
	a.stmt = a.stmt.Where(query, args...)
}

// propCoords 坐标受保护且尚未公开的数据不能按坐标查到.
func (a *applier) propCoords() {
	if a.propcoords {
		return
	}

	a.propcoords = true
	a.where("(header.proprietary_coordinates = ? OR header.release <= ?)", false, a.s.now)
}

func (a *applier) joinProgram() {
	if a.programJoined {
		return
	}

	a.programJoined = true
	a.stmt = a.stmt.Joins("JOIN program ON program.program_id = header.program_id")
}

func (a *applier) object() {
	v, ok := a.s.values[KeyObject]
	if !ok || a.s.Has("ra") || a.s.Has("dec") {
		return
	}

	a.where("LOWER(header.object) LIKE LOWER(?)", strings.ReplaceAll(v, "*", "%"))
	a.propCoords()
}

func (a *applier) dates() {
	if v, ok := a.s.values[KeyDate]; ok {
		if d, ok := gemini.ParseDate(v, a.s.now); ok {
			start, end := gemini.TimePeriod(d, d)
			a.where("header.ut_datetime >= ? AND header.ut_datetime < ?", start, end)
		} else {
			a.s.Warn("Invalid date, ignoring it.")
		}
	}

	if start, end, ok := a.window(KeyDateRange); ok {
		a.where("header.ut_datetime >= ? AND header.ut_datetime < ?", start, end)
	}

	if v, ok := a.s.values[KeyNight]; ok {
		if d, ok := gemini.ParseDate(v, a.s.now); ok {
			a.night(d, d)
		} else {
			a.s.Warn("Invalid night, ignoring it.")
		}
	}

	if v, ok := a.s.values[KeyNightRange]; ok {
		if d0, d1, ok := gemini.ParseDateRange(v, a.s.now); ok {
			a.night(d0, d1)
		} else {
			a.s.Warn("Invalid night range, ignoring it.")
		}
	}

	if start, end, ok := a.window("entrytimedaterange"); ok {
		a.where("diskfile.entrytime >= ? AND diskfile.entrytime < ?", start, end)
	}

	if start, end, ok := a.window("lastmoddaterange"); ok {
		a.where("diskfile.lastmod >= ? AND diskfile.lastmod < ?", start, end)
	}
}

func (a *applier) window(key string) (time.Time, time.Time, bool) {
	v, ok := a.s.values[key]
	if !ok {
		return time.Time{}, time.Time{}, false
	}

	d0, d1, ok := gemini.ParseDateRange(v, a.s.now)
	if !ok {
		a.s.Warn(fmt.Sprintf("Invalid %s, ignoring it.", key))
		return time.Time{}, time.Time{}, false
	}

	start, end := gemini.TimePeriod(d0, d1)

	return start, end, true
}

// night 两个站点的观测夜对应不同的 UTC 窗口.
func (a *applier) night(d0, d1 gemini.Date) {
	ns, ne := gemini.NightWindow(gemini.TelescopeNorth, d0, d1)
	ss, se := gemini.NightWindow(gemini.TelescopeSouth, d0, d1)

	a.where("((header.telescope = ? AND header.ut_datetime >= ? AND header.ut_datetime < ?)"+
		" OR (header.telescope = ? AND header.ut_datetime >= ? AND header.ut_datetime < ?))",
		gemini.TelescopeNorth, ns, ne, gemini.TelescopeSouth, ss, se)
}

func (a *applier) instrument() {
	inst := a.s.values[KeyInstrument]

	switch {
	case inst == gemini.InstrumentGMOS:
		a.where("header.instrument IN ?", []string{"GMOS-N", "GMOS-S"})
	case inst != "":
		a.where("header.instrument = ?", inst)
	}

	if v, ok := a.s.values["disperser"]; ok {
		switch {
		case inst == "GNIRS" && strings.HasSuffix(v, "lXD") && len(v) > 3:
			mm := strings.TrimSuffix(v, "lXD")
			a.where("header.disperser IN ?", []string{mm + "_mm&SXD", mm + "_mm&LXD"})
		case inst == "GNIRS":
			a.where("header.disperser = ?", v)
		default:
			a.where("(header.disperser = ? OR header.disperser LIKE ?)", v, v+"_%")
		}
	}

	if v, ok := a.s.values["camera"]; ok {
		switch v {
		case "GnirsLong":
			a.where("header.camera IN ?", []string{"LongRed", "LongBlue"})
		case "GnirsShort":
			a.where("header.camera IN ?", []string{"ShortRed", "ShortBlue"})
		default:
			a.where("header.camera = ?", v)
		}
	}

	if v, ok := a.s.values["focal_plane_mask"]; ok {
		switch {
		case inst == "TReCS":
			a.where("header.focal_plane_mask LIKE ?", "%"+v+"%")
		case strings.HasPrefix(inst, gemini.InstrumentGMOS):
			a.where("header.focal_plane_mask LIKE ?", v+"%")
		default:
			a.where("header.focal_plane_mask = ?", v)
		}
	}
}

func (a *applier) qaState() {
	switch v := a.s.values[KeyQAState]; v {
	case "", "AnyQA":
	case "Win":
		a.where("header.qa_state IN ?", []string{"Pass", "Usable"})
	case "NotFail":
		a.where("header.qa_state <> ?", "Fail")
	case "Lucky":
		a.where("header.qa_state IN ?", []string{"Pass", "Undefined"})
	case "UndefinedQA":
		a.where("header.qa_state = ?", "Undefined")
	default:
		a.where("header.qa_state = ?", v)
	}
}

func (a *applier) flags() {
	if v, ok := a.s.values["ao"]; ok {
		a.where("header.adaptive_optics = ?", v == "AO")
	}

	if v, ok := a.s.values["lgs"]; ok {
		a.where("header.laser_guide_star = ?", v == "LGS")
	}

	if v, ok := a.s.values["detector_roi"]; ok {
		if v == "Full Frame" {
			a.where("header.detector_roi_setting IN ?", []string{"Fixed", "Full Frame"})
		} else {
			a.where("header.detector_roi_setting = ?", v)
		}
	}

	if _, ok := a.s.flags["photstandard"]; ok {
		a.where("header.phot_standard = ?", true)
	}

	if v, ok := a.s.flags["twilight"]; ok {
		if v {
			a.where("header.object = ?", "Twilight")
		} else {
			a.where("header.object <> ?", "Twilight")
		}
	}

	if _, ok := a.s.flags["standard"]; ok {
		a.where("header.types LIKE ?", "%STANDARD%")
	}

	if v, ok := a.s.flags["gpi_astrometric_standard"]; ok {
		a.stmt = a.stmt.Joins("JOIN gpi ON gpi.header_id = header.id")
		a.where("gpi.astrometric_standard = ?", v)
	}
}

// ranges az/el/crpa 只接受 "a-b" 形式.
func (a *applier) ranges() {
	for _, r := range []struct{ key, column string }{
		{"az", "header.azimuth"},
		{"el", "header.elevation"},
		{"crpa", "header.cass_rotator_pa"},
	} {
		v, ok := a.s.values[r.key]
		if !ok {
			continue
		}

		lo, hi, ok := parseRange(v)
		if !ok {
			continue
		}

		a.where(r.column+" >= ? AND "+r.column+" < ?", lo, hi)
		a.propCoords()
	}
}

func parseRange(s string) (float64, float64, bool) {
	m := rangeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}

	lo, err1 := strconv.ParseFloat(m[1], 64)
	hi, err2 := strconv.ParseFloat(m[2], 64)

	return lo, hi, err1 == nil && err2 == nil
}

// searchRadius 返回搜索半径 (度)，缺省或无效时改用 3 角分并记录警告.
func (a *applier) searchRadius() float64 {
	v, ok := a.s.values["sr"]
	if ok {
		if sr, ok := gemini.SRToDeg(v); ok {
			return sr
		}

		a.s.Warn("Invalid Search Radius, defaulting to 3 arcmin")
	} else {
		a.s.Warn("No Search Radius given, defaulting to 3 arcmin")
	}

	a.s.values["sr"] = defaultSR
	sr, _ := gemini.SRToDeg(defaultSR)

	return sr
}

// coordinates 赤纬先于赤经处理，赤经的搜索半径要除以 cos(dec).
func (a *applier) coordinates() {
	cosdec := 1.0

	if v, ok := a.s.values["dec"]; ok {
		var lo, hi float64

		valid := true

		if m := decRangeRe.FindStringSubmatch(v); m == nil {
			deg, ok := gemini.DecToDeg(v)
			if ok {
				sr := a.searchRadius()
				lo, hi = deg-sr, deg+sr
				cosdec = math.Cos(deg * math.Pi / 180)
			} else {
				a.s.Warn("Invalid Dec format. Ignoring your Dec constraint.")
				valid = false
			}
		} else {
			var ok1, ok2 bool

			lo, ok1 = gemini.DecToDeg(m[1])
			hi, ok2 = gemini.DecToDeg(m[2])

			if ok1 && ok2 {
				cosdec = math.Cos((lo + hi) / 2 * math.Pi / 180)
			} else {
				a.s.Warn("Invalid Dec range format. Ignoring your Dec constraint.")
				valid = false
			}
		}

		if valid {
			// 负赤纬范围常写反，如 -20--30
			if hi < lo {
				lo, hi = hi, lo
			}

			a.where("header.dec >= ? AND header.dec < ?", lo, hi)
			a.propCoords()
		}
	}

	v, ok := a.s.values["ra"]
	if !ok {
		return
	}

	var lo, hi float64

	switch parts := strings.Split(v, "-"); len(parts) {
	case 1:
		deg, ok := gemini.RAToDeg(parts[0])
		if !ok {
			a.s.Warn("Invalid RA format. Ignoring your RA constraint.")
			return
		}

		sr := a.searchRadius()
		if cosdec != 0 {
			sr /= cosdec
		}

		lo, hi = deg-sr, deg+sr
	case 2:
		var ok1, ok2 bool

		lo, ok1 = gemini.RAToDeg(parts[0])
		hi, ok2 = gemini.RAToDeg(parts[1])

		if !ok1 || !ok2 {
			a.s.Warn("Invalid RA range format. Ignoring your RA constraint.")
			return
		}
	default:
		a.s.Warn("Invalid RA format. Ignoring your RA constraint.")
		return
	}

	// 上界小于下界时跨越 0 点
	if hi > lo {
		a.where("header.ra >= ? AND header.ra < ?", lo, hi)
	} else {
		a.where("(header.ra >= ? OR header.ra < ?)", lo, hi)
	}

	a.propCoords()
}

func (a *applier) exposureTime() {
	v, ok := a.s.values["exposure_time"]
	if !ok {
		return
	}

	v = strings.ReplaceAll(v, " ", "")
	a.s.values["exposure_time"] = v

	var lo, hi float64

	if m := expRangeRe.FindStringSubmatch(v); m != nil {
		var err1, err2 error

		lo, err1 = strconv.ParseFloat(m[1], 64)
		hi, err2 = strconv.ParseFloat(m[2], 64)

		if err1 != nil || err2 != nil {
			a.s.Warn("Invalid format for exposure time range. Ignoring it.")
			return
		}
	} else {
		expt, err := strconv.ParseFloat(v, 64)
		if err != nil {
			a.s.Warn("Invalid format for exposure time, ignoring it.")
			return
		}

		lo, hi = math.Max(expt-0.5, 0), expt+0.5
	}

	a.where("header.exposure_time >= ? AND header.exposure_time <= ?", lo, hi)
}

// centralWavelength 单位微米，有效范围 (0.2, 30).
func (a *applier) centralWavelength() {
	v, ok := a.s.values["cenwlen"]
	if !ok {
		return
	}

	const (
		minWlen = 0.2
		maxWlen = 30.0
		invalid = "Central Wavelength value is invalid and has been ignored"
	)

	var lo, hi float64

	switch parts := strings.Split(v, "-"); len(parts) {
	case 1:
		c, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			a.s.Warn(invalid)
			return
		}

		lo, hi = c-0.1, c+0.1
	case 2:
		var err1, err2 error

		lo, err1 = strconv.ParseFloat(parts[0], 64)
		hi, err2 = strconv.ParseFloat(parts[1], 64)

		if err1 != nil || err2 != nil {
			a.s.Warn(invalid)
			return
		}
	default:
		a.s.Warn(invalid)
		return
	}

	if lo > hi {
		lo, hi = hi, lo
	}

	inRange := func(x float64) bool { return x > minWlen && x < maxWlen }

	if !inRange(lo) || !inRange(hi) {
		if lo > maxWlen || hi < minWlen {
			a.s.Warn("Invalid Central wavelength value. Value should be in microns, >0.2 and <30.0 - Ignoring terms")
			return
		}

		a.s.Warn("Invalid Central wavelength value. Value should be in microns, >0.2 and <30.0")
		lo, hi = math.Max(lo, minWlen), math.Min(hi, maxWlen)
	}

	a.where("header.central_wavelength > ? AND header.central_wavelength < ?", lo, hi)
}

// program 出版物与项目文本检索需要关联 program 表. 文本按空白切词，全部命中才算匹配.
func (a *applier) program() {
	if v, ok := a.s.values["publication"]; ok {
		a.joinProgram()
		a.stmt = a.stmt.
			Joins("JOIN programpublication ON programpublication.program_id = program.id").
			Joins("JOIN publication ON publication.id = programpublication.publication_id")
		a.where("publication.bibcode = ?", v)
	}

	if v, ok := a.s.values["PIname"]; ok {
		a.joinProgram()

		for _, word := range strings.Fields(v) {
			like := "%" + strings.ToLower(word) + "%"
			a.where("(LOWER(program.pi_name) LIKE ? OR LOWER(program.pi_coi) LIKE ?)", like, like)
		}
	}

	if v, ok := a.s.values["ProgramText"]; ok {
		a.joinProgram()

		for _, word := range strings.Fields(v) {
			a.where("LOWER(program.title) LIKE ?", "%"+strings.ToLower(word)+"%")
		}
	}
}
