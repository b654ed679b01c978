// Package gemini 提供天文台元数据的词表与解析工具:
// 文件名、程序号/观测号/数据标签语法、望远镜与仪器名、日期与日期范围、
// 队列排序键以及坐标换算. 不依赖数据库与存储.
package gemini

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	TelescopeNorth = "Gemini-North"
	TelescopeSouth = "Gemini-South"

	// InstrumentGMOS 同时匹配 GMOS-N 与 GMOS-S 的伞形名称.
	InstrumentGMOS = "GMOS"

	// SiteMonitorInstrument 全天相机.
	SiteMonitorInstrument = "GS_ALLSKYCAMERA"
)

var telescopes = map[string]string{
	"gemininorth": TelescopeNorth,
	"geminisouth": TelescopeSouth,
}

// Telescope 规范化望远镜名，修正大小写与 '-'/'_'. 无法识别时返回空串.
func Telescope(s string) string {
	k := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	return telescopes[k]
}

var instruments = map[string]string{
	"niri":      "NIRI",
	"nifs":      "NIFS",
	"gmos-n":    "GMOS-N",
	"gmos-s":    "GMOS-S",
	"michelle":  "michelle",
	"gnirs":     "GNIRS",
	"ghost":     "GHOST",
	"phoenix":   "PHOENIX",
	"texes":     "TEXES",
	"trecs":     "TReCS",
	"nici":      "NICI",
	"igrins-2":  "IGRINS-2",
	"igrins":    "IGRINS",
	"gsaoi":     "GSAOI",
	"oscir":     "OSCIR",
	"f2":        "F2",
	"gpi":       "GPI",
	"abu":       "ABU",
	"bhros":     "bHROS",
	"hrwfs":     "hrwfs",
	"flamingos": "FLAMINGOS",
	"cirpass":   "CIRPASS",
	"graces":    "GRACES",
	"alopeke":   "ALOPEKE",
	"zorro":     "ZORRO",
	"maroon-x":  "MAROON-X",
}

var hokupaaRe = regexp.MustCompile(`^(?i)hokup(a)+(\+)*quirc$`)

// Instrument 返回头信息中使用的官方仪器名，大小写不敏感.
// gmos 为真时接受伞形名 GMOS. 无法识别时返回空串.
func Instrument(s string, gmos bool) string {
	if v, ok := instruments[strings.ToLower(s)]; ok {
		return v
	}

	if s == "" {
		return ""
	}

	if hokupaaRe.MatchString(s) {
		return "Hokupaa+QUIRC"
	}

	if gmos && strings.EqualFold(s, InstrumentGMOS) {
		return InstrumentGMOS
	}

	return ""
}

// IsGMOS 是否为 GMOS-N 或 GMOS-S.
func IsGMOS(instrument string) bool {
	return instrument == "GMOS-N" || instrument == "GMOS-S"
}

var (
	// GainSettings 探测器增益.
	GainSettings = []string{"high", "low", "standard"}
	// ReadspeedSettings 读出速度，含 GHOST 的双臂组合.
	ReadspeedSettings = []string{
		"fast", "medium", "slow", "standard",
		"red:fast,blue:fast", "red:fast,blue:medium", "red:fast,blue:slow",
		"red:medium,blue:fast", "red:medium,blue:medium", "red:medium,blue:slow",
		"red:slow,blue:fast", "red:slow,blue:medium", "red:slow,blue:slow",
	}
	// WelldepthSettings 阱深.
	WelldepthSettings = []string{"Shallow", "Deep", "Invalid"}
	// ReadmodeSettings 读出模式.
	ReadmodeSettings = []string{
		"Classic", "NodAndShuffle", "Faint", "Faint_Object", "Faint_Objects",
		"Very_Faint_Objects", "Medium", "Medium_Object", "Bright", "Bright_Object",
		"Bright_Objects", "Very_Bright_Objects", "Low_Background",
		"Medium_Background", "High_Background",
	}

	// ProcessingModes 按处理程度从低到高排序，"先处理后原始" 的排序依赖该顺序.
	ProcessingModes = []string{"Failed", "Raw", "Quick-Look", "Science-Quality"}

	ObservationTypes = []string{
		"DARK", "ARC", "FLAT", "BIAS", "OBJECT", "PINHOLE", "RONCHI",
		"CAL", "FRINGE", "MASK", "STANDARD", "SLITILLUM", "BPM",
	}
	ObservationClasses = []string{"dayCal", "partnerCal", "acqCal", "acq", "science", "progCal"}

	ReductionStates = []string{
		"RAW", "PREPARED", "PROCESSED_FLAT", "PROCESSED_BIAS",
		"PROCESSED_FRINGE", "PROCESSED_ARC", "PROCESSED_DARK",
		"PROCESSED_TELLURIC", "PROCESSED_SCIENCE", "PROCESSED_BPM",
		"PROCESSED_STANDARD", "PROCESSED_SLITILLUM",
		"PROCESSED_PINHOLE", "PROCESSED_UNKNOWN",
	}

	// CalTypes 定标类型，全部小写以区别于观测类型.
	CalTypes = []string{
		"bias", "dark", "flat", "arc", "processed_bias", "processed_dark",
		"processed_flat", "processed_arc", "processed_fringe", "pinhole",
		"processed_pinhole", "ronchi_mask", "spectwilight", "lampoff_flat",
		"qh_flat", "specphot", "photometric_standard", "telluric_standard",
		"domeflat", "lampoff_domeflat", "mask", "polarization_standard",
		"astrometric_standard", "polarization_flat", "processed_standard",
		"processed_slitillum", "slitillum", "processed_bpm",
	}

	// QAStates 选择语法中的 QA 关键字.
	QAStates = []string{"Pass", "Usable", "Fail", "Win", "NotFail", "Lucky", "AnyQA", "CHECK", "UndefinedQA"}

	GmosGratings = []string{"MIRROR", "B480", "B600", "R600", "R400", "R831", "R150", "B1200"}

	gmosFacilityMasks = []string{
		"NS2.0arcsec", "IFU-R", "IFU-B", "focus_array_new", "Imaging",
		"2.0arcsec", "NS1.0arcsec", "NS0.75arcsec", "5.0arcsec", "1.5arcsec",
		"IFU-2", "NS1.5arcsec", "0.75arcsec", "1.0arcsec", "0.5arcsec",
	}

	// DetectorROIs 选择关键字到 ROI 设置名.
	DetectorROIs = map[string]string{
		"fullframe":       "Full Frame",
		"centralstamp":    "Central Stamp",
		"centralspectrum": "Central Spectrum",
		"central768":      "Central768",
		"central512":      "Central512",
		"central256":      "Central256",
		"custom":          "Custom",
	}
)

func oneOf(list []string, s string) string {
	if slices.Contains(list, s) {
		return s
	}

	return ""
}

// ObservationType 合法观测类型原样返回，否则空串.
func ObservationType(s string) string { return oneOf(ObservationTypes, s) }

// ObservationClass 合法观测类别原样返回，否则空串.
func ObservationClass(s string) string { return oneOf(ObservationClasses, s) }

// ReductionState 合法处理状态原样返回，否则空串.
func ReductionState(s string) string { return oneOf(ReductionStates, s) }

// ProcessingMode 合法处理模式原样返回，否则空串.
func ProcessingMode(s string) string { return oneOf(ProcessingModes, s) }

// CalType 合法定标类型原样返回，否则空串.
func CalType(s string) string { return oneOf(CalTypes, s) }

// ProcessingRank 处理模式的序号，未知返回 -1.
func ProcessingRank(s string) int { return slices.Index(ProcessingModes, s) }

// GmosGrating 合法 GMOS 光栅名原样返回，否则空串.
func GmosGrating(s string) string { return oneOf(GmosGratings, s) }

// GmosDispersion 由光栅名估算色散 (um/pix)，用于中心波长容差. MIRROR 与未知返回 false.
func GmosDispersion(grating string) (float64, bool) {
	g := GmosGrating(grating)
	if g == "" || g == "MIRROR" {
		return 0, false
	}

	lmm, err := strconv.ParseFloat(strings.Trim(g, "BR"), 64)
	if err != nil || lmm == 0 {
		return 0, false
	}

	return 0.03 / lmm, true
}

var gmosMOSMaskRe = regexp.MustCompile(
	`^G[NS]?(20\d\d)[ABFDLWVSX](.)(\d\d\d)-(\d\d)$|^G(20\d\d)[AB](\d\d\d\d)[CDFLQSV]-(\d\d)$`)

// GmosFocalPlaneMask 识别设施掩模名与 MOS 掩模名格式.
func GmosFocalPlaneMask(s string) string {
	if slices.Contains(gmosFacilityMasks, s) || gmosMOSMaskRe.MatchString(s) {
		return s
	}

	return ""
}

// Binning 识别 "1x1"、"2x4" 形式的合并设置.
func Binning(s string) string {
	a, b, ok := strings.Cut(s, "x")
	if !ok || len(a) != 1 || len(b) != 1 {
		return ""
	}

	if !strings.Contains("1248", a) || !strings.Contains("1248", b) {
		return ""
	}

	return s
}

// PercentileString 把站点条件百分位转为紧凑文本，如 (20, "IQ") -> IQ20.
func PercentileString(num *int, kind string) string {
	if num == nil {
		return "Undefined"
	}

	if *num == 100 {
		return kind + "Any"
	}

	return fmt.Sprintf("%s%02d", kind, *num)
}

// SiteMonitor 是否为站点监测仪器.
func SiteMonitor(instrument string) bool {
	return instrument == SiteMonitorInstrument
}
