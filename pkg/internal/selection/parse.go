package selection

import (
	"slices"
	"strings"
	"time"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

// typedTest 命中时返回规范化后的值.
type typedTest struct {
	key   string
	match func(string) string
}

// typedTests 按顺序尝试，第一个命中的生效.
var typedTests = []typedTest{
	{KeyTelescope, gemini.Telescope},
	{KeyFilename, gemini.FitsFilename},
	{KeyObsType, gemini.ObservationType},
	{KeyObsClass, gemini.ObservationClass},
	{KeyCalType, gemini.CalType},
	{KeyProcessing, gemini.ProcessingMode},
	{KeyReduction, gemini.ReductionState},
	{"disperser", gemini.GmosGrating},
	{"focal_plane_mask", gemini.GmosFocalPlaneMask},
	{"binning", gemini.Binning},
	{"gain", inList(gemini.GainSettings)},
	{"readspeed", inList(gemini.ReadspeedSettings)},
	{"welldepth", inList(gemini.WelldepthSettings)},
	{"readmode", inList(gemini.ReadmodeSettings)},
	{KeyInstrument, func(s string) string { return gemini.Instrument(s, true) }},
}

func inList(list []string) func(string) string {
	return func(s string) string {
		if slices.Contains(list, s) {
			return s
		}

		return ""
	}
}

// keyValues URL 中的 key 到选择键. 取值不做校验.
var keyValues = map[string]string{
	"filename":           KeyFilename,
	"disperser":          "disperser",
	"camera":             "camera",
	"mask":               "focal_plane_mask",
	"pupil_mask":         "pupil_mask",
	"filter":             "filter",
	"Filter":             "filter",
	"az":                 "az",
	"Az":                 "az",
	"azimuth":            "az",
	"Azimuth":            "az",
	"el":                 "el",
	"El":                 "el",
	"elevation":          "el",
	"Elevation":          "el",
	"ra":                 "ra",
	"RA":                 "ra",
	"dec":                "dec",
	"Dec":                "dec",
	"sr":                 "sr",
	"SR":                 "sr",
	"crpa":               "crpa",
	"CRPA":               "crpa",
	"filepre":            KeyFilePre,
	"cenwlen":            "cenwlen",
	"exposure_time":      "exposure_time",
	"coadds":             "coadds",
	"publication":        "publication",
	"PIname":             "PIname",
	"ProgramText":        "ProgramText",
	"raw_cc":             "raw_cc",
	"raw_iq":             "raw_iq",
	"raw_bg":             "raw_bg",
	"raw_wv":             "raw_wv",
	"gain":               "gain",
	"readspeed":          "readspeed",
	"welldepth":          "welldepth",
	"readmode":           "readmode",
	"date":               KeyDate,
	"daterange":          KeyDateRange,
	"night":              KeyNight,
	"nightrange":         KeyNightRange,
	"entrytimedaterange": "entrytimedaterange",
	"lastmoddaterange":   "lastmoddaterange",
	"processing_tag":     "processing_tag",
	"path":               "path",
}

type boolean struct {
	key   string
	value bool
}

var booleans = map[string]boolean{
	"imaging":                  {KeySpectro, false},
	"spectroscopy":             {KeySpectro, true},
	"present":                  {KeyPresent, true},
	"Present":                  {KeyPresent, true},
	"notpresent":               {KeyPresent, false},
	"NotPresent":               {KeyPresent, false},
	"canonical":                {KeyCanonical, true},
	"Canonical":                {KeyCanonical, true},
	"notcanonical":             {KeyCanonical, false},
	"NotCanonical":             {KeyCanonical, false},
	"engineering":              {KeyEngineering, true},
	"notengineering":           {KeyEngineering, false},
	"science_verification":     {"science_verification", true},
	"notscience_verification":  {"science_verification", false},
	"calprog":                  {"calprog", true},
	"notcalprog":               {"calprog", false},
	"site_monitoring":          {"site_monitoring", true},
	"not_site_monitoring":      {"site_monitoring", false},
	"photstandard":             {"photstandard", true},
	"mdgood":                   {"mdready", true},
	"mdbad":                    {"mdready", false},
	"gpi_astrometric_standard": {"gpi_astrometric_standard", true},
}

// associations 段本身作为某个键的值.
var associations = map[string]string{
	"warnings":    KeyCalOption,
	"missing":     KeyCalOption,
	"requires":    KeyCalOption,
	"takenow":     KeyCalOption,
	"Pass":        KeyQAState,
	"Usable":      KeyQAState,
	"Fail":        KeyQAState,
	"Undefined":   KeyQAState,
	"Win":         KeyQAState,
	"NotFail":     KeyQAState,
	"Lucky":       KeyQAState,
	"AnyQA":       KeyQAState,
	"CHECK":       KeyQAState,
	"UndefinedQA": KeyQAState,
	"AO":          "ao",
	"NOTAO":       "ao",
	"NOAO":        "ao",
}

// filePrefixes 短于完整文件名的日期前缀.
var filePrefixes = []string{"N200", "N201", "N202", "S200", "S201", "S202"}

// slashEscape 对象名中的 '/' 在 URL 中的写法.
const slashEscape = "=slash="

// Parse 把 URL 路径段解析为选择. archive 为假 (山顶部署) 时裸日期按观测夜解释.
func Parse(things []string, archive bool, now time.Time) *Selection {
	s := New(now)

	for _, thing := range things {
		if thing == "" {
			continue
		}

		s.parseThing(thing, archive)
	}

	s.disambiguate()

	return s
}

// Split 切分 URL 路径.
func Split(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

func (s *Selection) parseThing(thing string, archive bool) {
	for _, t := range typedTests {
		if v := t.match(thing); v != "" {
			s.Set(t.key, v)
			return
		}
	}

	key, value, isPair := strings.Cut(thing, "=")
	if !isPair {
		value = thing
	}

	if isPair {
		if k, ok := keyValues[key]; ok {
			s.Set(k, value)
			return
		}

		if key == KeyCols {
			s.Set(KeyCols, value)
			return
		}
	}

	if b, ok := booleans[thing]; ok {
		s.SetFlag(b.key, b.value)
		return
	}

	if thing == "includeengineering" {
		s.Delete(KeyEngineering)
		s.IncludeEngineering = true

		return
	}

	if k, ok := associations[thing]; ok {
		s.Set(k, thing)
		return
	}

	if p := gemini.ParseProgramID(thing); p.Valid {
		s.Set(KeyProgramID, p.ID)
		return
	}

	switch {
	case key == "progid":
		value = strings.TrimSpace(value)

		switch {
		case gemini.ParseDataLabel(value).Valid:
			s.Set(KeyDataLabel, value)
		case gemini.ParseObservationID(value).Valid:
			s.Set(KeyObservationID, value)
		default:
			s.Set(KeyProgramID, value)
		}
	case gemini.ParseObservationID(thing).Valid || key == "obsid":
		s.Set(KeyObservationID, strings.TrimSpace(value))
	case gemini.ParseDataLabel(thing).Valid || key == "datalabel":
		s.Set(KeyDataLabel, strings.TrimSpace(value))
	case thing == "LGS" || thing == "NGS":
		s.Set("lgs", thing)
		s.Set("ao", "AO")
	case thing == "Raw" || thing == "Quick-Look" || thing == "Science-Quality":
		s.Set(KeyProcessing, thing)
	case gemini.DetectorROIs[strings.ToLower(thing)] != "":
		s.Set("detector_roi", gemini.DetectorROIs[strings.ToLower(thing)])
	case strings.EqualFold(thing, "preimage"):
		s.SetFlag("pre_image", true)
	case strings.EqualFold(thing, "twilight"):
		s.SetFlag("twilight", true)
	case strings.EqualFold(thing, "nottwilight"):
		s.SetFlag("twilight", false)
	case len(thing) < 14 && len(thing) >= 4 && slices.Contains(filePrefixes, thing[:4]):
		s.Set(KeyFilePre, thing)
	case isPair && (key == "object" || key == "Object"):
		s.Set(KeyObject, strings.ReplaceAll(value, slashEscape, "/"))
	case thing == "LS" || thing == "MOS" || thing == "IFS":
		s.Set("mode", thing)
		s.SetFlag(KeySpectro, true)
	case strings.EqualFold(thing, "standard"):
		s.SetFlag("standard", true)
	case isRawDate(thing, s.now):
		if archive {
			s.Set(KeyDate, thing)
		} else {
			s.Set(KeyNight, thing)
		}
	case isRawDateRange(thing, s.now):
		if archive {
			s.Set(KeyDateRange, thing)
		} else {
			s.Set(KeyNightRange, thing)
		}
	default:
		s.NotRecognised = append(s.NotRecognised, thing)
	}
}

// isRawDate 只接受日期 (不含时间).
func isRawDate(thing string, now time.Time) bool {
	d, ok := gemini.ParseDate(thing, now)
	return ok && d.IsDate
}

func isRawDateRange(thing string, now time.Time) bool {
	_, _, ok := gemini.ParseDateRange(thing, now)
	return ok
}
