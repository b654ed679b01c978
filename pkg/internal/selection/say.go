package selection

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

// sayLabels 描述文本中键的显示名，按输出顺序排列.
var sayLabels = []struct{ key, label string }{
	{KeyProgramID, "Program ID"},
	{KeyObservationID, "Observation ID"},
	{KeyDataLabel, "Data Label"},
	{KeyDate, "Date"},
	{KeyDateRange, "Daterange"},
	{KeyInstrument, "Instrument"},
	{KeyObsType, "ObsType"},
	{KeyObsClass, "ObsClass"},
	{KeyFilename, "Filename"},
	{"path", "Path"},
	{KeyProcessing, "Processing"},
	{"processing_tag", "Processing Tag"},
	{KeyObject, "Object Name"},
	{KeyEngineering, "Engineering Data"},
	{"science_verification", "Science Verification Data"},
	{"calprog", "Calibration Program"},
	{"disperser", "Disperser"},
	{"focal_plane_mask", "Focal Plane Mask"},
	{"pupil_mask", "Pupil Mask"},
	{"binning", "Binning"},
	{KeyCalType, "Calibration Type"},
	{KeyCalOption, "Calibration Option"},
	{"photstandard", "Photometric Standard"},
	{KeyReduction, "Reduction State"},
	{"twilight", "Twilight"},
	{"az", "Azimuth"},
	{"el", "Elevation"},
	{"ra", "RA"},
	{"dec", "Dec"},
	{"sr", "Search Radius"},
	{"crpa", "CRPA"},
	{KeyTelescope, "Telescope"},
	{"detector_roi", "Detector ROI"},
	{"gain", "Gain"},
	{"readspeed", "Read Speed"},
	{"welldepth", "Well Depth"},
	{"readmode", "Read Mode"},
	{KeyFilePre, "File Prefix"},
	{"mode", "Spectroscopy Mode"},
	{"cenwlen", "Central Wavelength"},
	{"camera", "Camera"},
	{"exposure_time", "Exposure Time"},
	{"coadds", "Coadds"},
	{"mdready", "MetaData OK"},
	{"gpi_astrometric_standard", "GPI Astrometric Standard"},
	{KeyNight, "Observing Night"},
	{KeyNightRange, "Observing Night Range"},
}

var qaStateLabels = map[string]string{
	"Win":     "Win (Pass or Usable)",
	"NotFail": "Not Fail",
	"Lucky":   "Lucky (Pass or Undefined)",
}

// Say 返回人类可读的选择描述，形如 "; Date: 20200101; Instrument: GMOS-N".
func (s *Selection) Say() string {
	var parts []string

	for _, l := range sayLabels {
		if v, ok := s.values[l.key]; ok {
			parts = append(parts, l.label+": "+v)
		} else if b, ok := s.flags[l.key]; ok {
			parts = append(parts, fmt.Sprintf("%s: %t", l.label, b))
		}
	}

	if s.flags["site_monitoring"] {
		parts = append(parts, "Is Site Monitoring Data")
	}

	if v, ok := s.flags[KeySpectro]; ok {
		if v {
			parts = append(parts, "Spectroscopy")
		} else {
			parts = append(parts, "Imaging")
		}
	}

	if v, ok := s.values[KeyQAState]; ok {
		if l, ok := qaStateLabels[v]; ok {
			v = l
		}

		parts = append(parts, "QA State: "+v)
	}

	if v, ok := s.values["ao"]; ok {
		if v == "AO" {
			parts = append(parts, "Adaptive Optics in beam")
		} else {
			parts = append(parts, "No Adaptive Optics in beam")
		}
	}

	if v, ok := s.values["lgs"]; ok {
		if v == "LGS" {
			parts = append(parts, "LGS")
		} else {
			parts = append(parts, "NGS")
		}
	}

	var ret string
	if len(parts) > 0 {
		ret = "; " + strings.Join(parts, "; ")
	}

	if len(s.NotRecognised) > 0 {
		ret += ". WARNING: I didn't understand these (case-sensitive) words: " + strings.Join(s.NotRecognised, " ")
	}

	return ret
}

// keyValueURL 以 key=value 形式写回 URL 的键.
var keyValueURL = map[string]bool{
	"ra": true, "dec": true, "sr": true, "filter": true, "cenwlen": true,
	"disperser": true, "camera": true, "exposure_time": true, "coadds": true,
	"pupil_mask": true, "PIname": true, "ProgramText": true, "gain": true,
	"readspeed": true, "welldepth": true, "readmode": true, KeyDate: true,
	KeyDateRange: true, KeyNight: true, KeyNightRange: true, KeyFilePre: true,
	"path": true, "processing_tag": true, "az": true, "el": true, "crpa": true,
	"raw_cc": true, "raw_iq": true, "raw_bg": true, "raw_wv": true,
	"entrytimedaterange": true, "lastmoddaterange": true,
}

// boolURL 布尔条件为真与为假时的 URL 段.
var boolURL = map[string][2]string{
	KeyPresent:             {"present", "notpresent"},
	KeyCanonical:           {"canonical", "notcanonical"},
	"twilight":             {"twilight", "nottwilight"},
	KeyEngineering:         {"engineering", "notengineering"},
	"calprog":              {"calprog", "notcalprog"},
	"science_verification": {"science_verification", "notscience_verification"},
	"site_monitoring":      {"site_monitoring", "not_site_monitoring"},
	KeySpectro:             {"spectroscopy", "imaging"},
	"mdready":              {"mdgood", "mdbad"},
	"pre_image":            {"preimage", ""},
	"photstandard":         {"photstandard", ""},
	"standard":             {"standard", ""},

	"gpi_astrometric_standard": {"gpi_astrometric_standard", ""},
}

var roiURL = map[string]string{
	"Full Frame":       "fullframe",
	"Central Spectrum": "centralspectrum",
	"Central Stamp":    "centralstamp",
	"Central768":       "central768",
	"Central512":       "central512",
	"Central256":       "central256",
	"Custom":           "custom",
}

// ToURL 把选择写回 URL 路径. 键按字母序输出，结果与解析顺序无关；
// withColumns 为假时省略 cols.
func (s *Selection) ToURL(withColumns bool) string {
	var b strings.Builder

	if s.IncludeEngineering {
		b.WriteString("/includeengineering")
	}

	for _, key := range s.Keys() {
		if v, ok := s.flags[key]; ok {
			seg, known := boolURL[key]
			if !known {
				continue
			}

			if v && seg[0] != "" {
				b.WriteString("/" + seg[0])
			} else if !v && seg[1] != "" {
				b.WriteString("/" + seg[1])
			}

			continue
		}

		v := s.values[key]

		switch {
		case key == KeyDateRange && s.Has(KeyDate), key == KeyNightRange && s.Has(KeyNight):
		case key == KeyDataLabel:
			if gemini.ParseDataLabel(v).Valid {
				b.WriteString("/" + v)
			} else {
				b.WriteString("/datalabel=" + v)
			}
		case key == KeyObservationID:
			if gemini.ParseObservationID(v).Valid {
				b.WriteString("/" + v)
			} else {
				b.WriteString("/obsid=" + v)
			}
		case key == KeyProgramID:
			if gemini.ParseProgramID(v).Valid {
				b.WriteString("/" + v)
			} else {
				b.WriteString("/progid=" + v)
			}
		case key == KeyObject:
			// '/' 在路由层会被当成分隔符
			b.WriteString("/object=" + strings.ReplaceAll(v, "/", slashEscape))
		case key == "publication":
			b.WriteString("/publication=" + url.QueryEscape(v))
		case key == "focal_plane_mask":
			b.WriteString("/mask=" + v)
		case key == "detector_roi":
			if seg, ok := roiURL[v]; ok {
				b.WriteString("/" + seg)
			} else {
				b.WriteString("/" + v)
			}
		case key == KeyCols:
			if withColumns {
				b.WriteString("/cols=" + v)
			}
		case key == KeyFilename && gemini.FitsFilename(v) == "":
			b.WriteString("/filename=" + v)
		case keyValueURL[key]:
			b.WriteString("/" + key + "=" + v)
		default:
			b.WriteString("/" + v)
		}
	}

	return b.String()
}
