package fits

import (
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

// processedTags PROCxxx 关键字到处理后定标类型的映射.
var processedTags = []struct {
	keyword string
	tag     string
}{
	{"PROCBIAS", "BIAS"},
	{"PROCDARK", "DARK"},
	{"PROCFLAT", "FLAT"},
	{"PROCARC", "ARC"},
	{"PROCFRNG", "FRINGE"},
	{"PROCSTND", "STANDARD"},
	{"PROCSLIT", "SLITILLUM"},
	{"PROCBPM", "BPM"},
	{"PROCSCI", "SCIENCE"},
}

var obstypeTags = map[string]string{
	"BIAS":    "BIAS",
	"DARK":    "DARK",
	"FLAT":    "FLAT",
	"ARC":     "ARC",
	"PINHOLE": "PINHOLE",
	"RONCHI":  "RONCHI",
	"MASK":    "MASK",
}

func tags(k keywords, d *Descriptors) []string {
	t := []string{"GEMINI"}

	switch d.Telescope {
	case gemini.TelescopeNorth:
		t = append(t, "NORTH")
	case gemini.TelescopeSouth:
		t = append(t, "SOUTH")
	}

	if d.Instrument != "" {
		family := strings.ToUpper(d.Instrument)
		if gemini.IsGMOS(d.Instrument) {
			family = "GMOS"
		}

		t = append(t, family)
	}

	if tag, ok := obstypeTags[d.ObservationType]; ok {
		t = append(t, tag)
	}

	switch d.ObservationType {
	case "BIAS", "DARK", "FLAT", "ARC", "PINHOLE", "RONCHI", "MASK":
		t = append(t, "CAL")
	case "OBJECT":
		if strings.HasPrefix(strings.ToLower(d.ObservationClass), "partnercal") ||
			strings.EqualFold(d.ObservationClass, "progCal") {
			t = append(t, "CAL")
		}
	}

	if strings.EqualFold(d.Object, "Twilight") {
		t = append(t, "TWILIGHT", "FLAT", "CAL")
	}

	if strings.EqualFold(d.ObservationClass, "acq") || strings.EqualFold(d.ObservationClass, "acqCal") {
		t = append(t, "ACQUISITION")
	}

	if d.Spectroscopy {
		t = append(t, "SPECT")

		switch d.Mode {
		case "LS":
			t = append(t, "LS")
		case "MOS":
			t = append(t, "MOS")
		case "IFS":
			t = append(t, "IFU")
		}
	} else if d.Instrument != "" {
		t = append(t, "IMAGE")
	}

	if d.Nodandshuffle {
		t = append(t, "NODANDSHUFFLE")
	}

	if d.AdaptiveOptics {
		t = append(t, "AO")
	}

	if d.LaserGuideStar {
		t = append(t, "LGS")
	}

	processed := false

	for _, p := range processedTags {
		if k.has(p.keyword) {
			t = append(t, "PROCESSED", p.tag)
			processed = true
		}
	}

	switch {
	case d.Prepared:
		t = append(t, "PREPARED")
	case !processed:
		t = append(t, "RAW", "UNPREPARED")
	}

	if d.OverscanSubtracted {
		t = append(t, "OVERSCAN_SUBTRACTED")
	}

	if d.OverscanTrimmed {
		t = append(t, "OVERSCAN_TRIMMED")
	}

	if strings.EqualFold(d.ObservationClass, "partnerCal") && d.ObservationType == "OBJECT" {
		d.PhotStandard = true
	}

	return t
}

// reduction 归约状态: 处理后的定标为 PROCESSED_<TYPE>，其余为 PREPARED 或 RAW.
func reduction(k keywords, d *Descriptors) string {
	for _, p := range processedTags {
		if k.has(p.keyword) {
			return "PROCESSED_" + p.tag
		}
	}

	if d.Prepared {
		return "PREPARED"
	}

	return "RAW"
}
