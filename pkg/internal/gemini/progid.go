package gemini

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	calEngOldPattern = `G[NS]-((?:CAL)|(?:ENG))20\d\d[01]\d[0123]\d`
	calEngPattern    = `^G[NS]?-20\d\d[ABFDLWVSX]-((?:CAL)|(?:ENG))-([A-Za-z0-9_]*[A-Za-z_]+[A-Za-z0-9_]*-)?\d+`
	// G-YYYYT-M-BNNN 新格式的 T: A/B 常规学期, F FT, D DD, L LP, W PW, V SV, S DS, X XT
	sciencePattern = `^(G[NS]?)-(20\d\d([A-Z]))-(Q|C|SV|QS|DD|LP|FT|DS|ENG|CAL)-(\d+)`
)

var (
	calEngOldRe = regexp.MustCompile(`^` + calEngOldPattern + `$`)
	calEngRe    = regexp.MustCompile(calEngPattern + `$`)
	scienceRe   = regexp.MustCompile(sciencePattern + `$`)

	observationRe = regexp.MustCompile(fmt.Sprintf(
		`^((?:%s)|(?:%s)|(?:^%s))-(?P<obsnum>\d*)$`, calEngPattern, sciencePattern, calEngOldPattern))
	dataLabelRe = regexp.MustCompile(fmt.Sprintf(
		`^(?P<progid>(?:%s)|(?:%s)|(?:%s))-(?P<obsnum>\d*)-(?P<dlnum>\d*)(?:-(?P<extn>[-\w]*))?$`,
		calEngPattern, sciencePattern, calEngOldPattern))
)

// ProgramID 解析后的程序号.
type ProgramID struct {
	// ID 规范化后的程序号，旧格式去掉程序序号的前导零
	ID    string
	Valid bool
	IsCal bool
	IsEng bool
	IsQ   bool
	IsC   bool
	IsSV  bool
	IsFT  bool
	IsDS  bool
}

// ParseProgramID 解析程序号. 无法识别的格式视为临时工程程序 (IsEng 为真，Valid 为假).
func ParseProgramID(s string) ProgramID {
	s = strings.TrimSpace(s)
	p := ProgramID{ID: s}

	if m := calEngOldRe.FindStringSubmatch(s); m != nil {
		p.Valid = true
		p.IsEng = m[1] == "ENG"
		p.IsCal = m[1] == "CAL"

		return p
	}

	if m := calEngRe.FindStringSubmatch(s); m != nil {
		p.Valid = true
		p.IsEng = m[1] == "ENG"
		p.IsCal = m[1] == "CAL"

		return p
	}

	m := scienceRe.FindStringSubmatch(s)
	if m == nil {
		p.IsEng = true
		return p
	}

	site, semester, letter, kind, num := m[1], m[2], m[3], m[4], m[5]
	p.Valid = true
	p.IsQ = kind == "Q"
	p.IsC = kind == "C"
	p.IsEng = kind == "ENG"
	p.IsCal = kind == "CAL"

	if strings.HasPrefix(s, "G-") {
		p.IsSV = letter == "V"
		p.IsFT = letter == "F"
		p.IsDS = letter == "S"

		return p
	}

	p.IsSV = kind == "SV"
	p.IsFT = kind == "FT"
	p.IsDS = kind == "DS"

	if num[0] == '0' {
		n, _ := strconv.Atoi(num)
		p.ID = fmt.Sprintf("%s-%s-%s-%d", site, semester, kind, n)
	}

	return p
}

// Observation 解析后的观测号.
type Observation struct {
	ID        string
	ProgramID ProgramID
	ObsNum    string
	Valid     bool
}

// ParseObservationID 解析 "<progid>-<obsnum>".
func ParseObservationID(s string) Observation {
	s = strings.TrimSpace(s)

	m := observationRe.FindStringSubmatch(s)
	if s == "" || m == nil {
		return Observation{}
	}

	return Observation{
		ID:        s,
		ProgramID: ParseProgramID(m[1]),
		ObsNum:    m[observationRe.SubexpIndex("obsnum")],
		Valid:     true,
	}
}

// DataLabel 解析后的数据标签 "<progid>-<obsnum>-<dlnum>[-<extn>]".
type DataLabel struct {
	Label         string
	ProgramID     string
	ObservationID string
	ObsNum        string
	DLNum         string
	Extension     string
	// NoExtension 去掉扩展后缀的数据标签
	NoExtension string
	Valid       bool
}

// ParseDataLabel 解析数据标签.
func ParseDataLabel(s string) DataLabel {
	s = strings.TrimSpace(s)

	m := dataLabelRe.FindStringSubmatch(s)
	if s == "" || m == nil {
		return DataLabel{}
	}

	dl := DataLabel{
		Label:     s,
		ProgramID: m[dataLabelRe.SubexpIndex("progid")],
		ObsNum:    m[dataLabelRe.SubexpIndex("obsnum")],
		DLNum:     m[dataLabelRe.SubexpIndex("dlnum")],
		Extension: m[dataLabelRe.SubexpIndex("extn")],
		Valid:     true,
	}
	dl.ObservationID = dl.ProgramID + "-" + dl.ObsNum
	dl.NoExtension = dl.ObservationID + "-" + dl.DLNum

	return dl
}
