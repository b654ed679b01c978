package fits

import (
	"fmt"
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

// Validator 元数据校验. ok 为 false 时 DiskFile 记为 mdready=false.
type Validator interface {
	Validate(d *Descriptors) (ok bool, msgs []string)
}

// RuleValidator 默认规则集: 必需关键字与受控词表检查.
type RuleValidator struct {
	// Required 所有文件都必须有的描述符
	Required []string
}

// NewValidator 创建默认校验器.
func NewValidator() *RuleValidator {
	return &RuleValidator{Required: []string{"telescope", "instrument", "ut_datetime", "observation_type"}}
}

// Validate 检查描述符. 警告以 "warning: " 开头且不影响 ok.
func (v *RuleValidator) Validate(d *Descriptors) (bool, []string) {
	if d == nil {
		return false, []string{"no descriptors"}
	}

	var msgs []string

	ok := true
	fail := func(format string, args ...any) {
		ok = false

		msgs = append(msgs, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		msgs = append(msgs, "warning: "+fmt.Sprintf(format, args...))
	}

	// 站点监测数据不要求天文关键字
	if d.SiteMonitoring {
		return true, nil
	}

	for _, name := range v.Required {
		if missing(d, name) {
			fail("missing %s", name)
		}
	}

	if d.ObservationType != "" && gemini.ObservationType(d.ObservationType) == "" {
		fail("invalid observation_type %q", d.ObservationType)
	}

	if d.ObservationClass != "" && gemini.ObservationClass(d.ObservationClass) == "" {
		warn("unknown observation_class %q", d.ObservationClass)
	}

	if d.ProgramID != "" && !gemini.ParseProgramID(d.ProgramID).Valid {
		warn("unparseable program_id %q", d.ProgramID)
	}

	if d.DataLabel != "" && !gemini.ParseDataLabel(d.DataLabel).Valid {
		warn("unparseable data_label %q", d.DataLabel)
	}

	if d.Dec != nil && (*d.Dec < -90 || *d.Dec > 90) {
		fail("dec out of range: %v", *d.Dec)
	}

	if d.RA != nil && (*d.RA < 0 || *d.RA >= 360) {
		fail("ra out of range: %v", *d.RA)
	}

	if d.ExposureTime != nil && *d.ExposureTime < 0 {
		fail("negative exposure_time")
	}

	if d.DetectorBinning != "" && gemini.Binning(d.DetectorBinning) == "" {
		warn("unusual binning %s", d.DetectorBinning)
	}

	return ok, msgs
}

func missing(d *Descriptors, name string) bool {
	switch strings.ToLower(name) {
	case "telescope":
		return d.Telescope == ""
	case "instrument":
		return d.Instrument == ""
	case "ut_datetime":
		return d.UTDatetime == nil
	case "observation_type":
		return d.ObservationType == ""
	case "program_id":
		return d.ProgramID == ""
	case "data_label":
		return d.DataLabel == ""
	case "exposure_time":
		return d.ExposureTime == nil
	}

	return false
}

// CountMessages 统计错误与警告数.
func CountMessages(msgs []string) (errs, warnings int) {
	for _, m := range msgs {
		if strings.HasPrefix(m, "warning: ") {
			warnings++
		} else {
			errs++
		}
	}

	return errs, warnings
}
