package gemini

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	sexagesimalRe  = regexp.MustCompile(`^([+-]?)(\d*)[: ]([0-5]?\d)[: ]([0-5]?\d(?:\.\d*)?)$`)
	searchRadiusRe = regexp.MustCompile(`^([\d.]+)\s*(d|D|degs|Degs)?`)
)

// parseSexagesimal 解析 [+-]AA:MM:SS.sss，也接受空格分隔.
func parseSexagesimal(s string) (float64, bool) {
	m := sexagesimalRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}

	a, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}

	b, _ := strconv.ParseFloat(m[3], 64)
	c, _ := strconv.ParseFloat(m[4], 64)

	v := a + b/60 + c/3600
	if m[1] == "-" {
		v = -v
	}

	return v, true
}

// RAToDeg 识别十进制度数或 HH:MM:SS.sss 形式的赤经，返回度.
func RAToDeg(s string) (float64, bool) {
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return v, true
	}

	h, ok := parseSexagesimal(s)
	if !ok || h < 0 || h >= 24 {
		return 0, false
	}

	return h * 15, true
}

// DecToDeg 识别十进制度数或 [+-]DD:MM:SS.sss 形式的赤纬，返回度. 超出 ±90 无效.
func DecToDeg(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		var ok bool
		if v, ok = parseSexagesimal(s); !ok {
			return 0, false
		}
	}

	if v < -90 || v > 90 {
		return 0, false
	}

	return v, true
}

// SRToDeg 搜索半径换算为度. 默认单位角秒，以 d/degs 结尾时为度.
func SRToDeg(s string) (float64, bool) {
	m := searchRadiusRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	if m[2] == "" {
		v /= 3600
	}

	return v, true
}

// DegToRA 度转 HH:MM:SS.ss.
func DegToRA(deg float64) string {
	h, m, s := split60(deg / 15)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

// DegToDec 度转 +DD:MM:SS.ss.
func DegToDec(deg float64) string {
	sign := "+"
	if deg < 0 {
		sign = "-"
	}

	d, m, s := split60(math.Abs(deg))

	return fmt.Sprintf("%s%02d:%02d:%05.2f", sign, d, m, s)
}

func split60(v float64) (int, int, float64) {
	a := int(v)
	v = (v - float64(a)) * 60
	b := int(v)

	return a, b, (v - float64(b)) * 60
}
