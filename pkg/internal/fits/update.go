package fits

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// ErrInvalidUpdate 头修改请求中的取值无法识别.
var ErrInvalidUpdate = errors.New("invalid header update")

var qaStateCards = map[string]map[string]any{
	"undefined": {"RAWGEMQA": "UNKNOWN", "RAWPIREQ": "UNKNOWN"},
	"pass":      {"RAWGEMQA": "USABLE", "RAWPIREQ": "YES"},
	"usable":    {"RAWGEMQA": "USABLE", "RAWPIREQ": "NO"},
	"fail":      {"RAWGEMQA": "BAD", "RAWPIREQ": "NO"},
	"check":     {"RAWGEMQA": "CHECK", "RAWPIREQ": "CHECK"},
}

var rawSiteCards = map[string]map[string]any{
	"bg20": {"RAWBG": "20-percentile"}, "bg50": {"RAWBG": "50-percentile"},
	"bg80": {"RAWBG": "80-percentile"}, "bgany": {"RAWBG": "Any"},
	"cc50": {"RAWCC": "50-percentile"}, "cc70": {"RAWCC": "70-percentile"},
	"cc80": {"RAWCC": "80-percentile"}, "ccany": {"RAWCC": "Any"},
	"iq20": {"RAWIQ": "20-percentile"}, "iq70": {"RAWIQ": "70-percentile"},
	"iq85": {"RAWIQ": "85-percentile"}, "iqany": {"RAWIQ": "Any"},
	"wv20": {"RAWWV": "20-percentile"}, "wv50": {"RAWWV": "50-percentile"},
	"wv80": {"RAWWV": "80-percentile"}, "wvany": {"RAWWV": "Any"},
}

// HeaderUpdate 头修改请求. 高层字段展开为具体关键字，Generic 原样写入.
type HeaderUpdate struct {
	QAState   string         `json:"qa_state,omitempty"`
	RawSite   []string       `json:"raw_site,omitempty"`
	Release   string         `json:"release,omitempty"`
	Generic   map[string]any `json:"generic,omitempty"`
	RejectNew bool           `json:"reject_new,omitempty"`
}

// Empty 请求不包含任何修改.
func (u *HeaderUpdate) Empty() bool {
	return u.QAState == "" && len(u.RawSite) == 0 && u.Release == "" && len(u.Generic) == 0
}

// Changes 展开为关键字到值的映射.
func (u *HeaderUpdate) Changes() (map[string]any, error) {
	out := make(map[string]any)

	if u.QAState != "" {
		cards, ok := qaStateCards[strings.ToLower(u.QAState)]
		if !ok {
			return nil, fmt.Errorf("%w: qa_state %q", ErrInvalidUpdate, u.QAState)
		}

		maps.Copy(out, cards)
	}

	for _, site := range u.RawSite {
		cards, ok := rawSiteCards[strings.ToLower(site)]
		if !ok {
			return nil, fmt.Errorf("%w: raw_site %q", ErrInvalidUpdate, site)
		}

		maps.Copy(out, cards)
	}

	if u.Release != "" {
		if _, err := time.Parse(time.DateOnly, u.Release); err != nil {
			return nil, fmt.Errorf("%w: release %q", ErrInvalidUpdate, u.Release)
		}

		out["RELEASE"] = u.Release
	}

	for k, v := range u.Generic {
		key := strings.ToUpper(strings.TrimSpace(k))
		if !keywordRe.MatchString(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyword, k)
		}

		out[key] = v
	}

	return out, nil
}
