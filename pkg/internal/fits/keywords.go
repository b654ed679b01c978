package fits

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// keywords 按 primary、扩展的顺序查找关键字.
type keywords struct {
	hdrs []*fitsio.Header
}

func newKeywords(f *fitsio.File) keywords {
	hdus := f.HDUs()
	kw := keywords{hdrs: make([]*fitsio.Header, 0, len(hdus))}

	for _, hdu := range hdus {
		kw.hdrs = append(kw.hdrs, hdu.Header())
	}

	return kw
}

func (k keywords) card(key string) *fitsio.Card {
	for _, h := range k.hdrs {
		if c := h.Get(key); c != nil && c.Value != nil {
			return c
		}
	}

	return nil
}

// str 返回第一个非空字符串值.
func (k keywords) str(keys ...string) string {
	for _, key := range keys {
		c := k.card(key)
		if c == nil {
			continue
		}

		if s := valueString(c.Value); s != "" {
			return s
		}
	}

	return ""
}

func (k keywords) float(keys ...string) *float64 {
	for _, key := range keys {
		c := k.card(key)
		if c == nil {
			continue
		}

		if v, ok := valueFloat(c.Value); ok {
			return &v
		}
	}

	return nil
}

func (k keywords) integer(keys ...string) *int {
	f := k.float(keys...)
	if f == nil {
		return nil
	}

	v := int(*f)

	return &v
}

// flag 逻辑值，也接受 "T"/"YES"/"IN" 之类的字符串.
func (k keywords) flag(key string) bool {
	c := k.card(key)
	if c == nil {
		return false
	}

	switch v := c.Value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "T", "TRUE", "YES", "Y", "IN":
			return true
		}
	}

	return false
}

func (k keywords) has(key string) bool {
	return k.card(key) != nil
}

// each 遍历每个 HDU 中某关键字的字符串值.
func (k keywords) each(key string) []string {
	var out []string

	for _, h := range k.hdrs {
		if c := h.Get(key); c != nil {
			if s := valueString(c.Value); s != "" {
				out = append(out, s)
			}
		}
	}

	return out
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		if x {
			return "T"
		}

		return "F"
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *big.Int:
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func valueFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}

	return 0, false
}
