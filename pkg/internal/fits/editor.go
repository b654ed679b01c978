package fits

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrHeaderFull END 所在块已无空位容纳新卡片.
	ErrHeaderFull = errors.New("no room for new card in primary header")
	// ErrProtectedKeyword 结构性关键字不可修改.
	ErrProtectedKeyword = errors.New("protected keyword")
	// ErrUnsupportedKeyword 关键字名不合法.
	ErrUnsupportedKeyword = errors.New("unsupported keyword")
	// ErrValueTooLong 值无法放入一张卡片.
	ErrValueTooLong = errors.New("value too long for card")
	// ErrNewKeyword RejectNew 时拒绝插入头中不存在的关键字.
	ErrNewKeyword = errors.New("new keyword rejected")
)

// protectedKeywords 修改后会改变文件结构的关键字.
var protectedKeywords = map[string]struct{}{
	"SIMPLE": {}, "BITPIX": {}, "NAXIS": {}, "EXTEND": {}, "END": {},
	"XTENSION": {}, "PCOUNT": {}, "GCOUNT": {}, "BLOCKED": {},
	"BSCALE": {}, "BZERO": {}, "CONTINUE": {},
}

var keywordRe = regexp.MustCompile(`^[A-Z0-9_-]{1,8}$`)

// KeywordEditor 在 primary 头中原地修改关键字. 文件长度不变: 新卡片写入 END 块的填充区.
type KeywordEditor struct {
	// RejectNew 只允许修改已有卡片
	RejectNew bool
}

// NewKeywordEditor 创建编辑器.
func NewKeywordEditor() *KeywordEditor {
	return &KeywordEditor{}
}

// Edit 读取 src，把 changes 应用到 primary 头后写入 dst. 值为 nil 表示删除该卡片.
func (e *KeywordEditor) Edit(dst io.Writer, src io.Reader, changes map[string]any) error {
	block := make([]byte, BlockSize)

	var header []byte

	for {
		if _, err := io.ReadFull(src, block); err != nil {
			return fmt.Errorf("%w: truncated primary header", ErrNotFITS)
		}

		if len(header) == 0 && !IsFITS(block) {
			return ErrNotFITS
		}

		header = append(header, block...)
		if endIndex(header) >= 0 {
			break
		}
	}

	if err := e.apply(header, changes); err != nil {
		return err
	}

	if _, err := dst.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy data: %w", err)
	}

	return nil
}

func endIndex(header []byte) int {
	for i := 0; i+CardSize <= len(header); i += CardSize {
		if cardKey(string(header[i:i+CardSize])) == "END" {
			return i / CardSize
		}
	}

	return -1
}

func (e *KeywordEditor) apply(header []byte, changes map[string]any) error {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}

	// 固定顺序，保证同一请求产生相同字节
	slices.Sort(keys)

	for _, raw := range keys {
		key := strings.ToUpper(strings.TrimSpace(raw))
		if !keywordRe.MatchString(key) {
			return fmt.Errorf("%w: %q", ErrUnsupportedKeyword, raw)
		}

		if _, ok := protectedKeywords[key]; ok || strings.HasPrefix(key, "NAXIS") {
			return fmt.Errorf("%w: %s", ErrProtectedKeyword, key)
		}

		value := changes[raw]
		idx := findCard(header, key)

		if value == nil {
			if idx >= 0 {
				removeCard(header, idx)
			}

			continue
		}

		comment := ""
		if idx >= 0 {
			comment = cardComment(string(header[idx*CardSize : (idx+1)*CardSize]))
		}

		card, err := FormatCard(key, value, comment)
		if err != nil {
			return err
		}

		if idx < 0 {
			if e.RejectNew {
				return fmt.Errorf("%w: %s", ErrNewKeyword, key)
			}

			end := endIndex(header)
			if (end+1)*CardSize >= len(header) {
				return fmt.Errorf("%w: %s", ErrHeaderFull, key)
			}

			// END 后移一位，新卡片占据原位置
			copy(header[(end+1)*CardSize:(end+2)*CardSize], header[end*CardSize:(end+1)*CardSize])
			idx = end
		}

		copy(header[idx*CardSize:(idx+1)*CardSize], card)
	}

	return nil
}

func findCard(header []byte, key string) int {
	for i := 0; i+CardSize <= len(header); i += CardSize {
		k := cardKey(string(header[i : i+CardSize]))
		if k == key {
			return i / CardSize
		}

		if k == "END" {
			break
		}
	}

	return -1
}

// removeCard 删除卡片，后续卡片前移，末尾补空格.
func removeCard(header []byte, idx int) {
	end := endIndex(header)
	copy(header[idx*CardSize:], header[(idx+1)*CardSize:(end+1)*CardSize])

	for i := end * CardSize; i < (end+1)*CardSize; i++ {
		header[i] = ' '
	}
}

func cardComment(card string) string {
	v := card[10:]
	if strings.HasPrefix(strings.TrimSpace(v), "'") {
		// 跳过字符串值，'' 为转义
		s := strings.TrimSpace(v)
		for i := 1; i < len(s); i++ {
			if s[i] != '\'' {
				continue
			}

			if i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}

			v = s[i+1:]

			break
		}
	}

	if _, c, ok := strings.Cut(v, "/"); ok {
		return strings.TrimSpace(c)
	}

	return ""
}

// FormatCard 生成 80 字节的定长卡片. 字符串值左对齐，其余右对齐到第 30 列.
func FormatCard(key string, value any, comment string) (string, error) {
	var v string

	switch x := value.(type) {
	case string:
		s := strings.ReplaceAll(x, "'", "''")
		if len(s) < 8 {
			s += strings.Repeat(" ", 8-len(s))
		}

		v = "'" + s + "'"
	case bool:
		v = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[x])
	case int:
		v = fmt.Sprintf("%20d", x)
	case int64:
		v = fmt.Sprintf("%20d", x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			v = fmt.Sprintf("%20s", strconv.FormatFloat(x, 'f', 1, 64))
		} else {
			v = fmt.Sprintf("%20s", strconv.FormatFloat(x, 'G', -1, 64))
		}
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrUnsupportedKeyword, key, value)
	}

	card := fmt.Sprintf("%-8s= %s", key, v)
	if len(card) > CardSize {
		return "", fmt.Errorf("%w: %s", ErrValueTooLong, key)
	}

	if comment != "" && len(card)+3 < CardSize {
		card += " / " + comment
	}

	if len(card) > CardSize {
		card = card[:CardSize]
	}

	return card + strings.Repeat(" ", CardSize-len(card)), nil
}
