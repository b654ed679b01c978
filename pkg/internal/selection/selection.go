// Package selection 解析 URL 路径形式的选择条件，并把它翻译为
// Header ⨝ DiskFile ⨝ File 上的查询.
//
// 路径按 '/' 切分为若干段，每段依次尝试: 类型化取值、key=value、
// 布尔关键字、简单关联、程序号/观测号/数据标签、其他裸关键字、日期与日期范围.
// 无法识别的段记录在 NotRecognised 中.
package selection

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrOpenQuery 选择没有限定日期、程序、观测、数据标签或文件名.
var ErrOpenQuery = errors.New("selection does not constrain the result set")

// 选择条件的键.
const (
	KeyProgramID     = "program_id"
	KeyObservationID = "observation_id"
	KeyDataLabel     = "data_label"
	KeyDate          = "date"
	KeyDateRange     = "daterange"
	KeyNight         = "night"
	KeyNightRange    = "nightrange"
	KeyFilename      = "filename"
	KeyFilePre       = "filepre"
	KeyTelescope     = "telescope"
	KeyInstrument    = "inst"
	KeyObsType       = "observation_type"
	KeyObsClass      = "observation_class"
	KeyCalType       = "caltype"
	KeyCalOption     = "caloption"
	KeyProcessing    = "processing"
	KeyReduction     = "reduction"
	KeyQAState       = "qa_state"
	KeyObject        = "object"
	KeyCols          = "cols"

	KeyPresent     = "present"
	KeyCanonical   = "canonical"
	KeyEngineering = "engineering"
	KeySpectro     = "spectroscopy"
)

// openLimiters 任一出现即视为受限查询.
var openLimiters = []string{
	KeyDate, KeyDateRange, KeyNight, KeyNightRange,
	KeyProgramID, KeyObservationID, KeyDataLabel, KeyFilename, KeyFilePre,
}

// Selection 解析后的选择条件. 字符串条件与布尔条件分开保存.
type Selection struct {
	values map[string]string
	flags  map[string]bool
	// IncludeEngineering 显式包含工程数据，此时不按 engineering 过滤
	IncludeEngineering bool
	NotRecognised      []string
	Warnings           []string

	now time.Time
}

// New 创建空选择. now 用于解析 today/yesterday 等相对日期.
func New(now time.Time) *Selection {
	return &Selection{
		values: make(map[string]string),
		flags:  make(map[string]bool),
		now:    now,
	}
}

// Get 返回字符串条件.
func (s *Selection) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Value 返回字符串条件，不存在时为空串.
func (s *Selection) Value(key string) string {
	return s.values[key]
}

// Flag 返回布尔条件.
func (s *Selection) Flag(key string) (bool, bool) {
	v, ok := s.flags[key]
	return v, ok
}

// Has 是否设置了某个条件.
func (s *Selection) Has(key string) bool {
	_, ok := s.values[key]
	if !ok {
		_, ok = s.flags[key]
	}

	return ok
}

// Set 设置字符串条件.
func (s *Selection) Set(key, value string) {
	delete(s.flags, key)
	s.values[key] = value
}

// SetFlag 设置布尔条件.
func (s *Selection) SetFlag(key string, value bool) {
	delete(s.values, key)
	s.flags[key] = value
}

// Delete 删除条件.
func (s *Selection) Delete(key string) {
	delete(s.values, key)
	delete(s.flags, key)
}

// Keys 已设置的条件键，排序后返回.
func (s *Selection) Keys() []string {
	keys := make([]string, 0, len(s.values)+len(s.flags))
	for k := range s.values {
		keys = append(keys, k)
	}

	for k := range s.flags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Empty 没有任何条件.
func (s *Selection) Empty() bool {
	return len(s.values) == 0 && len(s.flags) == 0 && !s.IncludeEngineering
}

// IsOpen 选择没有限定日期、程序、观测、数据标签或文件名，可能命中大量结果.
func (s *Selection) IsOpen() bool {
	for _, k := range openLimiters {
		if s.Has(k) {
			return false
		}
	}

	return true
}

// CalType 请求的定标类型，未指定时为空串.
func (s *Selection) CalType() string {
	return s.values[KeyCalType]
}

// Warn 记录一条解析或查询警告.
func (s *Selection) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// Warning 合并后的警告文本.
func (s *Selection) Warning() string {
	return strings.Join(s.Warnings, " ")
}

// disambiguate 只保留数据标签、观测号、程序号中最具体的一个.
func (s *Selection) disambiguate() {
	if s.Has(KeyDataLabel) {
		s.Delete(KeyObservationID)
		s.Delete(KeyProgramID)
	}

	if s.Has(KeyObservationID) {
		s.Delete(KeyProgramID)
	}
}
