package gemini

import (
	"regexp"
	"strconv"
)

// sortkeyRules 按反向字母序决定优先级: z 最高 (科学数据)，其次 y (全天相机)，再次 x (观测日志).
var sortkeyRules = []struct {
	re     *regexp.Regexp
	prefix string
}{
	{regexp.MustCompile(`^[NS](?P<date>\d{8})\w(?P<num>\d+).*`), "z"},
	{regexp.MustCompile(`^SDC[SHK]_(?P<date>\d{8})_(?P<num>\d+).*`), "z"},
	{regexp.MustCompile(`^(?P<date>\d{8})_(?P<num>.*)_obslog\.txt`), "x"},
	{regexp.MustCompile(`^img_(?P<date>\d{8})_(?P<num>\w+).*`), "y"},
}

// UnmatchedSortkeyPrefix 不编码日期的文件名使用的前缀，排在所有编码日期的文件之后.
const UnmatchedSortkeyPrefix = "0000"

// Sortkey 由文件名计算队列排序键. 编码日期的文件名得到 优先级字母+日期+序号，
// 其余得到 "0000"+文件名. 排序键降序出队，因此新日期、高优先级先处理.
func Sortkey(filename string) string {
	for _, rule := range sortkeyRules {
		m := rule.re.FindStringSubmatch(filename)
		if m == nil {
			continue
		}

		return rule.prefix + m[rule.re.SubexpIndex("date")] + m[rule.re.SubexpIndex("num")]
	}

	return UnmatchedSortkeyPrefix + filename
}

// ExportSortkey 在文件名排序键前加入目的地优先级 (0-9).
func ExportSortkey(filename string, priority int) string {
	priority = max(0, min(priority, 9))

	return strconv.Itoa(priority) + Sortkey(filename)
}
