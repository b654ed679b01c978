package gemini

import (
	"regexp"
	"strings"
)

// CompressedSuffix bzip2 后缀.
const CompressedSuffix = ".bz2"

var (
	fitsFilenameRe = regexp.MustCompile(
		`^([NS])(20\d\d)([01]\d[0123]\d)(S)(\d\d\d\d)([\d-]*)(\w*)(?P<fits>\.fits)?$`)
	vfitsFilenameRe = regexp.MustCompile(
		`^(20)?(\d\d)(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)(\d\d)_(\d+)(?P<fits>\.fits)?$`)
)

// FitsFilename 识别观测数据文件名 (可带或不带 .fits、.bz2)，返回带 .fits 不带 .bz2 的规范名.
// 不像数据文件名时返回空串.
func FitsFilename(s string) string {
	s = strings.TrimSuffix(s, CompressedSuffix)

	for _, re := range []*regexp.Regexp{fitsFilenameRe, vfitsFilenameRe} {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}

		if m[re.SubexpIndex("fits")] == "" {
			return s + ".fits"
		}

		return s
	}

	return ""
}

// NormalizeFilename 文件逻辑名: 去掉 .bz2，数据文件名补齐 .fits.
func NormalizeFilename(s string) string {
	if n := FitsFilename(s); n != "" {
		return n
	}

	return strings.TrimSuffix(s, CompressedSuffix)
}

// IsCompressedName 是否为 bzip2 压缩文件名.
func IsCompressedName(s string) bool {
	return strings.HasSuffix(s, CompressedSuffix)
}
