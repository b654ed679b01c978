package ingest

import "github.com/yeisme/fitsvault/pkg/internal/model"

// Action ingest 决策.
type Action string

const (
	// ActionCreate 新 File 或没有 canonical 版本: 新建 DiskFile 并解析元数据
	ActionCreate Action = "create"
	// ActionUnchanged md5 与 canonical 相同，只更新 lastmod
	ActionUnchanged Action = "unchanged"
	// ActionSupersede 新 md5: 新 DiskFile 取代旧 canonical
	ActionSupersede Action = "supersede"
	// ActionResurrect 历史版本的 md5 再次出现: 恢复该版本，不重新解析
	ActionResurrect Action = "resurrect"
	// ActionNoop 头修改前后一致，未修改文件
	ActionNoop Action = "noop"
)

// decide 根据目录中已有版本与新观察到的 file_md5 决定动作. force 总是走 supersede.
// 返回的 DiskFile 为需要恢复的历史版本，仅 ActionResurrect 时非 nil.
func decide(disks []model.DiskFile, fileMD5 string, force bool) (Action, *model.DiskFile) {
	var canonical *model.DiskFile

	for i := range disks {
		if disks[i].Canonical {
			canonical = &disks[i]
			break
		}
	}

	if force {
		if canonical == nil {
			return ActionCreate, nil
		}

		return ActionSupersede, nil
	}

	if canonical != nil && canonical.FileMD5 == fileMD5 {
		return ActionUnchanged, nil
	}

	// 最新的历史版本优先
	for i := len(disks) - 1; i >= 0; i-- {
		if !disks[i].Canonical && disks[i].FileMD5 == fileMD5 {
			return ActionResurrect, &disks[i]
		}
	}

	if canonical == nil {
		return ActionCreate, nil
	}

	return ActionSupersede, nil
}

// canonicalCount 统计 canonical 版本数，大于 1 即不变量被破坏.
func canonicalCount(disks []model.DiskFile) int {
	n := 0

	for _, d := range disks {
		if d.Canonical {
			n++
		}
	}

	return n
}
