package service

import (
	"context"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/preview"
	"github.com/yeisme/fitsvault/pkg/internal/types"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

// QueueStatus 各工作队列的计数.
func (s *ArchiveService) QueueStatus(ctx context.Context) (*types.QueueStatusResponse, error) {
	st, err := workqueue.StatusAll(ctx, s.db, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("read queue status: %w", err)
	}

	return &types.QueueStatusResponse{Queues: st}, nil
}

// Preview 打开文件的预览图. 与下载相同的访问规则.
func (s *ArchiveService) Preview(ctx context.Context, p *access.Principal, filename string) (io.ReadCloser, error) {
	name := gemini.NormalizeFilename(filename)

	_, h, err := s.Canonical(ctx, name)
	if err != nil {
		return nil, err
	}

	if !s.gate.Decide(p, h, name).Allowed {
		return nil, access.ErrDenied
	}

	return preview.Open(ctx, s.db, s.store, name)
}

// curationCheck 一项目录约束检查. where 作用于 diskfile ⨝ header.
type curationCheck struct {
	name  string
	where func(db *gorm.DB) *gorm.DB
	out   func(r *types.CurationReport) *[]types.CurationRow
}

var curationChecks = []curationCheck{
	{
		name: "duplicate data labels",
		where: func(db *gorm.DB) *gorm.DB {
			return db.Where("diskfile.canonical = ? AND header.data_label <> '' AND header.data_label IN (?)", true,
				db.Session(&gorm.Session{NewDB: true}).Table("header").
					Joins("JOIN diskfile ON diskfile.id = header.diskfile_id").
					Where("diskfile.canonical = ? AND header.data_label <> ''", true).
					Group("header.data_label").Having("COUNT(*) > 1").Select("header.data_label"))
		},
		out: func(r *types.CurationReport) *[]types.CurationRow { return &r.DuplicateDataLabels },
	},
	{
		name: "duplicate canonicals",
		where: func(db *gorm.DB) *gorm.DB {
			return db.Where("diskfile.canonical = ? AND diskfile.file_id IN (?)", true,
				db.Session(&gorm.Session{NewDB: true}).Table("diskfile").
					Where("canonical = ?", true).
					Group("file_id").Having("COUNT(*) > 1").Select("file_id"))
		},
		out: func(r *types.CurationReport) *[]types.CurationRow { return &r.DuplicateCanonicals },
	},
	{
		name: "duplicate present",
		where: func(db *gorm.DB) *gorm.DB {
			return db.Where("diskfile.present = ? AND diskfile.file_id IN (?)", true,
				db.Session(&gorm.Session{NewDB: true}).Table("diskfile").
					Where("present = ?", true).
					Group("file_id").Having("COUNT(*) > 1").Select("file_id"))
		},
		out: func(r *types.CurationReport) *[]types.CurationRow { return &r.DuplicatePresent },
	},
	{
		name: "present not canonical",
		where: func(db *gorm.DB) *gorm.DB {
			return db.Where("diskfile.present = ? AND diskfile.canonical = ?", true, false)
		},
		out: func(r *types.CurationReport) *[]types.CurationRow { return &r.PresentNotCanonical },
	},
	{
		name: "canonical not present",
		where: func(db *gorm.DB) *gorm.DB {
			return db.Where("diskfile.canonical = ? AND diskfile.present = ?", true, false)
		},
		out: func(r *types.CurationReport) *[]types.CurationRow { return &r.CanonicalNotPresent },
	},
}

// Curation 检查目录约束: 每个 File 至多一个 canonical 与一个 present 版本，
// canonical 与 present 一致，canonical 版本的 data_label 不重复.
// excludeEngineering 跳过工程数据；instrument 非空时只检查该仪器.
func (s *ArchiveService) Curation(ctx context.Context, excludeEngineering bool, instrument string) (*types.CurationReport, error) {
	r := &types.CurationReport{ExcludedEngineering: excludeEngineering, RestrictedInstrument: instrument}

	for _, c := range curationChecks {
		stmt := s.db.WithContext(ctx).Table("diskfile").
			Select("diskfile.id AS disk_file_id, diskfile.file_id, diskfile.filename, header.data_label").
			Joins("LEFT JOIN header ON header.diskfile_id = diskfile.id")

		if excludeEngineering {
			stmt = stmt.Where("header.engineering IS NULL OR header.engineering = ?", false)
		}

		if instrument != "" {
			stmt = stmt.Where("header.instrument = ?", instrument)
		}

		rows := c.out(r)
		if err := c.where(stmt).Order("diskfile.file_id, diskfile.id").Scan(rows).Error; err != nil {
			return nil, fmt.Errorf("curation check %s: %w", c.name, err)
		}

		if *rows == nil {
			*rows = []types.CurationRow{}
		}
	}

	return r, nil
}
