package service

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

// 查询日志中的 summarytype.
const (
	KindFileList  = "jsonfilelist"
	KindFileNames = "jsonfilenames"
	KindSummary   = "jsonsummary"
)

// Listing 一次选择查询的结果. Headers 已预加载 DiskFile 与 File.
type Listing struct {
	Headers   []model.Header
	Truncated bool
	Open      bool
}

// withCatalogDefaults 未指定 present 或 canonical 时只返回 canonical 版本.
func withCatalogDefaults(sel *selection.Selection) {
	if !sel.Has(selection.KeyPresent) && !sel.Has(selection.KeyCanonical) {
		sel.SetFlag(selection.KeyCanonical, true)
	}
}

// List 执行选择查询. 开放查询按时间倒序取最近的 summary_open 行，受限查询正序取
// summary_closed 行. byName 为真时先按文件名排序.
func (s *ArchiveService) List(ctx context.Context, sel *selection.Selection, kind string, byName bool) (*Listing, error) {
	withCatalogDefaults(sel)

	started := s.now().UTC()
	open := sel.IsOpen()

	limit, order := s.cfg.Limits.SummaryClosed, "header.ut_datetime ASC"
	if open {
		limit, order = s.cfg.Limits.SummaryOpen, "header.ut_datetime DESC"
	}

	stmt := sel.Apply(selection.Query(s.db.WithContext(ctx)))
	if byName {
		stmt = stmt.Order("file.name ASC")
	}

	var headers []model.Header

	err := stmt.Order(order).Order("diskfile.id ASC").
		Limit(limit + 1).
		Preload("DiskFile.File").
		Find(&headers).Error
	if err != nil {
		return nil, fmt.Errorf("run %s query: %w", kind, err)
	}

	l := &Listing{Headers: headers, Open: open}
	if len(headers) > limit {
		l.Headers, l.Truncated = headers[:limit], true
	}

	s.audit(ctx, &model.QueryLog{
		UsageLogID:  UsageLogID(ctx),
		Summarytype: kind,
		Selection:   sel.Say(),
		NumResults:  len(l.Headers),
		QueryStart:  started,
		QueryEnd:    s.now().UTC(),
	})

	return l, nil
}

// FileList jsonfilelist.
func (s *ArchiveService) FileList(ctx context.Context, sel *selection.Selection) ([]types.FileListItem, error) {
	l, err := s.List(ctx, sel, KindFileList, true)
	if err != nil {
		return nil, err
	}

	pending, err := s.pendingIngest(ctx, l.Headers)
	if err != nil {
		return nil, err
	}

	out := make([]types.FileListItem, 0, len(l.Headers))
	for i := range l.Headers {
		out = append(out, fileListItem(&l.Headers[i], pending))
	}

	return out, nil
}

// FileNames jsonfilenames.
func (s *ArchiveService) FileNames(ctx context.Context, sel *selection.Selection) ([]types.FileNameItem, error) {
	l, err := s.List(ctx, sel, KindFileNames, true)
	if err != nil {
		return nil, err
	}

	out := make([]types.FileNameItem, 0, len(l.Headers))

	for i := range l.Headers {
		if df := l.Headers[i].DiskFile; df != nil {
			out = append(out, types.FileNameItem{Filename: df.Filename})
		}
	}

	return out, nil
}

// Summary jsonsummary. 受保护坐标按请求方身份隐藏，结果被截断时最后一行带 results_truncated.
func (s *ArchiveService) Summary(ctx context.Context, p *access.Principal, sel *selection.Selection) ([]types.SummaryItem, error) {
	l, err := s.List(ctx, sel, KindSummary, false)
	if err != nil {
		return nil, err
	}

	pending, err := s.pendingIngest(ctx, l.Headers)
	if err != nil {
		return nil, err
	}

	out := make([]types.SummaryItem, 0, len(l.Headers))

	for i := range l.Headers {
		h := &l.Headers[i]
		s.gate.Redact(p, h, fileName(h))
		out = append(out, summaryItem(h, pending))
	}

	if l.Truncated && len(out) > 0 {
		out[len(out)-1].ResultsTruncated = true
	}

	return out, nil
}

// pendingIngest 返回在 ingest 队列中等待 (未失败) 的文件名集合.
func (s *ArchiveService) pendingIngest(ctx context.Context, headers []model.Header) (map[string]struct{}, error) {
	names := make([]string, 0, 2*len(headers))

	for i := range headers {
		if df := headers[i].DiskFile; df != nil {
			names = append(names, df.Filename, fileName(&headers[i]))
		}
	}

	out := make(map[string]struct{})
	if len(names) == 0 {
		return out, nil
	}

	var queued []string

	err := s.db.WithContext(ctx).Model(&model.IngestQueueEntry{}).
		Where("filename IN ? AND failed = ?", names, false).
		Distinct().Pluck("filename", &queued).Error
	if err != nil {
		return nil, fmt.Errorf("read ingest queue: %w", err)
	}

	for _, n := range queued {
		out[n] = struct{}{}
	}

	return out, nil
}

func fileName(h *model.Header) string {
	if h.DiskFile == nil {
		return ""
	}

	if h.DiskFile.File != nil {
		return h.DiskFile.File.Name
	}

	return h.DiskFile.Filename
}

func fileListItem(h *model.Header, pending map[string]struct{}) types.FileListItem {
	df := h.DiskFile
	if df == nil {
		return types.FileListItem{}
	}

	name := fileName(h)
	_, p1 := pending[df.Filename]
	_, p2 := pending[name]

	return types.FileListItem{
		Name:          name,
		Filename:      df.Filename,
		Path:          df.Path,
		Compressed:    df.Compressed,
		FileSize:      df.FileSize,
		DataSize:      df.DataSize,
		FileMD5:       df.FileMD5,
		DataMD5:       df.DataMD5,
		Lastmod:       df.Lastmod.UTC(),
		Entrytime:     df.Entrytime.UTC(),
		MdReady:       df.MdReady,
		Size:          df.FileSize,
		MD5:           df.FileMD5,
		PendingIngest: p1 || p2,
	}
}

func summaryItem(h *model.Header, pending map[string]struct{}) types.SummaryItem {
	return types.SummaryItem{
		FileListItem:        fileListItem(h, pending),
		ProgramID:           h.ProgramID,
		Engineering:         h.Engineering,
		ScienceVerification: h.ScienceVerification,
		CalibrationProgram:  h.CalibrationProgram,
		ObservationID:       h.ObservationID,
		DataLabel:           h.DataLabel,
		Telescope:           h.Telescope,
		Instrument:          h.Instrument,
		UTDatetime:          utc(h.UTDatetime),
		LocalTime:           h.LocalTime,
		ObservationType:     h.ObservationType,
		ObservationClass:    h.ObservationClass,
		Object:              h.Object,
		RA:                  h.RA,
		Dec:                 h.Dec,
		Azimuth:             h.Azimuth,
		Elevation:           h.Elevation,
		CassRotatorPA:       h.CassRotatorPA,
		Airmass:             h.Airmass,
		FilterName:          h.FilterName,
		ExposureTime:        h.ExposureTime,
		Disperser:           h.Disperser,
		Camera:              h.Camera,
		CentralWavelength:   h.CentralWavelength,
		WavelengthBand:      h.WavelengthBand,
		FocalPlaneMask:      h.FocalPlaneMask,
		DetectorBinning:     h.DetectorBinning,
		DetectorROISetting:  h.DetectorROISetting,
		Spectroscopy:        h.Spectroscopy,
		Mode:                h.Mode,
		AdaptiveOptics:      h.AdaptiveOptics,
		LaserGuideStar:      h.LaserGuideStar,
		WavefrontSensor:     h.WavefrontSensor,
		GcalLamp:            h.GcalLamp,
		RawIQ:               h.RawIQ,
		RawCC:               h.RawCC,
		RawWV:               h.RawWV,
		RawBG:               h.RawBG,
		QAState:             h.QAState,
		Release:             utc(h.Release),
		Reduction:           h.Reduction,
		Types:               h.Types,
		PhotStandard:        h.PhotStandard,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	u := t.UTC()

	return &u
}

// loadDiskFiles 按 id 读取 DiskFile 并预加载 File.
func loadDiskFiles(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]*model.DiskFile, error) {
	out := make(map[uint]*model.DiskFile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []model.DiskFile
	if err := db.WithContext(ctx).Preload("File").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load diskfiles: %w", err)
	}

	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}

	return out, nil
}

// attachDiskFiles 为 headers 填充 DiskFile.
func attachDiskFiles(ctx context.Context, db *gorm.DB, headers []model.Header) error {
	ids := make([]uint, 0, len(headers))
	for i := range headers {
		ids = append(ids, headers[i].DiskFileID)
	}

	dfs, err := loadDiskFiles(ctx, db, ids)
	if err != nil {
		return err
	}

	for i := range headers {
		headers[i].DiskFile = dfs[headers[i].DiskFileID]
	}

	return nil
}
