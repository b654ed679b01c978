package service

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/yeisme/fitsvault/pkg/internal/cal"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	"github.com/yeisme/fitsvault/pkg/internal/types"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// calmgr 响应的 method 属性.
const (
	CalMgrMethodDB    = "database"
	CalMgrMethodCache = "calcache"
	CalMgrMethodPost  = "descriptors"
)

// tagFlags 由标签推出的描述符.
var tagFlags = []struct {
	tag string
	set func(d *fits.Descriptors)
}{
	{"GMOS_NODANDSHUFFLE", func(d *fits.Descriptors) { d.Nodandshuffle = true }},
	{"NODANDSHUFFLE", func(d *fits.Descriptors) { d.Nodandshuffle = true }},
	{"SPECT", func(d *fits.Descriptors) { d.Spectroscopy = true }},
	{"OVERSCAN_SUBTRACTED", func(d *fits.Descriptors) { d.OverscanSubtracted = true }},
	{"OVERSCAN_TRIMMED", func(d *fits.Descriptors) { d.OverscanTrimmed = true }},
	{"PREPARED", func(d *fits.Descriptors) { d.Prepared = true }},
}

// CalMgr 为选择命中的科学帧列出定标. caltype 未指定时为 all.
// 开放选择返回 selection.ErrOpenQuery.
func (s *ArchiveService) CalMgr(ctx context.Context, sel *selection.Selection) (*types.CalMgrResponse, error) {
	if sel.IsOpen() {
		return nil, selection.ErrOpenQuery
	}

	caltype := sel.CalType()
	if caltype == "" {
		caltype = cal.CaltypeAll
	}

	sel.SetFlag(selection.KeyCanonical, true)

	started := s.now().UTC()

	var headers []model.Header

	err := sel.Apply(selection.Query(s.db.WithContext(ctx))).
		Where("header.qa_state <> ?", "Fail").
		Order("header.ut_datetime DESC").
		Limit(s.cfg.Limits.CalmgrOpen).
		Preload("DiskFile.File").
		Find(&headers).Error
	if err != nil {
		return nil, fmt.Errorf("run calmgr query: %w", err)
	}

	resp := s.calMgrResponse(CalMgrMethodDB)
	if s.cfg.Archive.UseCalCache {
		resp.Method = CalMgrMethodCache
	}

	for i := range headers {
		h := &headers[i]

		ds := types.CalMgrDataset{Label: h.DataLabel, Filename: fileName(h), Calibrations: []types.CalMgrCal{}}
		if h.DiskFile != nil {
			ds.MD5 = h.DiskFile.DataMD5
		}

		if s.cfg.Archive.UseCalCache {
			err = s.fromCalCache(ctx, h.ID, caltype, &ds)
		} else {
			var d *cal.Descriptors

			d, err = cal.FromHeader(ctx, s.db, h)
			if err == nil {
				err = s.fromEngine(ctx, d, caltype, &ds)
			}
		}

		if err != nil {
			return nil, err
		}

		resp.Datasets = append(resp.Datasets, ds)
	}

	s.audit(ctx, &model.QueryLog{
		UsageLogID:  UsageLogID(ctx),
		Summarytype: "calmgr",
		Selection:   sel.Say(),
		NumResults:  len(headers),
		QueryStart:  started,
		QueryEnd:    s.now().UTC(),
	})

	return resp, nil
}

// CalMgrPost 为提交的描述符与标签寻找定标.
func (s *ArchiveService) CalMgrPost(ctx context.Context, caltype string, req *types.CalMgrRequest) (*types.CalMgrResponse, error) {
	if caltype == "" {
		return nil, ErrNoCaltype
	}

	d, err := descriptorsFromRequest(req)
	if err != nil {
		return nil, err
	}

	ds := types.CalMgrDataset{Label: d.DataLabel, Calibrations: []types.CalMgrCal{}}
	if err := s.fromEngine(ctx, d, caltype, &ds); err != nil {
		return nil, err
	}

	resp := s.calMgrResponse(CalMgrMethodPost)
	resp.Datasets = []types.CalMgrDataset{ds}

	return resp, nil
}

// ParseCalMgrForm 解析旧格式 descriptors=<dict>&types=<list>.
func ParseCalMgrForm(form url.Values) (*types.CalMgrRequest, error) {
	raw := form.Get("descriptors")
	if raw == "" {
		return nil, fmt.Errorf("%w: descriptors missing", ErrBadRequest)
	}

	v, err := ParsePyLiteral(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	desc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: descriptors is not a dictionary", ErrBadRequest)
	}

	req := &types.CalMgrRequest{Descriptors: desc}

	if raw := form.Get("types"); raw != "" {
		v, err := ParsePyLiteral(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}

		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: types is not a list", ErrBadRequest)
		}

		for _, t := range list {
			req.Types = append(req.Types, fmt.Sprint(t))
		}
	}

	return req, nil
}

func descriptorsFromRequest(req *types.CalMgrRequest) (*cal.Descriptors, error) {
	raw, err := sonic.Marshal(req.Descriptors)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	d := &cal.Descriptors{}
	if err := sonic.Unmarshal(raw, &d.Descriptors); err != nil {
		return nil, fmt.Errorf("%w: descriptors: %w", ErrBadRequest, err)
	}

	tags := slices.Concat(d.Tags, req.Tags, req.Types)
	for i := range tags {
		tags[i] = strings.ToUpper(strings.TrimSpace(tags[i]))
	}

	slices.Sort(tags)
	d.Tags = slices.Compact(tags)

	for _, f := range tagFlags {
		if slices.Contains(d.Tags, f.tag) {
			f.set(&d.Descriptors)
		}
	}

	if d.Instrument == "" {
		return nil, fmt.Errorf("%w: descriptors need an instrument", ErrBadRequest)
	}

	return d, nil
}

func (s *ArchiveService) calMgrResponse(method string) *types.CalMgrResponse {
	host, _ := os.Hostname()

	return &types.CalMgrResponse{Machine: host, Method: method, Generated: s.now().UTC()}
}

// fromEngine 直接运行定标引擎. 单个定标类型出错只记入 Failed.
func (s *ArchiveService) fromEngine(ctx context.Context, d *cal.Descriptors, caltype string, ds *types.CalMgrDataset) error {
	c := cal.New(ctx, s.db, d, cal.OptionsFrom(&s.cfg.Cal))

	caltypes := []string{caltype}
	if caltype == cal.CaltypeAll {
		caltypes = c.Applicable()
	}

	for _, ct := range caltypes {
		cals, err := c.Get(ct, 0)
		if err != nil {
			nlog.Logger().Warn().Err(err).Str("caltype", ct).Str("data_label", d.DataLabel).Msg("calibration lookup failed")
			ds.Failed = append(ds.Failed, ct)

			continue
		}

		if len(cals) == 0 {
			ds.Missing = append(ds.Missing, ct)
			continue
		}

		if err := attachDiskFiles(ctx, s.db, cals); err != nil {
			return err
		}

		for i := range cals {
			ds.Calibrations = append(ds.Calibrations, s.calEntry(ct, &cals[i]))
		}
	}

	return nil
}

// fromCalCache 读取预先计算的 calcache 边.
func (s *ArchiveService) fromCalCache(ctx context.Context, obsID uint, caltype string, ds *types.CalMgrDataset) error {
	edges, err := cal.Edges(ctx, s.db, s.cache, s.cfg.KV.GetTTL(), obsID)
	if err != nil {
		return err
	}

	ids := make([]uint, 0, len(edges))

	for _, e := range edges {
		if caltype == cal.CaltypeAll || e.Caltype == caltype {
			ids = append(ids, e.CalHID)
		}
	}

	if len(ids) == 0 {
		if caltype != cal.CaltypeAll {
			ds.Missing = append(ds.Missing, caltype)
		}

		return nil
	}

	var rows []model.Header
	if err := s.db.WithContext(ctx).Preload("DiskFile.File").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return fmt.Errorf("load calibration headers: %w", err)
	}

	byID := make(map[uint]*model.Header, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	for _, e := range edges {
		if caltype != cal.CaltypeAll && e.Caltype != caltype {
			continue
		}

		if h, ok := byID[e.CalHID]; ok {
			ds.Calibrations = append(ds.Calibrations, s.calEntry(e.Caltype, h))
		}
	}

	return nil
}

func (s *ArchiveService) calEntry(caltype string, h *model.Header) types.CalMgrCal {
	c := types.CalMgrCal{Caltype: caltype, Label: h.DataLabel, Filename: fileName(h)}

	if df := h.DiskFile; df != nil {
		c.MD5 = df.DataMD5
		c.URL = s.fileURL(df, c.Filename)
	}

	return c
}

// fileURL 文件的下载地址. 文件已不在存储上时为空.
func (s *ArchiveService) fileURL(df *model.DiskFile, name string) string {
	if !df.Present {
		return ""
	}

	if s.cfg.Archive.UseFileURL {
		return "file://" + path.Join(s.cfg.Storage.Root, df.Path, df.Filename)
	}

	return "http://" + s.cfg.Archive.PublicHost + "/file/" + path.Join(df.Path, name)
}
