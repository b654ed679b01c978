package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

var (
	// ErrNoTarget update_headers 既没有 filename 也没有 data_label，或找不到对应文件.
	ErrNoTarget = errors.New("no file to update")
	// ErrIngestPending 同名文件已有待处理的 ingest 条目，头修改稍后重试.
	ErrIngestPending = errors.New("file already waiting for ingest")
)

// UploadArgs ingest_upload 参数.
type UploadArgs struct {
	Filename string `json:"filename"`
	// Path 暂存区内的子目录
	Path         string `json:"path"`
	ProcessedCal bool   `json:"processed_cal"`
	UploadLogID  uint   `json:"fileuploadlog_id"`
}

// UploadResult ingest_upload 的返回值.
type UploadResult struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Queued   bool   `json:"queued"`
}

// ingestUpload 把暂存区中的上传文件移入存储并排入 ingest.
func (p *Processor) ingestUpload(ctx context.Context, raw []byte) (any, error) {
	var a UploadArgs
	if err := sonic.Unmarshal(raw, &a); err != nil || a.Filename == "" {
		return nil, fmt.Errorf("%w: ingest_upload needs filename", ErrBadRequest)
	}

	log := nlog.Component("fileops").With().Str("filename", a.Filename).Uint("fileuploadlog_id", a.UploadLogID).Logger()

	rc, err := p.staging.Open(ctx, a.Path, a.Filename)
	if err != nil {
		return nil, fmt.Errorf("open staged %s: %w", a.Filename, err)
	}
	defer rc.Close()

	dstPath := ""
	if a.ProcessedCal {
		dstPath = p.storage.ProcessedPath
	}

	name := a.Filename
	body := io.Reader(rc)
	size := int64(-1)

	if info, err := p.staging.Stat(ctx, a.Path, a.Filename); err == nil {
		size = info.Size
	}

	if p.storage.CompressOnPut && !blob.IsCompressed(name) {
		zr := blob.CompressReader(rc)
		defer zr.Close()

		name += blob.CompressedSuffix
		body, size = zr, -1
	}

	if err := p.store.Put(ctx, dstPath, name, body, size); err != nil {
		return nil, workqueue.Transient(fmt.Errorf("store %s: %w", name, err))
	}

	if err := p.staging.Delete(ctx, a.Path, a.Filename); err != nil {
		log.Warn().Err(err).Msg("failed to remove staged upload")
	}

	queued, err := p.enqueuer.Add(ctx, ingest.Request{Filename: name, Path: dstPath, NoDefer: true})
	if err != nil {
		return nil, workqueue.Transient(fmt.Errorf("queue %s for ingest: %w", name, err))
	}

	if a.UploadLogID != 0 {
		p.recordUpload(ctx, a.UploadLogID, name, queued)
	}

	log.Info().Str("stored_as", name).Str("path", dstPath).Bool("queued", queued).Msg("upload moved into storage")

	return UploadResult{Filename: name, Path: dstPath, Queued: queued}, nil
}

// recordUpload 在上传日志中记录 ingest 条目. 失败只记日志.
func (p *Processor) recordUpload(ctx context.Context, logID uint, name string, queued bool) {
	updates := map[string]any{"notes": fmt.Sprintf("stored as %s", name)}

	if queued {
		var ids []uint

		err := p.db.WithContext(ctx).Model(&model.IngestQueueEntry{}).
			Where("filename = ? AND inprogress = ? AND failed = ?", name, false, false).
			Order("id desc").Limit(1).Pluck("id", &ids).Error
		if err == nil && len(ids) == 1 {
			updates["ingestqueue_id"] = ids[0]
		}
	} else {
		updates["notes"] = fmt.Sprintf("stored as %s, already on ingest queue", name)
	}

	err := p.db.WithContext(ctx).Model(&model.FileUploadLog{}).Where("id = ?", logID).Updates(updates).Error
	if err != nil {
		l := nlog.Component("fileops")
		l.Warn().Err(err).Uint("fileuploadlog_id", logID).Msg("failed to update upload log")
	}
}

// UpdateArgs update_headers 参数. raw_site 可以是单个值或列表，
// generic 可以是对象或 [keyword, value] 对的列表.
type UpdateArgs struct {
	Filename  string `json:"filename,omitempty"`
	DataLabel string `json:"data_label,omitempty"`
	QAState   string `json:"qa_state,omitempty"`
	RawSite   any    `json:"raw_site,omitempty"`
	Release   string `json:"release,omitempty"`
	Generic   any    `json:"generic,omitempty"`
	RejectNew bool   `json:"reject_new,omitempty"`
}

// HeaderUpdate 规范化为 fits.HeaderUpdate.
func (a *UpdateArgs) HeaderUpdate() (*fits.HeaderUpdate, error) {
	upd := &fits.HeaderUpdate{QAState: a.QAState, Release: a.Release, RejectNew: a.RejectNew}

	switch v := a.RawSite.(type) {
	case nil:
	case string:
		upd.RawSite = []string{v}
	case []any:
		for _, s := range v {
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("%w: raw_site entries must be strings", fits.ErrInvalidUpdate)
			}

			upd.RawSite = append(upd.RawSite, str)
		}
	default:
		return nil, fmt.Errorf("%w: raw_site must be a string or list", fits.ErrInvalidUpdate)
	}

	switch v := a.Generic.(type) {
	case nil:
	case map[string]any:
		upd.Generic = v
	case []any:
		upd.Generic = make(map[string]any, len(v))

		for _, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("%w: generic list items must be [keyword, value]", fits.ErrInvalidUpdate)
			}

			key, ok := pair[0].(string)
			if !ok {
				return nil, fmt.Errorf("%w: generic keyword must be a string", fits.ErrInvalidUpdate)
			}

			upd.Generic[key] = pair[1]
		}
	default:
		return nil, fmt.Errorf("%w: generic must be an object or list of pairs", fits.ErrInvalidUpdate)
	}

	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to change", fits.ErrInvalidUpdate)
	}

	if _, err := upd.Changes(); err != nil {
		return nil, err
	}

	return upd, nil
}

// UpdateResult update_headers 的返回值.
type UpdateResult struct {
	Filename  string `json:"filename"`
	MD5Before string `json:"md5_before"`
}

// updateHeaders 校验头修改请求，排入带 header_update 的 ingest 条目.
// 修改本身在 ingest 中执行，并以当前 data_md5 作为 md5_before.
func (p *Processor) updateHeaders(ctx context.Context, raw []byte) (any, error) {
	var a UpdateArgs
	if err := sonic.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if a.Filename == "" && a.DataLabel == "" {
		return nil, fmt.Errorf("%w: no filename or data_label in update_headers request", ErrNoTarget)
	}

	upd, err := a.HeaderUpdate()
	if err != nil {
		return nil, err
	}

	df, err := p.target(ctx, a)
	if err != nil {
		return nil, err
	}

	doc, err := sonic.MarshalString(upd)
	if err != nil {
		return nil, fmt.Errorf("encode header update: %w", err)
	}

	queued, err := p.enqueuer.Add(ctx, ingest.Request{
		Filename:     df.Filename,
		Path:         df.Path,
		NoDefer:      true,
		HeaderUpdate: doc,
		MD5Before:    df.DataMD5,
	})
	if err != nil {
		return nil, workqueue.Transient(fmt.Errorf("queue header update for %s: %w", df.Filename, err))
	}

	if !queued {
		return nil, workqueue.Transient(fmt.Errorf("%w: %s", ErrIngestPending, df.Filename))
	}

	l := nlog.Component("fileops")
	l.Info().Str("filename", df.Filename).Msg("header update queued for ingest")

	return UpdateResult{Filename: df.Filename, MD5Before: df.DataMD5}, nil
}

// target 按文件名或 data_label 找到 canonical 且 present 的 DiskFile.
func (p *Processor) target(ctx context.Context, a UpdateArgs) (*model.DiskFile, error) {
	var df model.DiskFile

	stmt := p.db.WithContext(ctx).Model(&model.DiskFile{}).
		Where("diskfile.canonical = ? AND diskfile.present = ?", true, true)

	if a.Filename != "" {
		stmt = stmt.Joins("JOIN file ON file.id = diskfile.file_id").
			Where("file.name = ?", blob.TrimCompressed(a.Filename))
	} else {
		stmt = stmt.Joins("JOIN header ON header.diskfile_id = diskfile.id").
			Where("header.data_label = ?", a.DataLabel)
	}

	err := stmt.First(&df).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s%s", ErrNoTarget, a.Filename, a.DataLabel)
	}

	if err != nil {
		return nil, workqueue.Transient(err)
	}

	return &df, nil
}
