package service

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/oklog/ulid"

	"github.com/yeisme/fitsvault/pkg/internal/fileops"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/types"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/rule"
)

// NoTargetMessage update_headers 条目既没有 filename 也没有 data_label 时的回复.
const NoTargetMessage = "No filename or datalabel given"

// countingReader 统计读出的字节数.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}

// StageUpload 把上传内容写入暂存区的独立子目录，随后排入 fileops ingest_upload.
// 超出 upload_max_bytes 时删除暂存文件并返回 ErrTooLarge.
func (s *ArchiveService) StageUpload(ctx context.Context, filename string, processedCal bool, body io.Reader) (*types.UploadVerification, error) {
	if err := rule.ValidateVar(filename, "required,filename"); err != nil {
		return nil, fmt.Errorf("%w: bad upload filename %q", ErrBadRequest, filename)
	}

	now := s.now().UTC()
	dir := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	ul := &model.FileUploadLog{
		UsageLogID:    UsageLogID(ctx),
		Filename:      filename,
		Processed:     processedCal,
		TransferStart: now,
	}
	s.audit(ctx, ul)

	limit := s.cfg.Limits.UploadMaxBytes
	hash := md5.New()
	cr := &countingReader{r: io.LimitReader(body, limit+1)}

	if err := s.staging.Put(ctx, dir, filename, io.TeeReader(cr, hash), -1); err != nil {
		s.auditUpdate(ctx, ul, map[string]any{"notes": "staging failed: " + err.Error()})
		return nil, fmt.Errorf("stage %s: %w", filename, err)
	}

	if cr.n > limit {
		if err := s.staging.Delete(ctx, dir, filename); err != nil {
			nlog.Logger().Warn().Err(err).Str("filename", filename).Msg("failed to remove oversized upload")
		}

		s.auditUpdate(ctx, ul, map[string]any{"notes": "upload too large", "transfer_end": s.now().UTC()})

		return nil, fmt.Errorf("%w: upload larger than %d bytes", ErrTooLarge, limit)
	}

	sum := hex.EncodeToString(hash.Sum(nil))

	s.auditUpdate(ctx, ul, map[string]any{"size": cr.n, "md5": sum, "transfer_end": s.now().UTC()})

	doc, err := fileops.Encode(fileops.RequestIngestUpload, fileops.UploadArgs{
		Filename:     filename,
		Path:         dir,
		ProcessedCal: processedCal,
		UploadLogID:  ul.ID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.fileops.Enqueue(ctx, workqueue.NewFileopsEntry(filename, doc, false)); err != nil {
		return nil, fmt.Errorf("queue %s for ingest: %w", filename, err)
	}

	nlog.Logger().Info().Str("filename", filename).Str("staging", dir).Int64("size", cr.n).Msg("upload staged")

	return &types.UploadVerification{Filename: filename, Path: dir, Size: cr.n, MD5: sum}, nil
}

// UpdateHeaders 把每个头修改请求排入 fileops 队列. 返回与输入一一对应的结果，
// 参数无效的条目不入队.
func (s *ArchiveService) UpdateHeaders(ctx context.Context, items []types.HeaderUpdateItem) []types.UpdateHeadersResult {
	out := make([]types.UpdateHeadersResult, 0, len(items))

	for _, it := range items {
		out = append(out, s.updateHeader(ctx, it))
	}

	return out
}

func (s *ArchiveService) updateHeader(ctx context.Context, it types.HeaderUpdateItem) types.UpdateHeadersResult {
	if it.Filename == "" && it.DataLabel == "" {
		return types.UpdateHeadersResult{Result: false, Value: NoTargetMessage}
	}

	if err := rule.ValidateStruct(it); err != nil {
		return types.UpdateHeadersResult{Result: false, Error: err.Error()}
	}

	var args fileops.UpdateArgs

	if len(it.Values) > 0 {
		raw, err := sonic.Marshal(it.Values)
		if err == nil {
			err = sonic.Unmarshal(raw, &args)
		}

		if err != nil {
			return types.UpdateHeadersResult{Result: false, Error: "bad values: " + err.Error()}
		}
	}

	args.Filename, args.DataLabel = it.Filename, it.DataLabel

	if _, err := args.HeaderUpdate(); err != nil {
		return types.UpdateHeadersResult{Result: false, Error: err.Error()}
	}

	doc, err := fileops.Encode(fileops.RequestUpdateHeaders, args)
	if err != nil {
		return types.UpdateHeadersResult{Result: false, Error: err.Error()}
	}

	e := workqueue.NewFileopsEntry(it.Filename, doc, false)

	queued, err := s.fileops.Enqueue(ctx, e)
	if err != nil {
		nlog.Logger().Error().Err(err).Str("filename", it.Filename).Str("data_label", it.DataLabel).Msg("failed to queue header update")
		return types.UpdateHeadersResult{Result: false, Error: "could not queue request"}
	}

	if !queued {
		return types.UpdateHeadersResult{Result: true, Value: "already queued"}
	}

	return types.UpdateHeadersResult{ID: strconv.FormatUint(uint64(e.ID), 10), Result: true, Value: true}
}
