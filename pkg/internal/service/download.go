package service

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/cal"
	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// tar 成员的属主.
const tarOwner = "gemini"

// FileStream 单个文件的下载流. Size 为 -1 表示长度未知.
type FileStream struct {
	io.ReadCloser

	Name    string
	Size    int64
	Lastmod time.Time
}

// OpenFile 按请求的文件名打开 canonical 版本. 请求可带存储目录 (<path>/<filename>). 请求名带 .bz2 时输出 bzip2 流，
// 否则输出解压后的内容. 每次请求写一条 downloadlog 与 filedownloadlog.
func (s *ArchiveService) OpenFile(ctx context.Context, p *access.Principal, requested string) (*FileStream, error) {
	started := s.now().UTC()

	dir, base := "", requested
	if i := strings.LastIndex(requested, "/"); i >= 0 {
		dir, base = requested[:i], requested[i+1:]
	}

	wantCompressed := blob.IsCompressed(base)
	name := gemini.NormalizeFilename(base)

	df, h, err := s.Canonical(ctx, name)
	if err != nil {
		return nil, err
	}

	// 带目录的请求必须与 canonical 版本所在目录一致
	if dir != "" && dir != df.Path {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requested)
	}

	d := s.gate.Decide(p, h, name)
	s.logFileDownload(ctx, df, name, d)

	dl := &model.DownloadLog{
		UsageLogID: UsageLogID(ctx),
		Selection:  "/file/" + requested,
		NumResults: 1,
		QueryStart: started,
	}

	if !d.Allowed {
		dl.Denied = 1
		dl.DownloadEnd = s.now().UTC()
		s.audit(ctx, dl)

		return nil, access.ErrDenied
	}

	var (
		rc   io.ReadCloser
		size int64
	)

	switch {
	case wantCompressed == df.Compressed:
		rc, err = s.store.Open(ctx, df.Path, df.Filename)
		size = df.FileSize
	case wantCompressed:
		rc, err = blob.OpenCompressed(ctx, s.store, df.Path, df.Filename)
		size = -1
	default:
		rc, err = blob.OpenUncompressed(ctx, s.store, df.Path, df.Filename)
		size = df.DataSize
	}

	if errors.Is(err, blob.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s is missing from storage", ErrNotFound, df.Filename)
	}

	if err != nil {
		return nil, fmt.Errorf("open %s: %w", df.Filename, err)
	}

	served := name
	if wantCompressed {
		served += blob.CompressedSuffix
	}

	dl.Sending = 1
	dl.Bytes = size
	dl.DownloadEnd = s.now().UTC()
	s.audit(ctx, dl)

	return &FileStream{ReadCloser: rc, Name: served, Size: size, Lastmod: df.Lastmod}, nil
}

// Canonical 查找文件当前 present 的 canonical 版本与其 Header. 没有 Header 时返回空 Header.
func (s *ArchiveService) Canonical(ctx context.Context, name string) (*model.DiskFile, *model.Header, error) {
	var df model.DiskFile

	err := s.db.WithContext(ctx).Preload("File").
		Joins("JOIN file ON file.id = diskfile.file_id").
		Where("file.name = ? AND diskfile.canonical = ? AND diskfile.present = ?", name, true, true).
		Order("diskfile.id DESC").
		First(&df).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("look up %s: %w", name, err)
	}

	var h model.Header

	err = s.db.WithContext(ctx).Where("diskfile_id = ?", df.ID).First(&h).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("read header of %s: %w", name, err)
	}

	return &df, &h, nil
}

func (s *ArchiveService) logFileDownload(ctx context.Context, df *model.DiskFile, name string, d access.Decision) {
	l := &model.FileDownloadLog{
		UsageLogID: UsageLogID(ctx),
		DiskFileID: df.ID,
		Filename:   name,
		FileMD5:    df.FileMD5,
		FileSize:   df.FileSize,
		UTDatetime: s.now().UTC(),
	}
	d.Record(l)
	s.audit(ctx, l)
}

// TarMember 打包下载中的一个文件.
type TarMember struct {
	DiskFile *model.DiskFile
	Name     string
}

// Download 一次准备好的打包下载. Write 之前已完成全部检查.
type Download struct {
	Filename string
	Members  []TarMember
	Denied   []string
	Bytes    int64

	selection string
	user      string
	started   time.Time
	log       *model.DownloadLog
	svc       *ArchiveService
}

// PrepareDownload 执行选择查询并检查权限与上限. associated 为真时打包选择命中帧的定标.
// 没有结果时返回 ErrNotFound. 开放查询超出 download_open_* 返回 selection.ErrOpenQuery，
// 受限查询超出 download_closed_* 返回 ErrTooLarge.
func (s *ArchiveService) PrepareDownload(ctx context.Context, p *access.Principal, sel *selection.Selection, associated bool) (*Download, error) {
	started := s.now().UTC()
	open := sel.IsOpen()

	sel.SetFlag(selection.KeyPresent, true)

	maxCount, maxBytes := s.cfg.Limits.DownloadClosedCount, s.cfg.Limits.DownloadClosedBytes
	if open {
		maxCount, maxBytes = s.cfg.Limits.DownloadOpenCount, s.cfg.Limits.DownloadOpenBytes
	}

	var headers []model.Header

	err := sel.Apply(selection.Query(s.db.WithContext(ctx))).
		Order("header.ut_datetime ASC").Order("diskfile.id ASC").
		Limit(maxCount + 1).
		Preload("DiskFile.File").
		Find(&headers).Error
	if err != nil {
		return nil, fmt.Errorf("run download query: %w", err)
	}

	if associated && len(headers) > 0 {
		headers, err = s.associated(ctx, headers)
		if err != nil {
			return nil, err
		}
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: no files match the selection", ErrNotFound)
	}

	dl := &Download{
		Filename:  tarName(sel, associated),
		selection: sel.ToURL(false),
		user:      p.Username(),
		started:   started,
		svc:       s,
	}

	type decided struct {
		df   *model.DiskFile
		name string
		d    access.Decision
	}

	var decisions []decided

	for i := range headers {
		h := &headers[i]

		df := h.DiskFile
		if df == nil || !df.Present {
			continue
		}

		name := fileName(h)
		d := s.gate.Decide(p, h, name)
		decisions = append(decisions, decided{df: df, name: name, d: d})

		if !d.Allowed {
			dl.Denied = append(dl.Denied, name)
			continue
		}

		dl.Members = append(dl.Members, TarMember{DiskFile: df, Name: df.Filename})
		dl.Bytes += df.FileSize
	}

	dl.log = &model.DownloadLog{
		UsageLogID: UsageLogID(ctx),
		Selection:  dl.selection,
		NumResults: len(headers),
		Sending:    len(dl.Members),
		Denied:     len(dl.Denied),
		Bytes:      dl.Bytes,
		QueryStart: started,
	}

	tooMany := len(headers) > maxCount || dl.Bytes > maxBytes
	if tooMany {
		dl.log.Truncated = true
		dl.log.Aborted = true
		dl.log.DownloadEnd = s.now().UTC()
	}

	s.audit(ctx, dl.log)

	if !tooMany {
		for _, x := range decisions {
			s.logFileDownload(ctx, x.df, x.name, x.d)
		}
	}

	switch {
	case tooMany && open:
		return nil, fmt.Errorf("%w: more than %d files or %d bytes", selection.ErrOpenQuery, maxCount, maxBytes)
	case tooMany:
		return nil, fmt.Errorf("%w: more than %d files or %d bytes", ErrTooLarge, maxCount, maxBytes)
	}

	return dl, nil
}

// associated 把科学帧替换为它们的定标帧，并填充 DiskFile.
func (s *ArchiveService) associated(ctx context.Context, headers []model.Header) ([]model.Header, error) {
	var cals []model.Header

	if s.cfg.Archive.UseCalCache {
		ids := make([]uint, 0, len(headers))
		for i := range headers {
			ids = append(ids, headers[i].ID)
		}

		var err error

		cals, err = cal.AssociateCached(ctx, s.db, ids, cal.CaltypeAll, s.cfg.Cal.CacheRecursionDepth,
			cal.CachedOptions{Cache: s.cache, TTL: s.cfg.KV.GetTTL()})
		if err != nil {
			return nil, err
		}
	} else {
		results, err := cal.Associate(ctx, s.db, headers, cal.CaltypeAll, s.cfg.Cal.RecursionDepth, cal.OptionsFrom(&s.cfg.Cal))
		if err != nil {
			return nil, err
		}

		for _, r := range results {
			cals = append(cals, r.Header)
		}
	}

	if err := attachDiskFiles(ctx, s.db, cals); err != nil {
		return nil, err
	}

	return cals, nil
}

// tarName gemini_data 或 gemini_calibs，后接选择中的程序号、观测号、仪器、日期等.
func tarName(sel *selection.Selection, associated bool) string {
	parts := []string{"gemini_data"}
	if associated {
		parts[0] = "gemini_calibs"
	}

	for _, k := range []string{
		selection.KeyProgramID, selection.KeyObservationID, selection.KeyInstrument,
		selection.KeyDate, selection.KeyDateRange, selection.KeyObsClass, selection.KeyObsType,
	} {
		if v := sel.Value(k); v != "" {
			parts = append(parts, strings.ReplaceAll(v, "/", "_"))
		}
	}

	return strings.Join(parts, ".") + ".tar"
}

// Write 把 tar 流写入 w: 各文件原样字节，然后 md5sums.txt 与 README.txt.
// 中途出错时 downloadlog 标记为 aborted，调用方应关闭连接.
func (d *Download) Write(ctx context.Context, w io.Writer) error {
	tw := tar.NewWriter(w)

	var (
		sums strings.Builder
		sent int64
	)

	err := func() error {
		for _, m := range d.Members {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, err := d.addFile(ctx, tw, m)
			sent += n

			if err != nil {
				return err
			}

			fmt.Fprintf(&sums, "%s  %s\n", m.DiskFile.FileMD5, m.Name)
		}

		if err := addText(tw, "md5sums.txt", sums.String(), d.started); err != nil {
			return err
		}

		if err := addText(tw, "README.txt", d.readme(), d.started); err != nil {
			return err
		}

		return tw.Close()
	}()

	updates := map[string]any{"download_end": d.svc.now().UTC(), "bytes": sent, "aborted": err != nil}
	d.svc.auditUpdate(context.WithoutCancel(ctx), d.log, updates)

	if err != nil {
		nlog.Logger().Warn().Err(err).Str("tar", d.Filename).Int64("bytes", sent).Msg("tar download aborted")
		return fmt.Errorf("write %s: %w", d.Filename, err)
	}

	return nil
}

func (d *Download) addFile(ctx context.Context, tw *tar.Writer, m TarMember) (int64, error) {
	df := m.DiskFile

	rc, err := d.svc.store.Open(ctx, df.Path, df.Filename)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", df.Filename, err)
	}
	defer rc.Close()

	hdr := tarHeader(m.Name, df.FileSize, df.Lastmod)
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	n, err := io.CopyN(tw, rc, df.FileSize)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", df.Filename, err)
	}

	return n, nil
}

func addText(tw *tar.Writer, name, body string, mod time.Time) error {
	if err := tw.WriteHeader(tarHeader(name, int64(len(body)), mod)); err != nil {
		return err
	}

	_, err := io.WriteString(tw, body)

	return err
}

func tarHeader(name string, size int64, mod time.Time) *tar.Header {
	return &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0o644,
		ModTime:  mod,
		Uname:    tarOwner,
		Gname:    tarOwner,
	}
}

func (d *Download) readme() string {
	var b strings.Builder

	user := d.user
	if user == "" {
		user = "Not Logged In"
	}

	fmt.Fprintf(&b, "This is a tar file of data downloaded from the Gemini Observatory Archive.\n\n")
	fmt.Fprintf(&b, "Selection: %s\n", d.selection)
	fmt.Fprintf(&b, "Search performed at: %s UTC\n", d.started.Format(time.DateTime))
	fmt.Fprintf(&b, "Username: %s\n\n", user)
	fmt.Fprintf(&b, "md5sums.txt lists the md5 checksum of every file in this tar.\n")
	fmt.Fprintf(&b, "Compressed files (.bz2) can be decompressed with bunzip2.\n")

	if strings.HasPrefix(d.Filename, "gemini_calibs") {
		fmt.Fprintf(&b, "\nThis tar contains the calibrations associated with the selected data.\n")
	}

	if len(d.Denied) > 0 {
		fmt.Fprintf(&b, "\nThe following files matched the selection but are still proprietary "+
			"and you do not have access to them:\n")

		for _, n := range d.Denied {
			fmt.Fprintf(&b, "%s\n", n)
		}
	}

	return b.String()
}
