package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/gemini"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	dbc "github.com/yeisme/fitsvault/pkg/internal/storage/db"
)

// ingestion 一次 ingest 的上下文.
type ingestion struct {
	in    *Ingester
	entry *model.IngestQueueEntry
	name  string
	info  blob.Info
	sum   blob.Summary
	log   zerolog.Logger
}

func (g *ingestion) run(ctx context.Context) (*Result, error) {
	res := &Result{}

	err := g.in.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, err := lockFile(tx, g.name)
		if err != nil {
			return err
		}

		res.FileID = file.ID

		var disks []model.DiskFile
		if err := tx.Where("file_id = ?", file.ID).Order("id").Find(&disks).Error; err != nil {
			return fmt.Errorf("load diskfiles: %w", err)
		}

		if n := canonicalCount(disks); n > 1 {
			g.log.Error().Int("canonical", n).Uint("file_id", file.ID).Msg("multiple canonical diskfiles")
			return fmt.Errorf("%w: file %d has %d canonical diskfiles", ErrInvariant, file.ID, n)
		}

		action, prior := decide(disks, g.sum.FileMD5, g.entry.Force)
		res.Action = action

		switch action {
		case ActionUnchanged:
			return g.touch(tx, disks, res)
		case ActionResurrect:
			return g.resurrect(tx, file, prior, res)
		default:
			return g.create(ctx, tx, file, res)
		}
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// lockFile 查找或创建 File 并锁住该行.
func lockFile(tx *gorm.DB, name string) (*model.File, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.File{Name: name}).Error; err != nil {
		return nil, fmt.Errorf("create file %s: %w", name, err)
	}

	q := tx.Where("name = ?", name)
	if dbc.SupportsRowLocks(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var f model.File
	if err := q.First(&f).Error; err != nil {
		return nil, fmt.Errorf("lock file %s: %w", name, err)
	}

	return &f, nil
}

func (g *ingestion) touch(tx *gorm.DB, disks []model.DiskFile, res *Result) error {
	for _, d := range disks {
		if !d.Canonical {
			continue
		}

		res.DiskFileID = d.ID
		res.MdReady = d.MdReady

		return tx.Model(&model.DiskFile{}).Where("id = ?", d.ID).Updates(map[string]any{
			"lastmod": g.info.LastMod.UTC(),
			"present": true,
		}).Error
	}

	return nil
}

// resurrect 历史版本重新成为 canonical，沿用其已有的 Header.
func (g *ingestion) resurrect(tx *gorm.DB, file *model.File, prior *model.DiskFile, res *Result) error {
	if err := uncanonical(tx, file.ID); err != nil {
		return err
	}

	err := tx.Model(&model.DiskFile{}).Where("id = ?", prior.ID).Updates(map[string]any{
		"canonical": true,
		"present":   true,
		"path":      g.entry.Path,
		"filename":  g.entry.Filename,
		"lastmod":   g.info.LastMod.UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("resurrect diskfile %d: %w", prior.ID, err)
	}

	res.DiskFileID = prior.ID
	res.MdReady = prior.MdReady

	return tx.Model(&model.Header{}).Where("diskfile_id = ?", prior.ID).Pluck("id", &res.HeaderIDs).Error
}

// uncanonical 旧 canonical 版本的字节已被覆盖，同时标记为不在存储上.
func uncanonical(tx *gorm.DB, fileID uint) error {
	err := tx.Model(&model.DiskFile{}).
		Where("file_id = ? AND canonical = ?", fileID, true).
		Updates(map[string]any{"canonical": false, "present": false}).Error
	if err != nil {
		return fmt.Errorf("flip canonical for file %d: %w", fileID, err)
	}

	return nil
}

// create 新建 DiskFile 并写入元数据，create 与 supersede 共用.
func (g *ingestion) create(ctx context.Context, tx *gorm.DB, file *model.File, res *Result) error {
	if res.Action == ActionSupersede {
		if err := uncanonical(tx, file.ID); err != nil {
			return err
		}
	}

	df := &model.DiskFile{
		FileID:     file.ID,
		Filename:   g.entry.Filename,
		Path:       g.entry.Path,
		Present:    true,
		Canonical:  true,
		FileMD5:    g.sum.FileMD5,
		FileSize:   g.sum.FileSize,
		DataMD5:    g.sum.DataMD5,
		DataSize:   g.sum.DataSize,
		Compressed: g.sum.Compressed,
		Lastmod:    g.info.LastMod.UTC(),
		Entrytime:  g.in.now().UTC(),
	}

	if err := tx.Create(df).Error; err != nil {
		return fmt.Errorf("create diskfile: %w", err)
	}

	res.DiskFileID = df.ID

	meta, err := g.extract(ctx, df)
	if err != nil {
		return err
	}

	res.MdReady = meta.mdready

	if err := tx.Model(df).Updates(map[string]any{"isfits": meta.isFits, "mdready": meta.mdready}).Error; err != nil {
		return fmt.Errorf("update diskfile %d: %w", df.ID, err)
	}

	if err := tx.Create(meta.report).Error; err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if meta.fulltext != nil {
		if err := tx.Create(meta.fulltext).Error; err != nil {
			return fmt.Errorf("write full text header: %w", err)
		}
	}

	if meta.desc == nil {
		return nil
	}

	hid, err := storeHeader(tx, df.ID, meta.desc)
	if err != nil {
		return err
	}

	res.HeaderIDs = []uint{hid}

	return nil
}

// storeHeader 写入 Header、仪器子表与足迹.
func storeHeader(tx *gorm.DB, diskFileID uint, d *fits.Descriptors) (uint, error) {
	h := d.Header(diskFileID)

	if d.ProgramID != "" {
		p := gemini.ParseProgramID(d.ProgramID)
		h.Engineering = p.IsEng
		h.CalibrationProgram = p.IsCal
		h.ScienceVerification = p.IsSV
	}

	if err := tx.Create(h).Error; err != nil {
		return 0, fmt.Errorf("create header: %w", err)
	}

	if row := d.InstrumentRow(h.ID); row != nil {
		if err := tx.Create(row).Error; err != nil {
			return 0, fmt.Errorf("create %s row: %w", d.Instrument, err)
		}
	}

	if len(d.Footprints) > 0 {
		fps := make([]model.Footprint, len(d.Footprints))
		for i, fp := range d.Footprints {
			fp.ID = 0
			fp.HeaderID = h.ID
			fps[i] = fp
		}

		if err := tx.Create(&fps).Error; err != nil {
			return 0, fmt.Errorf("create footprints: %w", err)
		}
	}

	return h.ID, nil
}

type metadata struct {
	desc     *fits.Descriptors
	report   *model.DiskFileReport
	fulltext *model.FullTextHeader
	isFits   bool
	mdready  bool
}

// extract 解析失败不终止 ingest: 元数据尽力而为，mdready=false 并记录报告.
func (g *ingestion) extract(ctx context.Context, df *model.DiskFile) (*metadata, error) {
	m := &metadata{report: &model.DiskFileReport{DiskFileID: df.ID}}

	rc, err := blob.OpenUncompressed(ctx, g.in.store, df.Path, df.Filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", df.Filename, err)
	}

	desc, err := g.in.extractor.Extract(ctx, rc, df.Filename)
	_ = rc.Close()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		g.log.Warn().Err(err).Msg("metadata extraction failed")

		m.report.Validation = "error: " + err.Error()
		m.report.Errors = 1
		m.isFits = !errors.Is(err, fits.ErrNotFITS)

		return m, nil
	}

	m.desc = desc
	m.isFits = true

	ok, msgs := g.in.validator.Validate(desc)
	m.mdready = ok
	m.report.Validation = strings.Join(msgs, "\n")
	m.report.Errors, m.report.Warnings = fits.CountMessages(msgs)

	if js, err := sonic.MarshalString(desc); err == nil {
		m.report.Metadata = js
	}

	if !ok {
		g.log.Warn().Strs("messages", msgs).Msg("metadata validation failed")
	}

	rc, err = blob.OpenUncompressed(ctx, g.in.store, df.Path, df.Filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", df.Filename, err)
	}
	defer rc.Close()

	text, err := fits.FullText(rc)
	if err != nil {
		g.log.Warn().Err(err).Msg("full text header dump failed")
		return m, nil
	}

	m.fulltext = &model.FullTextHeader{DiskFileID: df.ID, FullText: text}

	return m, nil
}
