package fileops_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fileops"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

type env struct {
	db      *gorm.DB
	store   blob.Store
	staging blob.Store
	proc    *fileops.Processor
	queue   *workqueue.FileopsQueue
}

func newEnv(t *testing.T, storage configs.StorageConfig) *env {
	t.Helper()

	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())
	staging := blob.NewLocal(t.TempDir())

	return &env{
		db:      db,
		store:   store,
		staging: staging,
		proc:    fileops.New(db, store, staging, storage, ingest.NewEnqueuer(db, store, 0)),
		queue:   workqueue.New[model.FileopsQueueEntry](db),
	}
}

// pop 入队后立即出队，模拟 worker.
func (e *env) pop(t *testing.T, filename, request string, args any, responseRequired bool) *model.FileopsQueueEntry {
	t.Helper()

	doc, err := fileops.Encode(request, args)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = e.queue.Enqueue(ctx, workqueue.NewFileopsEntry(filename, doc, responseRequired))
	require.NoError(t, err)

	entry, err := e.queue.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, entry)

	return entry
}

func (e *env) seed(t *testing.T, name, label string) model.DiskFile {
	t.Helper()

	f := model.File{Name: name}
	require.NoError(t, e.db.Create(&f).Error)

	df := model.DiskFile{FileID: f.ID, Filename: name, Present: true, Canonical: true, DataMD5: "abc123"}
	require.NoError(t, e.db.Create(&df).Error)
	require.NoError(t, e.db.Create(&model.Header{DiskFileID: df.ID, DataLabel: label}).Error)

	return df
}

func TestEchoResponseRequired(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{})

	entry := e.pop(t, "", fileops.RequestEcho, map[string]any{"echo": "have a nice day"}, true)

	resp, err := e.proc.Process(ctx, entry)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "have a nice day", resp.Value)

	stored, err := e.queue.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.InProgress)

	got, err := fileops.DecodeResponse(stored)
	require.NoError(t, err)
	assert.Equal(t, "have a nice day", got.Value)

	// 已应答的行不会被清扫放回队列
	n, err := workqueue.ResetStuck(ctx, e.db, model.QueueFileops, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	next, err := e.queue.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestErrorResponse(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{})

	entry := e.pop(t, "", "shred", map[string]any{}, true)

	resp, err := e.proc.Process(ctx, entry)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "no handler")

	entry = e.pop(t, "", "shred", map[string]any{}, false)

	_, err = e.proc.Process(ctx, entry)
	require.ErrorIs(t, err, fileops.ErrUnknownRequest)
}

func TestBadDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{})

	_, err := e.queue.Enqueue(ctx, workqueue.NewFileopsEntry("", `{"request":"echo","args":[1]}`, false))
	require.NoError(t, err)

	entry, err := e.queue.Pop(ctx)
	require.NoError(t, err)

	_, err = e.proc.Process(ctx, entry)
	require.ErrorIs(t, err, fileops.ErrBadRequest)
}

func TestIngestUpload(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{ProcessedPath: "reduced_cals"})

	body := []byte("SIMPLE  =                    T")
	require.NoError(t, e.staging.Put(ctx, "", "N20200101S0001_flat.fits", bytes.NewReader(body), int64(len(body))))

	ul := model.FileUploadLog{Filename: "N20200101S0001_flat.fits"}
	require.NoError(t, e.db.Create(&ul).Error)

	entry := e.pop(t, "N20200101S0001_flat.fits", fileops.RequestIngestUpload, fileops.UploadArgs{
		Filename:     "N20200101S0001_flat.fits",
		ProcessedCal: true,
		UploadLogID:  ul.ID,
	}, false)

	resp, err := e.proc.Process(ctx, entry)
	require.NoError(t, err)

	res, ok := resp.Value.(fileops.UploadResult)
	require.True(t, ok)
	assert.Equal(t, "reduced_cals", res.Path)
	assert.True(t, res.Queued)

	exists, err := e.store.Exists(ctx, "reduced_cals", "N20200101S0001_flat.fits")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = e.staging.Exists(ctx, "", "N20200101S0001_flat.fits")
	require.NoError(t, err)
	assert.False(t, exists)

	var iq model.IngestQueueEntry
	require.NoError(t, e.db.Where("filename = ?", "N20200101S0001_flat.fits").First(&iq).Error)
	assert.Equal(t, "reduced_cals", iq.Path)

	require.NoError(t, e.db.First(&ul, ul.ID).Error)
	require.NotNil(t, ul.IngestQueueID)
	assert.Equal(t, iq.ID, *ul.IngestQueueID)
}

func TestIngestUploadCompressOnPut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{CompressOnPut: true})

	body := bytes.Repeat([]byte("END     "), 100)
	require.NoError(t, e.staging.Put(ctx, "", "S20200101S0002.fits", bytes.NewReader(body), int64(len(body))))

	entry := e.pop(t, "S20200101S0002.fits", fileops.RequestIngestUpload, fileops.UploadArgs{Filename: "S20200101S0002.fits"}, false)

	resp, err := e.proc.Process(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, "S20200101S0002.fits.bz2", resp.Value.(fileops.UploadResult).Filename)

	rc, err := blob.OpenUncompressed(ctx, e.store, "", "S20200101S0002.fits.bz2")
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, body, got)
}

func TestIngestUploadMissingStaged(t *testing.T) {
	e := newEnv(t, configs.StorageConfig{})

	entry := e.pop(t, "gone.fits", fileops.RequestIngestUpload, fileops.UploadArgs{Filename: "gone.fits"}, false)

	_, err := e.proc.Process(context.Background(), entry)
	require.ErrorIs(t, err, blob.ErrNotExist)
}

func TestUpdateHeaders(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{})
	df := e.seed(t, "N20200101S0003.fits", "GN-2020A-Q-1-1-003")

	entry := e.pop(t, "", fileops.RequestUpdateHeaders, map[string]any{
		"data_label": "GN-2020A-Q-1-1-003",
		"qa_state":   "Pass",
		"raw_site":   "iq70",
	}, false)

	resp, err := e.proc.Process(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, fileops.UpdateResult{Filename: df.Filename, MD5Before: "abc123"}, resp.Value)

	var iq model.IngestQueueEntry
	require.NoError(t, e.db.Where("filename = ?", df.Filename).First(&iq).Error)
	assert.Equal(t, "abc123", iq.MD5Before)
	assert.True(t, iq.After.Equal(workqueue.Epoch))

	var upd fits.HeaderUpdate
	require.NoError(t, sonic.UnmarshalString(iq.HeaderUpdate, &upd))
	assert.Equal(t, "Pass", upd.QAState)
	assert.Equal(t, []string{"iq70"}, upd.RawSite)

	// 第二个修改遇到仍在排队的 ingest 条目，稍后重试
	entry = e.pop(t, "", fileops.RequestUpdateHeaders, map[string]any{
		"filename": "N20200101S0003.fits",
		"release":  "2021-01-01",
	}, false)

	_, err = e.proc.Process(ctx, entry)
	require.ErrorIs(t, err, fileops.ErrIngestPending)
	assert.True(t, workqueue.IsTransient(err))
}

func TestUpdateHeadersNoTarget(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, configs.StorageConfig{})

	entry := e.pop(t, "", fileops.RequestUpdateHeaders, map[string]any{"qa_state": "Pass"}, false)

	_, err := e.proc.Process(ctx, entry)
	require.ErrorIs(t, err, fileops.ErrNoTarget)

	entry = e.pop(t, "", fileops.RequestUpdateHeaders, map[string]any{"filename": "nope.fits", "qa_state": "Pass"}, false)

	_, err = e.proc.Process(ctx, entry)
	require.ErrorIs(t, err, fileops.ErrNoTarget)
	assert.False(t, workqueue.IsTransient(err))
}

func TestUpdateArgs(t *testing.T) {
	a := fileops.UpdateArgs{
		RawSite: []any{"iq70", "cc50"},
		Generic: []any{[]any{"OBJECT", "M31"}},
	}

	upd, err := a.HeaderUpdate()
	require.NoError(t, err)
	assert.Equal(t, []string{"iq70", "cc50"}, upd.RawSite)
	assert.Equal(t, map[string]any{"OBJECT": "M31"}, upd.Generic)

	_, err = (&fileops.UpdateArgs{QAState: "great"}).HeaderUpdate()
	require.ErrorIs(t, err, fits.ErrInvalidUpdate)

	_, err = (&fileops.UpdateArgs{Filename: "x.fits"}).HeaderUpdate()
	require.ErrorIs(t, err, fits.ErrInvalidUpdate)
}
