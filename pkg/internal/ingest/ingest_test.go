package ingest_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits/fitstest"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const name = "N20200101S0001.fits"

func flat(object string) []byte {
	return fitstest.Primary(fitstest.KV(
		"TELESCOP", "Gemini-North",
		"INSTRUME", "NIRI",
		"OBSTYPE", "FLAT",
		"OBSCLASS", "partnerCal",
		"GEMPRGID", "GN-2020A-Q-1",
		"OBSID", "GN-2020A-Q-1-5",
		"DATALAB", "GN-2020A-Q-1-5-001",
		"DATE-OBS", "2020-01-01",
		"TIME-OBS", "10:00:00",
		"OBJECT", object,
		"RAWGEMQA", "USABLE",
		"RAWPIREQ", "YES",
		"EXPTIME", 10.0,
	)...)
}

type env struct {
	db    *gorm.DB
	store *blob.Local
	in    *ingest.Ingester
}

func newEnv(t *testing.T, cfg ingest.Config) *env {
	t.Helper()

	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	return &env{
		db:    db,
		store: store,
		in:    ingest.New(db, store, cfg, ingest.WithClock(func() time.Time { return t0 })),
	}
}

func (e *env) put(t *testing.T, filename string, body []byte) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), "", filename, bytes.NewReader(body), int64(len(body))))
}

func (e *env) process(t *testing.T, entry *model.IngestQueueEntry) *ingest.Result {
	t.Helper()

	res, err := e.in.Process(context.Background(), entry)
	require.NoError(t, err)

	return res
}

func (e *env) diskfiles(t *testing.T) []model.DiskFile {
	t.Helper()

	var out []model.DiskFile
	require.NoError(t, e.db.Order("id").Find(&out).Error)

	return out
}

func entry(filename string) *model.IngestQueueEntry {
	return workqueue.NewIngestEntry(filename, "", false, false, t0, 0)
}

func md5hex(b []byte) string {
	s := md5.Sum(b)
	return hex.EncodeToString(s[:])
}

func TestIngestNewFile(t *testing.T) {
	e := newEnv(t, ingest.Config{
		Destinations: []configs.ExportDestination{{URL: "https://archive.example.org"}},
		UsePreviews:  true,
		UseCalCache:  true,
	})

	body := flat("GCALflat")
	e.put(t, name, body)

	res := e.process(t, entry(name))
	assert.Equal(t, ingest.ActionCreate, res.Action)
	assert.True(t, res.MdReady)
	require.Len(t, res.HeaderIDs, 1)
	assert.Equal(t, 3, res.Enqueued)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 1)
	assert.True(t, dfs[0].Canonical)
	assert.True(t, dfs[0].Present)
	assert.True(t, dfs[0].IsFits)
	assert.Equal(t, md5hex(body), dfs[0].FileMD5)
	assert.Equal(t, t0, dfs[0].Entrytime.UTC())

	var h model.Header
	require.NoError(t, e.db.First(&h, res.HeaderIDs[0]).Error)
	assert.Equal(t, "NIRI", h.Instrument)
	assert.Equal(t, "FLAT", h.ObservationType)
	assert.Equal(t, "Pass", h.QAState)
	assert.Equal(t, dfs[0].ID, h.DiskFileID)

	var report model.DiskFileReport
	require.NoError(t, e.db.Where("diskfile_id = ?", dfs[0].ID).First(&report).Error)
	assert.Zero(t, report.Errors)
	assert.NotEmpty(t, report.Metadata)

	var ft model.FullTextHeader
	require.NoError(t, e.db.Where("diskfile_id = ?", dfs[0].ID).First(&ft).Error)
	assert.Contains(t, ft.FullText, "GCALflat")

	var n int64
	require.NoError(t, e.db.Model(&model.ExportQueueEntry{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	require.NoError(t, e.db.Model(&model.PreviewQueueEntry{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	require.NoError(t, e.db.Model(&model.CalCacheQueueEntry{}).Where("obs_hid = ?", h.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIngestUnchangedThenSupersede(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	v1 := flat("first")
	e.put(t, name, v1)
	e.process(t, entry(name))

	// 同样的字节重写一遍，lastmod 变化但 md5 不变
	e.put(t, name, v1)

	res := e.process(t, entry(name))
	assert.Equal(t, ingest.ActionUnchanged, res.Action)
	assert.Len(t, e.diskfiles(t), 1)

	// 不改动文件再次 ingest 走 lastmod 捷径
	res = e.process(t, entry(name))
	assert.Equal(t, ingest.ActionUnchanged, res.Action)

	v2 := flat("second")
	e.put(t, name, v2)

	res = e.process(t, entry(name))
	assert.Equal(t, ingest.ActionSupersede, res.Action)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 2)
	assert.False(t, dfs[0].Canonical)
	assert.False(t, dfs[0].Present)
	assert.True(t, dfs[1].Canonical)
	assert.Equal(t, md5hex(v2), dfs[1].FileMD5)

	var files int64
	require.NoError(t, e.db.Model(&model.File{}).Count(&files).Error)
	assert.Equal(t, int64(1), files)
}

func TestIngestResurrect(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	v1, v2 := flat("first"), flat("second")

	e.put(t, name, v1)
	first := e.process(t, entry(name))

	e.put(t, name, v2)
	e.process(t, entry(name))

	e.put(t, name, v1)
	res := e.process(t, entry(name))
	assert.Equal(t, ingest.ActionResurrect, res.Action)
	assert.Equal(t, first.DiskFileID, res.DiskFileID)
	assert.Equal(t, first.HeaderIDs, res.HeaderIDs)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 2, "resurrect reuses the old diskfile")
	assert.True(t, dfs[0].Canonical)
	assert.True(t, dfs[0].Present)
	assert.False(t, dfs[1].Canonical)

	var headers int64
	require.NoError(t, e.db.Model(&model.Header{}).Count(&headers).Error)
	assert.Equal(t, int64(2), headers)
}

func TestIngestForce(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	e.put(t, name, flat("x"))
	e.process(t, entry(name))

	forced := workqueue.NewIngestEntry(name, "", true, false, t0, 0)

	res := e.process(t, forced)
	assert.Equal(t, ingest.ActionSupersede, res.Action)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 2)
	assert.Equal(t, dfs[0].FileMD5, dfs[1].FileMD5)
	assert.True(t, dfs[1].Canonical)
}

func TestIngestCompressedSharesFile(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	e.put(t, name, flat("plain"))
	e.process(t, entry(name))

	var packed bytes.Buffer
	_, err := blob.Compress(&packed, bytes.NewReader(flat("packed")))
	require.NoError(t, err)
	e.put(t, name+".bz2", packed.Bytes())

	res := e.process(t, entry(name+".bz2"))
	assert.Equal(t, ingest.ActionSupersede, res.Action)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 2)
	assert.True(t, dfs[1].Compressed)
	assert.Equal(t, dfs[0].FileID, dfs[1].FileID)
	assert.Equal(t, md5hex(flat("packed")), dfs[1].DataMD5)
}

func TestIngestMissingFile(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	_, err := e.in.Process(context.Background(), entry("N20200101S9999.fits"))
	require.ErrorIs(t, err, ingest.ErrFileMissing)
	assert.False(t, workqueue.IsTransient(err))
}

func TestIngestNotFITS(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	e.put(t, "notes.fits", []byte("this is not a fits file"))

	res := e.process(t, entry("notes.fits"))
	assert.Equal(t, ingest.ActionCreate, res.Action)
	assert.False(t, res.MdReady)
	assert.Empty(t, res.HeaderIDs)

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 1)
	assert.False(t, dfs[0].IsFits)
	assert.False(t, dfs[0].MdReady)

	var report model.DiskFileReport
	require.NoError(t, e.db.Where("diskfile_id = ?", dfs[0].ID).First(&report).Error)
	assert.Contains(t, report.Validation, "error: ")
	assert.Equal(t, 1, report.Errors)
}

func TestIngestInvalidMetadata(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	e.put(t, name, fitstest.Primary(fitstest.KV("OBJECT", "nothing useful")...))

	res := e.process(t, entry(name))
	assert.False(t, res.MdReady)
	require.Len(t, res.HeaderIDs, 1, "headers are stored even when validation fails")

	dfs := e.diskfiles(t)
	require.Len(t, dfs, 1)
	assert.True(t, dfs[0].IsFits)
	assert.False(t, dfs[0].MdReady)
}

func readAll(t *testing.T, s blob.Store, filename string) []byte {
	t.Helper()

	rc, err := blob.OpenUncompressed(context.Background(), s, "", filename)
	require.NoError(t, err)

	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return b
}

func TestIngestHeaderUpdate(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	body := flat("target")
	e.put(t, name, body)
	e.process(t, entry(name))

	upd := entry(name)
	upd.HeaderUpdate = `{"qa_state":"Fail","release":"2021-01-01"}`
	upd.MD5Before = md5hex(body)

	res := e.process(t, upd)
	assert.Equal(t, ingest.ActionSupersede, res.Action)

	edited := readAll(t, e.store, name)
	assert.Contains(t, string(edited), "'BAD     '")
	assert.Len(t, edited, len(body), "edited header keeps the block layout")

	var h model.Header
	require.NoError(t, e.db.First(&h, res.HeaderIDs[0]).Error)
	assert.Equal(t, "Fail", h.QAState)
	require.NotNil(t, h.Release)
	assert.Equal(t, "2021-01-01", h.Release.Format(time.DateOnly))
}

func TestIngestHeaderUpdateMD5Mismatch(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	body := flat("target")
	e.put(t, name, body)

	upd := entry(name)
	upd.HeaderUpdate = `{"qa_state":"Fail"}`
	upd.MD5Before = "00000000000000000000000000000000"

	_, err := e.in.Process(context.Background(), upd)
	require.ErrorIs(t, err, ingest.ErrMD5Mismatch)

	assert.Equal(t, body, readAll(t, e.store, name), "file untouched on mismatch")
	assert.Empty(t, e.diskfiles(t))
}

func TestIngestHeaderUpdateNoop(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	body := flat("target")
	e.put(t, name, body)

	upd := entry(name)
	upd.HeaderUpdate = `{"qa_state":"Pass"}`

	res := e.process(t, upd)
	assert.Equal(t, ingest.ActionNoop, res.Action)
	assert.Equal(t, body, readAll(t, e.store, name))

	same := entry(name)
	same.HeaderUpdate = `{"qa_state":"Fail"}`
	same.MD5Before = "abc"
	same.MD5After = "abc"

	res = e.process(t, same)
	assert.Equal(t, ingest.ActionNoop, res.Action)
}

func TestIngestHeaderUpdateCompressed(t *testing.T) {
	e := newEnv(t, ingest.Config{})

	body := flat("packed")

	var packed bytes.Buffer
	_, err := blob.Compress(&packed, bytes.NewReader(body))
	require.NoError(t, err)
	e.put(t, name+".bz2", packed.Bytes())

	upd := entry(name + ".bz2")
	upd.HeaderUpdate = `{"raw_site":["iq20","cc50"]}`

	res := e.process(t, upd)
	assert.Equal(t, ingest.ActionCreate, res.Action)

	edited := readAll(t, e.store, name+".bz2")
	assert.Contains(t, string(edited), "'20-percentile'")
	assert.Contains(t, string(edited), "'50-percentile'")
}

func TestEnqueuerDefersYoungFiles(t *testing.T) {
	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	body := flat("young")
	require.NoError(t, store.Put(context.Background(), "", name, bytes.NewReader(body), int64(len(body))))

	q := ingest.NewEnqueuer(db, store, time.Hour)

	ok, err := q.Add(context.Background(), ingest.Request{Filename: name})
	require.NoError(t, err)
	assert.True(t, ok)

	popped, err := q.Queue().Pop(context.Background())
	require.NoError(t, err)
	assert.Nil(t, popped, "young file waits for the ingest delay")

	ok, err = q.Add(context.Background(), ingest.Request{Filename: "N20200101S0002.fits", NoDefer: true})
	require.NoError(t, err)
	assert.True(t, ok)

	popped, err = q.Queue().Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, "N20200101S0002.fits", popped.Filename)
}
