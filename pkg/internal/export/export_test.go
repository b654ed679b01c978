package export_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/export"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

const filename = "N20200101S0001.fits"

var body = []byte(strings.Repeat("SIMPLE  =                    T", 200))

// peer 模拟下游归档的 jsonfilelist 与 upload_file.
type peer struct {
	dataMD5  string
	pending  bool
	status   int
	badMD5   bool
	cookie   string
	received []byte
	name     string
	hits     atomic.Int32
}

func (p *peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.hits.Add(1)

	if p.status != 0 {
		w.WriteHeader(p.status)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/jsonfilelist/present/filename="):
		list := []map[string]any{}
		if p.dataMD5 != "" {
			list = append(list, map[string]any{"filename": filename, "data_md5": p.dataMD5, "pending_ingest": p.pending})
		}

		out, _ := sonic.Marshal(list)
		_, _ = w.Write(out)
	case strings.HasPrefix(r.URL.Path, "/upload_file/"):
		if c, err := r.Cookie(configs.DefaultUploadCookieName); err == nil {
			p.cookie = c.Value
		}

		p.name = strings.TrimPrefix(r.URL.Path, "/upload_file/")
		p.received, _ = io.ReadAll(r.Body)

		sum := md5.Sum(p.received)
		ack := export.UploadAck{Filename: p.name, Size: int64(len(p.received)), MD5: hex.EncodeToString(sum[:])}

		if p.badMD5 {
			ack.MD5 = "00000000000000000000000000000000"
		}

		out, _ := sonic.Marshal([]export.UploadAck{ack})
		_, _ = w.Write(out)
	default:
		http.NotFound(w, r)
	}
}

func setup(t *testing.T) (*gorm.DB, blob.Store, string) {
	t.Helper()

	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	require.NoError(t, store.Put(context.Background(), "", filename, bytes.NewReader(body), int64(len(body))))

	sum := md5.Sum(body)
	md5sum := hex.EncodeToString(sum[:])

	f := model.File{Name: filename}
	require.NoError(t, db.Create(&f).Error)
	require.NoError(t, db.Create(&model.DiskFile{
		FileID:    f.ID,
		Filename:  filename,
		Present:   true,
		Canonical: true,
		FileMD5:   md5sum,
		FileSize:  int64(len(body)),
		DataMD5:   md5sum,
		DataSize:  int64(len(body)),
	}).Error)

	return db, store, md5sum
}

func exporter(db *gorm.DB, store blob.Store, dest configs.ExportDestination, opts ...export.Option) *export.Exporter {
	return export.New(db, store, configs.ExportConfig{
		Destinations: []configs.ExportDestination{dest},
		Timeout:      5 * time.Second,
	}, opts...)
}

func TestAlreadyPresent(t *testing.T) {
	db, store, md5sum := setup(t)

	p := &peer{dataMD5: md5sum}
	srv := httptest.NewServer(p)
	defer srv.Close()

	res, err := exporter(db, store, configs.ExportDestination{URL: srv.URL}).
		Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.NoError(t, err)
	assert.Equal(t, export.ActionAlreadyPresent, res.Action)
	assert.EqualValues(t, 1, p.hits.Load())
	assert.Nil(t, p.received)
}

func TestPendingIngestDefers(t *testing.T) {
	db, store, _ := setup(t)

	p := &peer{dataMD5: "stale", pending: true}
	srv := httptest.NewServer(p)
	defer srv.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	x := exporter(db, store, configs.ExportDestination{URL: srv.URL}, export.WithClock(func() time.Time { return now }))

	_, err := x.Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.Error(t, err)

	until, ok := workqueue.DeferredUntil(err)
	require.True(t, ok)
	assert.True(t, until.Equal(now.Add(configs.DefaultExportDeferPending)))
}

func TestTransferCompressed(t *testing.T) {
	db, store, _ := setup(t)

	p := &peer{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	dest := configs.ExportDestination{URL: srv.URL, Token: "secret", Compress: true}

	res, err := exporter(db, store, dest).Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.NoError(t, err)
	assert.Equal(t, export.ActionTransferred, res.Action)
	assert.Equal(t, filename+".bz2", res.Filename)
	assert.Equal(t, filename+".bz2", p.name)
	assert.Equal(t, "secret", p.cookie)
	assert.EqualValues(t, len(p.received), res.Bytes)

	zr, err := blob.NewDecompressor(bytes.NewReader(p.received))
	require.NoError(t, err)

	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, plain)
}

func TestTransferPlain(t *testing.T) {
	db, store, md5sum := setup(t)

	p := &peer{dataMD5: "0123"}
	srv := httptest.NewServer(p)
	defer srv.Close()

	res, err := exporter(db, store, configs.ExportDestination{URL: srv.URL}).
		Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.NoError(t, err)
	assert.Equal(t, filename, res.Filename)
	assert.Equal(t, md5sum, res.MD5)
	assert.Equal(t, body, p.received)
	assert.Empty(t, p.cookie)
}

func TestVerificationMismatch(t *testing.T) {
	db, store, _ := setup(t)

	p := &peer{badMD5: true}
	srv := httptest.NewServer(p)
	defer srv.Close()

	_, err := exporter(db, store, configs.ExportDestination{URL: srv.URL}).
		Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.ErrorIs(t, err, export.ErrVerification)
	assert.False(t, workqueue.IsTransient(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	db, store, _ := setup(t)

	p := &peer{status: http.StatusBadGateway}
	srv := httptest.NewServer(p)
	defer srv.Close()

	_, err := exporter(db, store, configs.ExportDestination{URL: srv.URL}).
		Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
	require.Error(t, err)
	assert.True(t, workqueue.IsTransient(err))
}

func TestBreakerOpens(t *testing.T) {
	db, store, _ := setup(t)

	p := &peer{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(p)
	defer srv.Close()

	x := exporter(db, store, configs.ExportDestination{URL: srv.URL}, export.WithBreaker(configs.CircuitBreakerConfig{
		Enabled:           true,
		FailureRate:       0.5,
		MinRequests:       1,
		IntervalSeconds:   60,
		TimeoutSeconds:    60,
		MaxRequestsInHalf: 1,
	}))

	for range 3 {
		_, err := x.Process(context.Background(), workqueue.NewExportEntry(filename, "", srv.URL, 0))
		require.Error(t, err)
		assert.True(t, workqueue.IsTransient(err))
	}

	assert.EqualValues(t, 1, p.hits.Load())
}

func TestNotCatalogued(t *testing.T) {
	db := dbtest.New(t)

	_, err := export.New(db, blob.NewLocal(t.TempDir()), configs.ExportConfig{}).
		Process(context.Background(), workqueue.NewExportEntry("missing.fits", "", "http://127.0.0.1:1", 0))
	require.ErrorIs(t, err, export.ErrNotCatalogued)
	assert.False(t, workqueue.IsTransient(err))
}
