package service_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/access"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	"github.com/yeisme/fitsvault/pkg/internal/service"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/types"
)

var (
	now      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	released = now.AddDate(-1, 0, 0)
	future   = now.AddDate(1, 0, 0)
)

type fixture struct {
	db    *gorm.DB
	store blob.Store
	svc   *service.ArchiveService
	cfg   *configs.AppConfig
}

func setup(t *testing.T, mut func(c *configs.AppConfig)) *fixture {
	t.Helper()

	c := configs.Defaults()
	c.Storage.UploadStaging = t.TempDir()
	c.Archive.PublicHost = "archive.example.org"
	c.Archive.UseCalCache = false

	if mut != nil {
		mut(&c)
	}

	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	return &fixture{
		db:    db,
		store: store,
		cfg:   &c,
		svc:   service.New(db, store, &c, service.WithClock(func() time.Time { return now })),
	}
}

type seedFile struct {
	name    string
	program string
	ut      time.Time
	release time.Time
	body    string
	// protected 坐标受保护
	protected bool
}

func (f *fixture) seed(t *testing.T, s seedFile) (model.DiskFile, model.Header) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, "", s.name, strings.NewReader(s.body), int64(len(s.body))))

	sum := md5.Sum([]byte(s.body))

	file := model.File{Name: s.name}
	require.NoError(t, f.db.Create(&file).Error)

	df := model.DiskFile{
		FileID:    file.ID,
		Filename:  s.name,
		Present:   true,
		Canonical: true,
		FileMD5:   hex.EncodeToString(sum[:]),
		FileSize:  int64(len(s.body)),
		DataMD5:   hex.EncodeToString(sum[:]),
		DataSize:  int64(len(s.body)),
		Lastmod:   s.ut,
		Entrytime: s.ut,
		IsFits:    true,
		MdReady:   true,
	}
	require.NoError(t, f.db.Create(&df).Error)

	ra := 150.25
	ut, rel := s.ut, s.release

	h := model.Header{
		DiskFileID:             df.ID,
		ProgramID:              s.program,
		DataLabel:              strings.TrimSuffix(s.name, ".fits"),
		Instrument:             "GMOS-N",
		ObservationType:        "OBJECT",
		ObservationClass:       "science",
		Object:                 "M31",
		RA:                     &ra,
		UTDatetime:             &ut,
		Release:                &rel,
		QAState:                "Pass",
		ProprietaryCoordinates: s.protected,
	}
	require.NoError(t, f.db.Create(&h).Error)

	return df, h
}

func closed(program string) *selection.Selection {
	return selection.Parse([]string{program}, true, now)
}

func TestFileListDefaultsToCanonical(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	df, _ := f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now.Add(-time.Hour), release: released, body: "one"})

	old := model.DiskFile{FileID: df.FileID, Filename: df.Filename, Present: false, Canonical: false}
	require.NoError(t, f.db.Create(&old).Error)
	require.NoError(t, f.db.Create(&model.Header{DiskFileID: old.ID, ProgramID: "GN-2024A-Q-1"}).Error)

	require.NoError(t, f.db.Create(&model.IngestQueueEntry{Filename: df.Filename}).Error)

	items, err := f.svc.FileList(ctx, closed("GN-2024A-Q-1"))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "N20240101S0001.fits", items[0].Name)
	assert.Equal(t, df.FileMD5, items[0].MD5)
	assert.Equal(t, int64(3), items[0].Size)
	assert.True(t, items[0].PendingIngest)

	names, err := f.svc.FileNames(ctx, closed("GN-2024A-Q-1"))
	require.NoError(t, err)
	assert.Equal(t, []types.FileNameItem{{Filename: "N20240101S0001.fits"}}, names)

	var logged int64
	require.NoError(t, f.db.Model(&model.QueryLog{}).Count(&logged).Error)
	assert.Equal(t, int64(2), logged)
}

func TestSummaryTruncatesAndRedacts(t *testing.T) {
	f := setup(t, func(c *configs.AppConfig) { c.Limits.SummaryClosed = 2 })
	ctx := context.Background()

	f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now.Add(-3 * time.Hour), release: released, body: "a", protected: true})
	f.seed(t, seedFile{name: "N20240101S0002.fits", program: "GN-2024A-Q-1", ut: now.Add(-2 * time.Hour), release: future, body: "b", protected: true})
	f.seed(t, seedFile{name: "N20240101S0003.fits", program: "GN-2024A-Q-1", ut: now.Add(-time.Hour), release: future, body: "c"})

	items, err := f.svc.Summary(ctx, access.Anonymous(), closed("GN-2024A-Q-1"))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "M31", items[0].Object)
	assert.NotNil(t, items[0].RA)
	assert.False(t, items[0].ResultsTruncated)

	assert.Equal(t, access.ProprietaryPlaceholder, items[1].Object)
	assert.Nil(t, items[1].RA)
	assert.True(t, items[1].ResultsTruncated)
}

func TestParsePyLiteral(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want any
	}{
		{name: "dict", src: `{'instrument': 'GMOS-N', 'nodandshuffle': False, 'exposure_time': 30.5}`,
			want: map[string]any{"instrument": "GMOS-N", "nodandshuffle": false, "exposure_time": 30.5}},
		{name: "list", src: `['GMOS', u"SPECT", b'x']`, want: []any{"GMOS", "SPECT", "x"}},
		{name: "tuple", src: `(1, 2L, -3)`, want: []any{int64(1), int64(2), int64(-3)}},
		{name: "none", src: `None`, want: nil},
		{name: "escape", src: `'it\'s'`, want: "it's"},
		{name: "set", src: `set(['A', 'B'])`, want: []any{"A", "B"}},
		{name: "datetime", src: `datetime.datetime(2020, 1, 2, 3, 4, 5)`, want: "2020-01-02T03:04:05Z"},
		{name: "date", src: `datetime.date(2020, 1, 2)`, want: "2020-01-02T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.ParsePyLiteral(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePyLiteralErrors(t *testing.T) {
	for _, src := range []string{``, `{'a': }`, `[1, 2`, `'open`, `os.system('x')`, `1 2`} {
		_, err := service.ParsePyLiteral(src)
		assert.Error(t, err, src)
	}
}

func TestParseCalMgrForm(t *testing.T) {
	form := url.Values{
		"descriptors": {`{'instrument': 'GMOS-N', 'data_label': 'GN-2024A-Q-1-1-001', 'ut_datetime': datetime.datetime(2024, 1, 1, 10, 0, 0)}`},
		"types":       {`['GMOS', 'SPECT']`},
	}

	req, err := service.ParseCalMgrForm(form)
	require.NoError(t, err)
	assert.Equal(t, "GMOS-N", req.Descriptors["instrument"])
	assert.Equal(t, "2024-01-01T10:00:00Z", req.Descriptors["ut_datetime"])
	assert.Equal(t, []string{"GMOS", "SPECT"}, req.Types)

	_, err = service.ParseCalMgrForm(url.Values{})
	assert.ErrorIs(t, err, service.ErrBadRequest)

	_, err = service.ParseCalMgrForm(url.Values{"descriptors": {`['not', 'a', 'dict']`}})
	assert.ErrorIs(t, err, service.ErrBadRequest)
}

func TestCalMgrRefusesOpenQuery(t *testing.T) {
	f := setup(t, nil)

	_, err := f.svc.CalMgr(context.Background(), selection.Parse([]string{"GMOS-N"}, true, now))
	assert.ErrorIs(t, err, selection.ErrOpenQuery)

	_, err = f.svc.CalMgrPost(context.Background(), "", &types.CalMgrRequest{})
	assert.ErrorIs(t, err, service.ErrNoCaltype)

	_, err = f.svc.CalMgrPost(context.Background(), "bias", &types.CalMgrRequest{Descriptors: map[string]any{"data_label": "x"}})
	assert.ErrorIs(t, err, service.ErrBadRequest)
}

func TestOpenFile(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now, release: released, body: "public bytes"})
	f.seed(t, seedFile{name: "N20240101S0002.fits", program: "GN-2024A-Q-1", ut: now, release: future, body: "secret"})

	fs, err := f.svc.OpenFile(ctx, access.Anonymous(), "N20240101S0001.fits")
	require.NoError(t, err)

	got, err := io.ReadAll(fs)
	require.NoError(t, err)
	require.NoError(t, fs.Close())
	assert.Equal(t, "public bytes", string(got))
	assert.Equal(t, "N20240101S0001.fits", fs.Name)

	bz, err := f.svc.OpenFile(ctx, access.Anonymous(), "N20240101S0001.fits.bz2")
	require.NoError(t, err)
	assert.Equal(t, "N20240101S0001.fits.bz2", bz.Name)

	dec, err := blob.NewDecompressor(bz)
	require.NoError(t, err)

	got, err = io.ReadAll(dec)
	require.NoError(t, err)
	require.NoError(t, dec.Close())
	require.NoError(t, bz.Close())
	assert.Equal(t, "public bytes", string(got))

	_, err = f.svc.OpenFile(ctx, access.Anonymous(), "N20240101S0002.fits")
	assert.ErrorIs(t, err, access.ErrDenied)

	_, err = f.svc.OpenFile(ctx, access.Anonymous(), "N20240101S9999.fits")
	assert.ErrorIs(t, err, service.ErrNotFound)

	var logs []model.FileDownloadLog
	require.NoError(t, f.db.Order("id").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].CanHaveIt)
	assert.True(t, logs[0].Released)
	assert.False(t, logs[2].CanHaveIt)
}

func TestDownloadTar(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	pub, _ := f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now.Add(-time.Hour), release: released, body: "public bytes"})
	f.seed(t, seedFile{name: "N20240101S0002.fits", program: "GN-2024A-Q-1", ut: now, release: future, body: "secret"})

	dl, err := f.svc.PrepareDownload(ctx, access.Anonymous(), closed("GN-2024A-Q-1"), false)
	require.NoError(t, err)
	assert.Equal(t, "gemini_data.GN-2024A-Q-1.tar", dl.Filename)
	assert.Equal(t, []string{"N20240101S0002.fits"}, dl.Denied)
	require.Len(t, dl.Members, 1)

	var buf bytes.Buffer
	require.NoError(t, dl.Write(ctx, &buf))

	contents := map[string]string{}
	tr := tar.NewReader(&buf)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)

		body, err := io.ReadAll(tr)
		require.NoError(t, err)

		contents[hdr.Name] = string(body)
	}

	assert.Equal(t, "public bytes", contents["N20240101S0001.fits"])
	assert.Equal(t, pub.FileMD5+"  N20240101S0001.fits\n", contents["md5sums.txt"])
	assert.Contains(t, contents["README.txt"], "Not Logged In")
	assert.Contains(t, contents["README.txt"], "N20240101S0002.fits")
	assert.NotContains(t, contents, "N20240101S0002.fits")

	var log model.DownloadLog
	require.NoError(t, f.db.First(&log).Error)
	assert.Equal(t, 1, log.Sending)
	assert.Equal(t, 1, log.Denied)
	assert.Equal(t, int64(len("public bytes")), log.Bytes)
	assert.False(t, log.Aborted)
}

func TestDownloadLimits(t *testing.T) {
	f := setup(t, func(c *configs.AppConfig) {
		c.Limits.DownloadClosedCount = 1
		c.Limits.DownloadOpenCount = 1
	})
	ctx := context.Background()

	f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now.Add(-time.Hour), release: released, body: "a"})
	f.seed(t, seedFile{name: "N20240101S0002.fits", program: "GN-2024A-Q-1", ut: now, release: released, body: "b"})

	_, err := f.svc.PrepareDownload(ctx, access.Anonymous(), closed("GN-2024A-Q-1"), false)
	assert.ErrorIs(t, err, service.ErrTooLarge)

	_, err = f.svc.PrepareDownload(ctx, access.Anonymous(), selection.Parse([]string{"GMOS-N"}, true, now), false)
	assert.ErrorIs(t, err, selection.ErrOpenQuery)

	_, err = f.svc.PrepareDownload(ctx, access.Anonymous(), closed("GN-2023B-Q-9"), false)
	assert.ErrorIs(t, err, service.ErrNotFound)

	var n int64
	require.NoError(t, f.db.Model(&model.FileDownloadLog{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestStageUpload(t *testing.T) {
	f := setup(t, func(c *configs.AppConfig) { c.Limits.UploadMaxBytes = 8 })
	ctx := context.Background()

	v, err := f.svc.StageUpload(ctx, "N20240101S0001.fits", false, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", v.MD5)
	assert.Equal(t, int64(5), v.Size)
	assert.NotEmpty(t, v.Path)

	staged := blob.NewLocal(f.cfg.Storage.UploadStaging)
	ok, err := staged.Exists(ctx, v.Path, "N20240101S0001.fits")
	require.NoError(t, err)
	assert.True(t, ok)

	var queued []model.FileopsQueueEntry
	require.NoError(t, f.db.Find(&queued).Error)
	require.Len(t, queued, 1)
	assert.Contains(t, queued[0].Request, "ingest_upload")
	assert.False(t, queued[0].ResponseRequired)

	var ul model.FileUploadLog
	require.NoError(t, f.db.First(&ul).Error)
	assert.Equal(t, v.MD5, ul.MD5)

	_, err = f.svc.StageUpload(ctx, "N20240101S0002.fits", false, strings.NewReader("far too many bytes"))
	assert.ErrorIs(t, err, service.ErrTooLarge)

	_, err = f.svc.StageUpload(ctx, "../escape.fits", false, strings.NewReader("x"))
	assert.ErrorIs(t, err, service.ErrBadRequest)
}

func TestUpdateHeaders(t *testing.T) {
	f := setup(t, nil)

	res := f.svc.UpdateHeaders(context.Background(), []types.HeaderUpdateItem{
		{Filename: "N20240101S0001.fits", Values: map[string]any{"qa_state": "Pass"}},
		{Values: map[string]any{"qa_state": "Pass"}},
		{DataLabel: "GN-2024A-Q-1-1-001", Values: map[string]any{}},
		{Filename: "N20240101S0003.fits", Values: map[string]any{"qa_state": "Bogus"}},
	})
	require.Len(t, res, 4)

	assert.True(t, res[0].Result)
	assert.NotEmpty(t, res[0].ID)

	assert.False(t, res[1].Result)
	assert.Equal(t, service.NoTargetMessage, res[1].Value)

	assert.False(t, res[2].Result)
	assert.NotEmpty(t, res[2].Error)

	assert.False(t, res[3].Result)

	var n int64
	require.NoError(t, f.db.Model(&model.FileopsQueueEntry{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestQueueStatus(t *testing.T) {
	f := setup(t, nil)

	st, err := f.svc.QueueStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, st.Queues, len(model.AllQueues))
	assert.Equal(t, model.QueueIngest, st.Queues[0].Queue)
}

func TestCuration(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	r, err := f.svc.Curation(ctx, false, "")
	require.NoError(t, err)
	assert.True(t, r.Clean())

	df, _ := f.seed(t, seedFile{name: "N20240101S0001.fits", program: "GN-2024A-Q-1", ut: now, release: released, body: "a"})

	dup := model.DiskFile{FileID: df.FileID, Filename: df.Filename, Present: true, Canonical: true}
	require.NoError(t, f.db.Create(&dup).Error)
	require.NoError(t, f.db.Create(&model.Header{DiskFileID: dup.ID, DataLabel: "N20240101S0001", Instrument: "GMOS-N"}).Error)

	gone := model.DiskFile{FileID: df.FileID, Filename: df.Filename, Present: false, Canonical: true}
	require.NoError(t, f.db.Create(&gone).Error)

	r, err = f.svc.Curation(ctx, false, "")
	require.NoError(t, err)
	assert.False(t, r.Clean())
	assert.Len(t, r.DuplicateCanonicals, 3)
	assert.Len(t, r.DuplicatePresent, 2)
	assert.Len(t, r.DuplicateDataLabels, 2)
	require.Len(t, r.CanonicalNotPresent, 1)
	assert.Equal(t, gone.ID, r.CanonicalNotPresent[0].DiskFileID)
	assert.Empty(t, r.PresentNotCanonical)

	r, err = f.svc.Curation(ctx, true, "NIRI")
	require.NoError(t, err)
	assert.True(t, r.Clean())
	assert.Equal(t, "NIRI", r.RestrictedInstrument)
}
