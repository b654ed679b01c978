package preview_test

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/fits/fitstest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/preview"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

func gradient(w, h int) []byte {
	px := make([]int16, w*h)
	for i := range px {
		px[i] = int16(i % 1000)
	}

	return fitstest.Build(fitstest.HDU{
		Cards:  fitstest.KV("INSTRUME", "GMOS-N"),
		Width:  w,
		Height: h,
		Pixels: px,
	})
}

func seedFile(t *testing.T, db *gorm.DB, store blob.Store, name string, body []byte) model.DiskFile {
	t.Helper()

	require.NoError(t, store.Put(context.Background(), "", name, bytes.NewReader(body), int64(len(body))))

	f := model.File{Name: blob.TrimCompressed(name)}
	require.NoError(t, db.Create(&f).Error)

	df := model.DiskFile{FileID: f.ID, Filename: name, Present: true, Canonical: true, IsFits: true}
	require.NoError(t, db.Create(&df).Error)

	return df
}

func TestName(t *testing.T) {
	assert.Equal(t, "N20200101S0001.jpg", preview.Name("N20200101S0001.fits.bz2"))
	assert.Equal(t, "N20200101S0001.jpg", preview.Name("N20200101S0001.fits"))
}

func TestRenderFlipsAndStretches(t *testing.T) {
	img := preview.Render(&fits.Pixels{Width: 2, Height: 2, Data: []float64{0, 0, 100, 100}}, 0)

	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(0, 1).Y)
}

func TestRenderDownsamples(t *testing.T) {
	px := &fits.Pixels{Width: 600, Height: 300, Data: make([]float64, 600*300)}

	img := preview.Render(px, 300)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	df := seedFile(t, db, store, "N20200101S0002.fits", gradient(40, 20))
	r := preview.New(db, store, "previews", preview.WithMaxSize(10))

	p, err := r.Process(ctx, workqueue.NewPreviewEntry(df.ID, df.Filename, false))
	require.NoError(t, err)
	assert.Equal(t, "N20200101S0002.jpg", p.Filename)
	assert.Equal(t, "previews", p.Path)

	rc, err := preview.Open(ctx, db, store, "N20200101S0002.fits")
	require.NoError(t, err)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())

	again, err := r.Process(ctx, workqueue.NewPreviewEntry(df.ID, df.Filename, false))
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	forced, err := r.Process(ctx, workqueue.NewPreviewEntry(df.ID, df.Filename, true))
	require.NoError(t, err)
	assert.Equal(t, p.ID, forced.ID)

	var n int64
	require.NoError(t, db.Model(&model.Preview{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestProcessNoImage(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	store := blob.NewLocal(t.TempDir())

	df := seedFile(t, db, store, "N20200101S0003.fits", fitstest.Primary(fitstest.KV("INSTRUME", "NIRI")...))

	_, err := preview.New(db, store, "previews").Process(ctx, workqueue.NewPreviewEntry(df.ID, df.Filename, false))
	require.ErrorIs(t, err, fits.ErrNoImage)
	assert.False(t, workqueue.IsTransient(err))
}

func TestProcessMissingDiskFile(t *testing.T) {
	db := dbtest.New(t)

	_, err := preview.New(db, blob.NewLocal(t.TempDir()), "previews").
		Process(context.Background(), workqueue.NewPreviewEntry(99, "x.fits", false))
	require.ErrorIs(t, err, preview.ErrDiskFileMissing)
}

func TestOpenWithoutPreview(t *testing.T) {
	_, err := preview.Open(context.Background(), dbtest.New(t), blob.NewLocal(t.TempDir()), "nothing.fits")
	require.ErrorIs(t, err, preview.ErrNoPreview)
}
