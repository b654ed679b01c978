package cal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/cache"
	"github.com/yeisme/fitsvault/pkg/internal/cal"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
	"github.com/yeisme/fitsvault/pkg/internal/storage/kv"
)

var sci = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func at(days float64) *time.Time {
	t := sci.Add(time.Duration(days * float64(24*time.Hour)))
	return &t
}

// seed 写入 File、DiskFile、Header 以及可选的仪器子表行.
func seed(t *testing.T, db *gorm.DB, h model.Header, canonical bool, inst func(headerID uint) any) model.Header {
	t.Helper()

	f := model.File{Name: h.DataLabel + ".fits"}
	require.NoError(t, db.Create(&f).Error)

	df := model.DiskFile{
		FileID:    f.ID,
		Filename:  f.Name,
		Present:   canonical,
		Canonical: canonical,
		IsFits:    true,
		MdReady:   true,
		Lastmod:   sci,
		Entrytime: sci,
	}
	require.NoError(t, db.Create(&df).Error)

	h.DiskFileID = df.ID
	if h.UTDatetime != nil {
		h.UTDatetimeSecs = ptr(model.SecsSinceEpoch(*h.UTDatetime))
	}

	require.NoError(t, db.Create(&h).Error)

	if inst != nil {
		require.NoError(t, db.Create(inst(h.ID)).Error)
	}

	return h
}

type gmosSetup struct {
	disperser string
	fpm       string
	roi       string
}

func gmosRow(s gmosSetup) func(uint) any {
	return func(id uint) any {
		return &model.Gmos{
			HeaderID:         id,
			Disperser:        s.disperser,
			FilterName:       "open1-6&open2-8",
			FocalPlaneMask:   s.fpm,
			DetectorXBin:     ptr(2),
			DetectorYBin:     ptr(2),
			AmpReadArea:      "EEV 2037-06-03 left,EEV 8194-19-04 left,EEV 8261-07-04 right",
			ReadSpeedSetting: "slow",
			GainSetting:      "low",
		}
	}
}

func gmosHeader(label, obstype, reduction string, ut *time.Time, cwl *float64) model.Header {
	return model.Header{
		DataLabel:          label,
		Instrument:         "GMOS-N",
		ObservationType:    obstype,
		ObservationClass:   "partnerCal",
		Reduction:          reduction,
		UTDatetime:         ut,
		CentralWavelength:  cwl,
		Spectroscopy:       true,
		DetectorROISetting: "Full Frame",
	}
}

func TestGmosArc(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	ls := gmosSetup{disperser: "B600+_G5307", fpm: "1.0arcsec"}

	h := gmosHeader("GN-2020A-Q-1-1-001", "OBJECT", "RAW", &sci, ptr(0.5))
	h.ObservationClass = "science"
	science := seed(t, db, h, true, gmosRow(ls))

	near := seed(t, db, gmosHeader("arc-near", "ARC", "RAW", at(1), ptr(0.5)), true, gmosRow(ls))
	far := seed(t, db, gmosHeader("arc-far", "ARC", "RAW", at(-10), ptr(0.5004)), true, gmosRow(ls))
	seed(t, db, gmosHeader("arc-old", "ARC", "RAW", at(-400), ptr(0.5)), true, gmosRow(ls))
	seed(t, db, gmosHeader("arc-cwl", "ARC", "RAW", at(0.5), ptr(0.52)), true, gmosRow(ls))
	seed(t, db, gmosHeader("arc-noncanonical", "ARC", "RAW", at(0.1), ptr(0.5)), false, gmosRow(ls))
	seed(t, db, gmosHeader("arc-disperser", "ARC", "RAW", at(0.2), ptr(0.5)), true,
		gmosRow(gmosSetup{disperser: "R400+_G5305", fpm: "1.0arcsec"}))
	seed(t, db, gmosHeader("arc-mask", "ARC", "RAW", at(0.3), ptr(0.5)), true,
		gmosRow(gmosSetup{disperser: ls.disperser, fpm: "0.5arcsec"}))
	failed := gmosHeader("arc-failed", "ARC", "RAW", at(0.4), ptr(0.5))
	failed.QAState = "Fail"
	seed(t, db, failed, true, gmosRow(ls))
	processed := seed(t, db, gmosHeader("arc-processed", "ARC", "PROCESSED_ARC", at(2), ptr(0.5)), true, gmosRow(ls))

	d, err := cal.FromHeader(ctx, db, &science)
	require.NoError(t, err)
	assert.Equal(t, "B600+_G5307", d.Disperser)
	require.NotNil(t, d.DetectorXBin)
	assert.Equal(t, 2, *d.DetectorXBin)

	c := cal.New(ctx, db, d, cal.Options{})
	assert.Contains(t, c.Applicable(), "arc")
	assert.Contains(t, c.Applicable(), "processed_arc")

	got, err := c.Get("arc", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID, got[0].ID)

	got, err = c.Get("arc", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, near.ID, got[0].ID)
	assert.Equal(t, far.ID, got[1].ID)

	got, err = c.Get("processed_arc", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, processed.ID, got[0].ID)

	got, err = c.Get("no_such_caltype", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGmosWithoutUTDatetime(t *testing.T) {
	db := dbtest.New(t)
	ls := gmosSetup{disperser: "B600+_G5307", fpm: "1.0arcsec"}
	seed(t, db, gmosHeader("arc", "ARC", "RAW", at(0), ptr(0.5)), true, gmosRow(ls))

	d := &cal.Descriptors{Descriptors: fits.Descriptors{
		Instrument:         "GMOS-N",
		ObservationType:    "OBJECT",
		ObservationClass:   "science",
		Spectroscopy:       true,
		Disperser:          ls.disperser,
		FilterName:         "open1-6&open2-8",
		FocalPlaneMask:     ls.fpm,
		DetectorXBin:       ptr(2),
		DetectorYBin:       ptr(2),
		DetectorROISetting: "Full Frame",
		AmpReadArea:        "EEV 2037-06-03 left,EEV 8194-19-04 left,EEV 8261-07-04 right",
		CentralWavelength:  ptr(0.5),
	}}

	c := cal.New(context.Background(), db, d, cal.Options{})

	got, err := c.Get("arc", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// 没有中心波长时跳过波长容差
	d.UTDatetime = &sci
	d.CentralWavelength = nil

	got, err = c.Get("arc", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGmosApplicable(t *testing.T) {
	cutoff := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	spec := func(ut time.Time) *cal.Descriptors {
		return &cal.Descriptors{Descriptors: fits.Descriptors{
			Instrument:         "GMOS-S",
			ObservationType:    "OBJECT",
			ObservationClass:   "science",
			Object:             "NGC 253",
			Spectroscopy:       true,
			FocalPlaneMask:     "1.0arcsec",
			CentralWavelength:  ptr(0.6),
			DetectorXBin:       ptr(1),
			DetectorYBin:       ptr(2),
			DetectorROISetting: "Full Frame",
			UTDatetime:         &ut,
			Tags:               []string{"GMOS", "SPECT", "LS"},
		}}
	}

	c := cal.New(context.Background(), nil, spec(sci), cal.Options{GmosDarkCutoff: cutoff})
	assert.ElementsMatch(t, []string{
		"bias", "processed_bias", "arc", "processed_arc", "flat", "processed_flat",
		"specphot", "processed_standard", "processed_slitillum", "slitillum", "processed_bpm",
	}, c.Applicable())

	ns := spec(time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC))
	ns.Nodandshuffle = true
	c = cal.New(context.Background(), nil, ns, cal.Options{GmosDarkCutoff: cutoff})
	assert.Contains(t, c.Applicable(), "dark")

	ns = spec(sci)
	ns.Nodandshuffle = true
	c = cal.New(context.Background(), nil, ns, cal.Options{GmosDarkCutoff: cutoff})
	assert.NotContains(t, c.Applicable(), "dark")

	stamp := spec(sci)
	stamp.DetectorROISetting = "Central Stamp"
	c = cal.New(context.Background(), nil, stamp, cal.Options{})
	assert.NotContains(t, c.Applicable(), "bias")

	mask := spec(sci)
	mask.ObservationType = "MASK"
	c = cal.New(context.Background(), nil, mask, cal.Options{})
	assert.Empty(t, c.Applicable())
}

func TestGmosImagingGuards(t *testing.T) {
	d := &cal.Descriptors{Descriptors: fits.Descriptors{
		Instrument:      "GMOS-N",
		ObservationType: "OBJECT",
		FocalPlaneMask:  "Imaging",
		UTDatetime:      &sci,
	}}

	c := cal.New(context.Background(), nil, d, cal.Options{})

	got, err := c.Get("arc", 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.Get("processed_photometric_standard", 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func niriRow(id uint) any {
	return &model.Niri{
		HeaderID:         id,
		FilterName:       "J_G0202",
		ReadMode:         "Medium Background",
		WellDepthSetting: "Shallow",
		DataSection:      "[0:1024,0:1024]",
		Camera:           "f6",
		FocalPlaneMask:   "f6-cam_G5208",
		Disperser:        "MIRROR",
	}
}

func niriHeader(label, obstype, lamp string, ut *time.Time) model.Header {
	return model.Header{
		DataLabel:        label,
		Instrument:       "NIRI",
		ObservationType:  obstype,
		ObservationClass: "partnerCal",
		Reduction:        "RAW",
		GcalLamp:         lamp,
		UTDatetime:       ut,
		FilterName:       "J_G0202",
	}
}

// niriChain science → 开灯平场 → 关灯平场，后者只能通过递归得到.
func niriChain(t *testing.T, db *gorm.DB) (science, lampOn, lampOff model.Header) {
	t.Helper()

	h := niriHeader("GN-2020A-Q-2-1-001", "OBJECT", "", &sci)
	h.ObservationClass = "science"
	science = seed(t, db, h, true, niriRow)
	lampOn = seed(t, db, niriHeader("flat-on", "FLAT", "IRhigh", at(3)), true, niriRow)
	lampOff = seed(t, db, niriHeader("flat-off", "FLAT", "Off", at(3.01)), true, niriRow)

	return science, lampOn, lampOff
}

func TestAssociateRecursion(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	science, lampOn, lampOff := niriChain(t, db)

	res, err := cal.Associate(ctx, db, []model.Header{science}, "flat", 0, cal.Options{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, lampOn.ID, res[0].Header.ID)
	assert.True(t, res[0].Primary)

	res, err = cal.Associate(ctx, db, []model.Header{science}, cal.CaltypeAll, 0, cal.Options{})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, lampOn.ID, res[0].Header.ID)
	assert.Equal(t, "flat", res[0].Caltype)
	assert.Equal(t, science.ID, res[0].ObsID)
	assert.Equal(t, lampOff.ID, res[1].Header.ID)
	assert.Equal(t, "lampoff_flat", res[1].Caltype)
	assert.Equal(t, lampOn.ID, res[1].ObsID)
	assert.False(t, res[1].Primary)

	// 深度 1 时不递归
	res, err = cal.Associate(ctx, db, []model.Header{science}, cal.CaltypeAll, 1, cal.Options{})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestAssociateCached(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	science, lampOn, lampOff := niriChain(t, db)

	require.NoError(t, db.Create(&[]model.CalCache{
		{ObsHID: science.ID, CalHID: lampOn.ID, Caltype: "flat", IsPrimary: true},
		{ObsHID: lampOn.ID, CalHID: lampOff.ID, Caltype: "lampoff_flat", IsPrimary: true},
	}).Error)

	got, err := cal.AssociateCached(ctx, db, []uint{science.ID}, cal.CaltypeAll, 0, cal.CachedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, lampOn.ID, got[0].ID)
	assert.Equal(t, lampOff.ID, got[1].ID)

	got, err = cal.AssociateCached(ctx, db, []uint{science.ID}, "flat", 0, cal.CachedOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lampOn.ID, got[0].ID)

	got, err = cal.AssociateCached(ctx, db, []uint{science.ID}, "dark", 0, cal.CachedOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAssociateCachedReadThrough(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	science, lampOn, _ := niriChain(t, db)

	require.NoError(t, db.Create(&model.CalCache{ObsHID: science.ID, CalHID: lampOn.ID, Caltype: "flat"}).Error)

	store, err := kv.NewMemoryKV(ctx, nil)
	require.NoError(t, err)

	co := cal.CachedOptions{Cache: cache.NewCache(store), TTL: time.Minute}

	got, err := cal.AssociateCached(ctx, db, []uint{science.ID}, "flat", 0, co)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// 表已清空，缓存仍返回旧的边
	require.NoError(t, db.Where("obs_hid = ?", science.ID).Delete(&model.CalCache{}).Error)

	got, err = cal.AssociateCached(ctx, db, []uint{science.ID}, "flat", 0, co)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, cal.Invalidate(ctx, co.Cache, science.ID))

	got, err = cal.AssociateCached(ctx, db, []uint{science.ID}, "flat", 0, co)
	require.NoError(t, err)
	assert.Empty(t, got)
}
