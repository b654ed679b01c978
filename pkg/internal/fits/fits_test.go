package fits

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/fitsvault/pkg/internal/fits/fitstest"
	"github.com/yeisme/fitsvault/pkg/internal/gemini"
)

func gmosArc() []byte {
	return fitstest.Build(
		fitstest.HDU{Cards: fitstest.KV(
			"TELESCOP", "Gemini-North",
			"INSTRUME", "GMOS-N",
			"OBSTYPE", "ARC",
			"OBSCLASS", "dayCal",
			"GEMPRGID", "GN-CAL20200101",
			"OBSID", "GN-CAL20200101-3",
			"DATALAB", "GN-CAL20200101-3-001",
			"DATE-OBS", "2020-01-01",
			"TIME-OBS", "10:00:00.5",
			"GRATING", "R831+_G5302",
			"MASKNAME", "1.0arcsec",
			"CENTWAVE", 520.0,
			"FILTER1", "open1-6",
			"FILTER2", "g_G0301",
			"RAWGEMQA", "USABLE",
			"RAWPIREQ", "YES",
			"RAWIQ", "70-percentile",
			"RAWCC", "Any",
			"EXPTIME", 30.0,
			"AMPINTEG", 5000,
			"RA", 150.0,
			"DEC", 2.5,
		)},
		fitstest.HDU{
			Cards: fitstest.KV(
				"CCDSUM", "2 2",
				"GAIN", 1.5,
				"CCDNAME", "EEV1",
				"AMPNAME", "EEV-A",
				"DETSEC", "[1:512,1:4608]",
			),
			Width: 2, Height: 2, Pixels: []int16{1, 2, 3, 4},
		},
	)
}

func TestExtractGMOS(t *testing.T) {
	d, err := NewExtractor().Extract(context.Background(), bytes.NewReader(gmosArc()), "N20200101S0001.fits")
	require.NoError(t, err)

	assert.Equal(t, gemini.TelescopeNorth, d.Telescope)
	assert.Equal(t, "GMOS-N", d.Instrument)
	assert.Equal(t, "R831", d.Disperser)
	assert.Equal(t, "g", d.FilterName)
	assert.Equal(t, "1.0arcsec", d.FocalPlaneMask)
	require.NotNil(t, d.CentralWavelength)
	assert.InDelta(t, 0.52, *d.CentralWavelength, 1e-9)
	assert.True(t, d.Spectroscopy)
	assert.Equal(t, "LS", d.Mode)

	assert.Equal(t, "2x2", d.DetectorBinning)
	assert.Equal(t, "low", d.DetectorGainSetting)
	assert.Equal(t, "slow", d.DetectorReadspeedSetting)
	assert.Equal(t, "EEV1", d.ArrayName)
	assert.Equal(t, "'EEV-A':[1:512,1:4608]", d.AmpReadArea)
	assert.Equal(t, "Classic", d.DetectorReadmodeSetting)

	require.NotNil(t, d.UTDatetime)
	assert.Equal(t, time.Date(2020, 1, 1, 10, 0, 0, 500_000_000, time.UTC), *d.UTDatetime)

	assert.Equal(t, "Pass", d.QAState)
	require.NotNil(t, d.RawIQ)
	assert.Equal(t, 70, *d.RawIQ)
	require.NotNil(t, d.RawCC)
	assert.Equal(t, 100, *d.RawCC)
	assert.Nil(t, d.RawBG)

	for _, tag := range []string{"GEMINI", "NORTH", "GMOS", "ARC", "CAL", "SPECT", "LS", "RAW", "UNPREPARED"} {
		assert.True(t, d.HasTag(tag), tag)
	}

	assert.False(t, d.HasTag("IMAGE"))
	assert.Equal(t, "RAW", d.Reduction)
	assert.Equal(t, "Raw", d.Processing)
	assert.Empty(t, d.Footprints)

	h := d.Header(7)
	assert.Equal(t, uint(7), h.DiskFileID)
	require.NotNil(t, h.UTDatetimeSecs)
	assert.True(t, h.HasTag("ARC"))

	row := d.InstrumentRow(3)
	require.NotNil(t, row)
}

func TestExtractProcessedAndNIRI(t *testing.T) {
	raw := fitstest.Primary(fitstest.KV(
		"TELESCOP", "Gemini-South",
		"INSTRUME", "GMOS-S",
		"OBSTYPE", "BIAS",
		"DATE-OBS", "2021-05-01T01:02:03",
		"PROCBIAS", "2021-05-02T00:00:00",
		"PREPARE", "2021-05-02T00:00:00",
	)...)

	d, err := NewExtractor().Extract(context.Background(), bytes.NewReader(raw), "x.fits")
	require.NoError(t, err)
	assert.Equal(t, "PROCESSED_BIAS", d.Reduction)
	assert.True(t, d.HasTag("PROCESSED"))
	assert.True(t, d.HasTag("PREPARED"))
	assert.False(t, d.HasTag("RAW"))
	assert.Equal(t, "Science-Quality", d.Processing)
	assert.Equal(t, "open", d.FilterName)
	assert.Equal(t, "imaging", d.Mode)

	raw = fitstest.Primary(fitstest.KV(
		"TELESCOP", "Gemini-North",
		"INSTRUME", "NIRI",
		"OBSTYPE", "DARK",
		"DATE-OBS", "2021-05-01",
		"TIME-OBS", "03:00:00",
		"LNRS", 16,
		"NDAVGS", 16,
		"A_VDDUC", 0.6,
		"A_VDET", 0.0,
		"FILTER1", "H_G0203",
		"FILTER2", "open",
		"COADDS", 3,
		"PROCMODE", "ql",
	)...)

	d, err = NewExtractor().Extract(context.Background(), bytes.NewReader(raw), "y.fits")
	require.NoError(t, err)
	assert.Equal(t, "NIRI", d.Instrument)
	assert.Equal(t, "Low_Background", d.DetectorReadmodeSetting)
	assert.Equal(t, "Shallow", d.DetectorWelldepthSetting)
	assert.Equal(t, "H", d.FilterName)
	require.NotNil(t, d.Coadds)
	assert.Equal(t, 3, *d.Coadds)
	assert.True(t, d.HasTag("IMAGE"))
	assert.True(t, d.HasTag("DARK"))
	assert.Equal(t, "Quick-Look", d.Processing)
}

func TestExtractNotFITS(t *testing.T) {
	_, err := NewExtractor().Extract(context.Background(), strings.NewReader("hello"), "x.fits")
	require.ErrorIs(t, err, ErrNotFITS)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewExtractor().Extract(ctx, bytes.NewReader(gmosArc()), "x.fits")
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanHeadersAndFullText(t *testing.T) {
	raw := gmosArc()

	hdrs, err := ScanHeaders(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, hdrs, 2)
	assert.Equal(t, int64(0), hdrs[0].DataSize)
	assert.Equal(t, int64(8), hdrs[1].DataSize)
	assert.Equal(t, int64(BlockSize), hdrs[1].Offset)

	v, ok := hdrs[0].Value("GRATING")
	require.True(t, ok)
	assert.Equal(t, "R831+_G5302", v)

	v, ok = hdrs[1].Value("CCDSUM")
	require.True(t, ok)
	assert.Equal(t, "2 2", v)

	text, err := FullText(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, text, "INSTRUME= 'GMOS-N  '")
	assert.Contains(t, text, "XTENSION= 'IMAGE   '")
	assert.Equal(t, 2, strings.Count(text, "\nEND\n"))

	assert.True(t, IsFITS(raw))
	assert.False(t, IsFITS([]byte("SIMPLE")))

	_, err = ScanHeaders(strings.NewReader(strings.Repeat(" ", BlockSize)))
	require.ErrorIs(t, err, ErrNotFITS)
}

func TestKeywordEditor(t *testing.T) {
	raw := fitstest.Build(
		fitstest.HDU{Cards: []fitstest.Card{
			{Key: "INSTRUME", Value: "GMOS-N"},
			{Key: "OBJECT", Value: "M31"},
			{Key: "RELEASE", Value: "2021-01-01", Comment: "release date"},
		}},
		fitstest.HDU{Width: 2, Height: 2, Pixels: []int16{1, 2, 3, 4}},
	)

	var out bytes.Buffer

	err := NewKeywordEditor().Edit(&out, bytes.NewReader(raw), map[string]any{
		"RELEASE":  "2020-06-01",
		"RAWGEMQA": "BAD",
		"OBJECT":   nil,
	})
	require.NoError(t, err)
	require.Equal(t, len(raw), out.Len())
	assert.Equal(t, raw[BlockSize:], out.Bytes()[BlockSize:])

	hdrs, err := ScanHeaders(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, hdrs, 2)

	v, ok := hdrs[0].Value("RELEASE")
	require.True(t, ok)
	assert.Equal(t, "2020-06-01", v)

	v, ok = hdrs[0].Value("RAWGEMQA")
	require.True(t, ok)
	assert.Equal(t, "BAD", v)

	_, ok = hdrs[0].Value("OBJECT")
	assert.False(t, ok)

	text, err := FullText(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Contains(t, text, "/ release date")

	err = NewKeywordEditor().Edit(&out, bytes.NewReader(raw), map[string]any{"NAXIS1": 3})
	require.ErrorIs(t, err, ErrProtectedKeyword)

	err = NewKeywordEditor().Edit(&out, bytes.NewReader(raw), map[string]any{"bad key!": 1})
	require.ErrorIs(t, err, ErrUnsupportedKeyword)

	err = NewKeywordEditor().Edit(&out, strings.NewReader(strings.Repeat("x", BlockSize)), map[string]any{"A": 1})
	require.ErrorIs(t, err, ErrNotFITS)
}

func TestKeywordEditorHeaderFull(t *testing.T) {
	// 4 张必需卡片 + 31 张 + END 正好填满一个块
	var cards []fitstest.Card
	for i := 0; i < 31; i++ {
		cards = append(cards, fitstest.Card{Key: "KEY" + string(rune('A'+i%26)) + string(rune('A'+i/26)), Value: i})
	}

	raw := fitstest.Primary(cards...)
	require.Len(t, raw, BlockSize)

	var out bytes.Buffer

	err := NewKeywordEditor().Edit(&out, bytes.NewReader(raw), map[string]any{"NEWKEY": "x"})
	require.ErrorIs(t, err, ErrHeaderFull)

	out.Reset()
	require.NoError(t, NewKeywordEditor().Edit(&out, bytes.NewReader(raw), map[string]any{"KEYAA": 99}))
}

func TestFormatCard(t *testing.T) {
	c, err := FormatCard("RELEASE", "2020-06-01", "")
	require.NoError(t, err)
	assert.Len(t, c, CardSize)
	assert.True(t, strings.HasPrefix(c, "RELEASE = '2020-06-01'"))

	c, err = FormatCard("EXPTIME", 30.0, "s")
	require.NoError(t, err)
	assert.Equal(t, "EXPTIME =                 30.0 / s", strings.TrimRight(c, " "))

	c, err = FormatCard("OBJECT", "O'Brien", "")
	require.NoError(t, err)
	assert.Equal(t, "O'Brien", cardValue(c))

	_, err = FormatCard("X", []int{1}, "")
	require.ErrorIs(t, err, ErrUnsupportedKeyword)

	_, err = FormatCard("LONG", strings.Repeat("a", 80), "")
	require.ErrorIs(t, err, ErrValueTooLong)
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	_, msgs := v.Validate(nil)
	assert.NotEmpty(t, msgs)

	now := time.Now()
	d := &Descriptors{Telescope: gemini.TelescopeNorth, Instrument: "GMOS-N", UTDatetime: &now, ObservationType: "OBJECT"}
	ok, msgs := v.Validate(d)
	assert.True(t, ok)
	assert.Empty(t, msgs)

	d.ProgramID = "nonsense"
	ok, msgs = v.Validate(d)
	assert.True(t, ok)
	errs, warns := CountMessages(msgs)
	assert.Equal(t, 0, errs)
	assert.Equal(t, 1, warns)

	d.Instrument = ""
	bad := 95.0
	d.Dec = &bad
	ok, msgs = v.Validate(d)
	assert.False(t, ok)
	assert.Contains(t, msgs, "missing instrument")

	ok, _ = v.Validate(&Descriptors{SiteMonitoring: true})
	assert.True(t, ok)
}

func TestWCSFootprint(t *testing.T) {
	w := WCS{CRVAL1: 150, CRVAL2: 0, CRPIX1: 1, CRPIX2: 1, CD: [2][2]float64{{-1.0 / 3600, 0}, {0, 1.0 / 3600}}}

	ra, dec := w.PixelToSky(1, 1)
	assert.InDelta(t, 150.0, ra, 1e-9)
	assert.InDelta(t, 0.0, dec, 1e-9)

	ra, _ = w.PixelToSky(3601, 1)
	assert.InDelta(t, 149.0, ra, 1e-3)

	fp := Footprint(w, 100, 100, "PHU")
	assert.Less(t, fp.RAMin, 150.0)
	assert.Greater(t, fp.RAMax, 149.9)
	assert.Less(t, fp.DecMin, 0.0)
	assert.Greater(t, fp.DecMax, 0.0)
	assert.Equal(t, 3, strings.Count(fp.Area, ", "))

	raw := fitstest.Build(
		fitstest.HDU{Cards: fitstest.KV("INSTRUME", "GSAOI")},
		fitstest.HDU{
			Cards: fitstest.KV(
				"EXTNAME", "SCI", "EXTVER", 1,
				"CTYPE1", "RA---TAN", "CTYPE2", "DEC--TAN",
				"CRVAL1", 10.0, "CRVAL2", -30.0,
				"CRPIX1", 1.0, "CRPIX2", 1.0,
				"CD1_1", -0.0002, "CD2_2", 0.0002,
			),
			Width: 2, Height: 2, Pixels: []int16{0, 0, 0, 0},
		},
	)

	d, err := NewExtractor().Extract(context.Background(), bytes.NewReader(raw), "S.fits")
	require.NoError(t, err)
	require.Len(t, d.Footprints, 1)
	assert.Equal(t, "SCI,1", d.Footprints[0].Extension)
	assert.InDelta(t, -30.0, d.Footprints[0].DecMin, 0.01)
}

func TestReadPixels(t *testing.T) {
	raw := fitstest.Build(
		fitstest.HDU{},
		fitstest.HDU{
			Cards:  fitstest.KV("BSCALE", 2.0, "BZERO", 10.0),
			Width:  2,
			Height: 2,
			Pixels: []int16{1, 2, 3, 4},
		},
	)

	p, err := ReadPixels(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Width)
	assert.Equal(t, []float64{12, 14, 16, 18}, p.Data)
	assert.Equal(t, 18.0, p.At(1, 1))

	_, err = ReadPixels(bytes.NewReader(fitstest.Primary()))
	require.ErrorIs(t, err, ErrNoImage)
}
