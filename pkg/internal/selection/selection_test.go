package selection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/selection"
	"github.com/yeisme/fitsvault/pkg/internal/storage/db/dbtest"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func parse(path string) *selection.Selection {
	return selection.Parse(selection.Split(path), true, now)
}

func TestParseTyped(t *testing.T) {
	s := parse("/GMOS-N/BIAS/dayCal/arc/2x2/Gemini-South/N20200101S0001/fullframe/Pass")

	assert.Equal(t, "GMOS-N", s.Value(selection.KeyInstrument))
	assert.Equal(t, "BIAS", s.Value(selection.KeyObsType))
	assert.Equal(t, "dayCal", s.Value(selection.KeyObsClass))
	assert.Equal(t, "arc", s.CalType())
	assert.Equal(t, "2x2", s.Value("binning"))
	assert.Equal(t, "Gemini-South", s.Value(selection.KeyTelescope))
	assert.Equal(t, "N20200101S0001.fits", s.Value(selection.KeyFilename))
	assert.Equal(t, "Full Frame", s.Value("detector_roi"))
	assert.Equal(t, "Pass", s.Value(selection.KeyQAState))
	assert.Empty(t, s.NotRecognised)
}

func TestParseKeyValueAndBooleans(t *testing.T) {
	s := parse("/ra=10.5/Dec=-20/sr=30/mask=1.0arcsec/object=NGC=slash=1234/notpresent/canonical/imaging/mdbad/includeengineering")

	assert.Equal(t, "10.5", s.Value("ra"))
	assert.Equal(t, "-20", s.Value("dec"))
	assert.Equal(t, "30", s.Value("sr"))
	assert.Equal(t, "1.0arcsec", s.Value("focal_plane_mask"))
	assert.Equal(t, "NGC/1234", s.Value(selection.KeyObject))

	present, ok := s.Flag(selection.KeyPresent)
	require.True(t, ok)
	assert.False(t, present)

	spec, ok := s.Flag(selection.KeySpectro)
	require.True(t, ok)
	assert.False(t, spec)

	md, _ := s.Flag("mdready")
	assert.False(t, md)
	assert.True(t, s.IncludeEngineering)
	assert.False(t, s.Has(selection.KeyEngineering))
}

func TestParseIdentifiers(t *testing.T) {
	s := parse("/GN-2020A-Q-1")
	assert.Equal(t, "GN-2020A-Q-1", s.Value(selection.KeyProgramID))

	s = parse("/GN-2020A-Q-001")
	assert.Equal(t, "GN-2020A-Q-1", s.Value(selection.KeyProgramID))

	s = parse("/GN-2020A-Q-1/GN-2020A-Q-1-5")
	assert.False(t, s.Has(selection.KeyProgramID))
	assert.Equal(t, "GN-2020A-Q-1-5", s.Value(selection.KeyObservationID))

	s = parse("/GN-2020A-Q-1-5/GN-2020A-Q-1-5-003")
	assert.False(t, s.Has(selection.KeyObservationID))
	assert.Equal(t, "GN-2020A-Q-1-5-003", s.Value(selection.KeyDataLabel))

	s = parse("/progid=GN-2020A-Q-1-5")
	assert.Equal(t, "GN-2020A-Q-1-5", s.Value(selection.KeyObservationID))

	s = parse("/progid=odd-thing")
	assert.Equal(t, "odd-thing", s.Value(selection.KeyProgramID))

	s = parse("/obsid=weird-1")
	assert.Equal(t, "weird-1", s.Value(selection.KeyObservationID))
}

func TestParseKeywords(t *testing.T) {
	s := parse("/LGS/MOS/preimage/nottwilight/N2020")

	assert.Equal(t, "LGS", s.Value("lgs"))
	assert.Equal(t, "AO", s.Value("ao"))
	assert.Equal(t, "MOS", s.Value("mode"))

	spec, _ := s.Flag(selection.KeySpectro)
	assert.True(t, spec)

	pre, _ := s.Flag("pre_image")
	assert.True(t, pre)

	tw, ok := s.Flag("twilight")
	require.True(t, ok)
	assert.False(t, tw)

	assert.Equal(t, "N2020", s.Value(selection.KeyFilePre))
}

func TestParseDates(t *testing.T) {
	s := parse("/20200101/20200102-20200105")
	assert.Equal(t, "20200101", s.Value(selection.KeyDate))
	assert.Equal(t, "20200102-20200105", s.Value(selection.KeyDateRange))

	summit := selection.Parse([]string{"20200101", "20200102-20200105"}, false, now)
	assert.Equal(t, "20200101", summit.Value(selection.KeyNight))
	assert.Equal(t, "20200102-20200105", summit.Value(selection.KeyNightRange))
	assert.False(t, summit.Has(selection.KeyDate))

	s = parse("/today")
	assert.Equal(t, "today", s.Value(selection.KeyDate))
}

func TestNotRecognised(t *testing.T) {
	s := parse("/GMOS-N/frobnicate/wibble")

	assert.Equal(t, []string{"frobnicate", "wibble"}, s.NotRecognised)
	assert.Contains(t, s.Say(), "I didn't understand these (case-sensitive) words: frobnicate wibble")
}

func TestIsOpen(t *testing.T) {
	assert.True(t, parse("/GMOS-N/BIAS").IsOpen())
	assert.True(t, parse("/").IsOpen())
	assert.False(t, parse("/GMOS-N/20200101").IsOpen())
	assert.False(t, parse("/GN-2020A-Q-1").IsOpen())
	assert.False(t, parse("/filepre=N2020").IsOpen())
	assert.False(t, parse("/N20200101S0001.fits").IsOpen())
}

func TestSay(t *testing.T) {
	s := parse("/GMOS-N/20200101/Win/spectroscopy/NOTAO")

	assert.Equal(t,
		"; Date: 20200101; Instrument: GMOS-N; Spectroscopy; QA State: Win (Pass or Usable); No Adaptive Optics in beam",
		s.Say())
	assert.Empty(t, parse("/").Say())
}

func TestToURL(t *testing.T) {
	s := parse("/present/GMOS-N/20200101/object=NGC=slash=1234/ra=10/mask=1.0arcsec/fullframe/cols=CTOWEQ")

	assert.Equal(t, "/date=20200101/fullframe/mask=1.0arcsec/GMOS-N/object=NGC=slash=1234/present/ra=10", s.ToURL(false))
	assert.Contains(t, s.ToURL(true), "/cols=CTOWEQ")

	// 顺序无关，并能解析回同样的选择
	again := parse(s.ToURL(true))
	assert.Equal(t, s.ToURL(true), again.ToURL(true))
	assert.Equal(t, s.Keys(), again.Keys())

	odd := parse("/progid=odd-thing/datalabel=x-1-2")
	assert.Equal(t, "/datalabel=x-1-2", odd.ToURL(false))
}

type fixture struct {
	db *gorm.DB
}

func (f fixture) add(t *testing.T, name string, present, canonical bool, h model.Header) {
	t.Helper()

	file := model.File{Name: name}
	require.NoError(t, f.db.Where(model.File{Name: name}).FirstOrCreate(&file).Error)

	df := model.DiskFile{FileID: file.ID, Filename: name, Present: present, Canonical: canonical, MdReady: true}
	require.NoError(t, f.db.Create(&df).Error)

	h.DiskFileID = df.ID
	require.NoError(t, f.db.Create(&h).Error)
}

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T) fixture {
	t.Helper()

	f := fixture{db: dbtest.New(t)}
	night := time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC)

	f.add(t, "N20200101S0001.fits", true, true, model.Header{
		Instrument: "GMOS-N", Telescope: "Gemini-North", ObservationType: "BIAS",
		ProgramID: "GN-2020A-Q-1", ObservationID: "GN-2020A-Q-1-1", DataLabel: "GN-2020A-Q-1-1-001",
		UTDatetime: &night, QAState: "Pass", Object: "Bias", FocalPlaneMask: "1.0arcsec_G5530",
		ExposureTime: ptr(0.0), RA: ptr(10.0), Dec: ptr(-20.0),
	})
	f.add(t, "N20200101S0002.fits", true, true, model.Header{
		Instrument: "GMOS-N", Telescope: "Gemini-North", ObservationType: "OBJECT",
		ProgramID: "GN-2020A-Q-1", ObservationID: "GN-2020A-Q-1-2", DataLabel: "GN-2020A-Q-1-2-001",
		UTDatetime: ptr(night.Add(time.Hour)), QAState: "Usable", Object: "NGC 1234",
		ExposureTime: ptr(120.0), RA: ptr(10.01), Dec: ptr(-20.01), CentralWavelength: ptr(0.5),
		Disperser: "B600_G5307", Spectroscopy: true,
	})
	f.add(t, "S20200102S0001.fits", true, true, model.Header{
		Instrument: "GMOS-S", Telescope: "Gemini-South", ObservationType: "OBJECT",
		ProgramID: "GS-2020A-Q-2", ObservationID: "GS-2020A-Q-2-1", DataLabel: "GS-2020A-Q-2-1-001",
		UTDatetime: ptr(time.Date(2020, 1, 2, 2, 0, 0, 0, time.UTC)), QAState: "Fail", Object: "Twilight",
		ExposureTime: ptr(30.0), RA: ptr(200.0), Dec: ptr(-60.0), ProprietaryCoordinates: true,
		Release: ptr(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	// 被取代的旧版本
	f.add(t, "N20200101S0001.fits", false, false, model.Header{
		Instrument: "GMOS-N", Telescope: "Gemini-North", ObservationType: "BIAS", UTDatetime: &night,
	})

	return f
}

func (f fixture) names(t *testing.T, path string) []string {
	t.Helper()

	s := parse(path)

	var names []string
	require.NoError(t, s.Apply(selection.Query(f.db)).Order("file.name, diskfile.id").Pluck("file.name", &names).Error)

	return names
}

func TestApply(t *testing.T) {
	f := seed(t)

	cases := []struct {
		path string
		want []string
	}{
		{"/present/GMOS", []string{"N20200101S0001.fits", "N20200101S0002.fits", "S20200102S0001.fits"}},
		{"/GMOS-N", []string{"N20200101S0001.fits", "N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/canonical/BIAS", []string{"N20200101S0001.fits"}},
		{"/notcanonical", []string{"N20200101S0001.fits"}},
		{"/present/20200101", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/daterange=20200101-20200102", []string{
			"N20200101S0001.fits", "N20200101S0001.fits", "N20200101S0002.fits", "S20200102S0001.fits",
		}},
		{"/GN-2020A-Q-1/present", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/GN-2020A-Q-1-2-001", []string{"N20200101S0002.fits"}},
		{"/present/Win", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/present/NotFail", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/Fail", []string{"S20200102S0001.fits"}},
		{"/object=ngc*", []string{"N20200101S0002.fits"}},
		{"/twilight", []string{"S20200102S0001.fits"}},
		{"/filepre=S2020", []string{"S20200102S0001.fits"}},
		{"/present/exposure_time=120", []string{"N20200101S0002.fits"}},
		{"/present/exposure_time=0-30", []string{"N20200101S0001.fits", "S20200102S0001.fits"}},
		{"/cenwlen=0.45-0.55", []string{"N20200101S0002.fits"}},
		{"/disperser=B600", []string{"N20200101S0002.fits"}},
		{"/GMOS-N/mask=1.0arcsec", []string{"N20200101S0001.fits"}},
		{"/present/spectroscopy", []string{"N20200101S0002.fits"}},
		{"/present/ra=10/dec=-20/sr=60", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
		{"/present/ra=10/dec=-20/sr=10", []string{"N20200101S0001.fits"}},
		// 坐标受保护且未到公开日期
		{"/ra=199-201", []string{}},
		{"/present/ra=350-20", []string{"N20200101S0001.fits", "N20200101S0002.fits"}},
	}

	for _, c := range cases {
		assert.ElementsMatch(t, c.want, f.names(t, c.path), c.path)
	}
}

func TestApplyNight(t *testing.T) {
	f := seed(t)

	pluck := func(things ...string) []string {
		var names []string

		s := selection.Parse(things, false, now)
		require.NoError(t, s.Apply(selection.Query(f.db)).Order("file.name").Pluck("file.name", &names).Error)

		return names
	}

	assert.Equal(t, []string{"N20200101S0001.fits", "N20200101S0002.fits"}, pluck("20200101", "present"))

	// 南站 20200102 的观测夜是 UTC 2020-01-01 18:00 至 2020-01-02 18:00
	assert.Equal(t, []string{"S20200102S0001.fits"}, pluck("20200102", "present"))
	assert.Equal(t, []string{"N20200101S0001.fits", "N20200101S0002.fits", "S20200102S0001.fits"},
		pluck("nightrange=20200101-20200102", "present"))
}

func TestApplyWarnings(t *testing.T) {
	f := seed(t)

	s := parse("/present/ra=10/dec=-20")

	var n int64
	require.NoError(t, s.Apply(selection.Query(f.db)).Count(&n).Error)
	assert.EqualValues(t, 2, n)
	assert.Contains(t, s.Warning(), "No Search Radius given")
	assert.Equal(t, "180", s.Value("sr"))

	s = parse("/present/cenwlen=abc/exposure_time=x")
	require.NoError(t, s.Apply(selection.Query(f.db)).Count(&n).Error)
	assert.EqualValues(t, 3, n)
	assert.Len(t, s.Warnings, 2)
}

func TestApplyProgramText(t *testing.T) {
	f := seed(t)

	require.NoError(t, f.db.Create(&model.Program{
		ProgramID: "GN-2020A-Q-1", PIName: "Ada Smith", PICoI: "J. Jones", Title: "Spiral galaxy dynamics",
	}).Error)
	require.NoError(t, f.db.Create(&model.Program{
		ProgramID: "GS-2020A-Q-2", PIName: "Bo Lee", Title: "Twilight flats",
	}).Error)

	assert.ElementsMatch(t, []string{"N20200101S0001.fits", "N20200101S0002.fits"}, f.names(t, "/present/PIname=smith"))
	assert.ElementsMatch(t, []string{"N20200101S0002.fits"}, f.names(t, "/OBJECT/PIname=jones/ProgramText=galaxy"))
	assert.Empty(t, f.names(t, "/present/PIname=lee/ProgramText=galaxy"))
}
