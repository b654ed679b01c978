package model

// Gmos GMOS-N/GMOS-S 专属描述符.
type Gmos struct {
	ID                 uint   `gorm:"primaryKey"     json:"id"`
	HeaderID           uint   `gorm:"not null;index" json:"header_id"`
	Disperser          string `gorm:"size:64;index"  json:"disperser"`
	FilterName         string `gorm:"size:64;index"  json:"filter_name"`
	DetectorXBin       *int   `gorm:"index"          json:"detector_x_bin"`
	DetectorYBin       *int   `gorm:"index"          json:"detector_y_bin"`
	ArrayName          string `gorm:"size:255"       json:"array_name"`
	AmpReadArea        string `gorm:"size:255;index" json:"amp_read_area"`
	ReadSpeedSetting   string `gorm:"size:16;index"  json:"read_speed_setting"`
	GainSetting        string `gorm:"size:16;index"  json:"gain_setting"`
	FocalPlaneMask     string `gorm:"size:64;index"  json:"focal_plane_mask"`
	Nodandshuffle      bool   `gorm:"index"          json:"nodandshuffle"`
	NodCount           *int   `json:"nod_count"`
	NodPixels          *int   `json:"nod_pixels"`
	Prepared           bool   `gorm:"index"          json:"prepared"`
	OverscanSubtracted bool   `gorm:"index"          json:"overscan_subtracted"`
	OverscanTrimmed    bool   `gorm:"index"          json:"overscan_trimmed"`
}

// TableName 表名.
func (Gmos) TableName() string { return "gmos" }

// Niri NIRI 专属描述符.
type Niri struct {
	ID               uint   `gorm:"primaryKey"     json:"id"`
	HeaderID         uint   `gorm:"not null;index" json:"header_id"`
	Disperser        string `gorm:"size:64;index"  json:"disperser"`
	FilterName       string `gorm:"size:64;index"  json:"filter_name"`
	ReadMode         string `gorm:"size:32;index"  json:"read_mode"`
	WellDepthSetting string `gorm:"size:16;index"  json:"well_depth_setting"`
	DataSection      string `gorm:"size:64;index"  json:"data_section"`
	Coadds           *int   `gorm:"index"          json:"coadds"`
	Camera           string `gorm:"size:32;index"  json:"camera"`
	FocalPlaneMask   string `gorm:"size:64"        json:"focal_plane_mask"`
}

// TableName 表名.
func (Niri) TableName() string { return "niri" }

// F2 FLAMINGOS-2 专属描述符.
type F2 struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	Disperser      string `gorm:"size:64;index"  json:"disperser"`
	FilterName     string `gorm:"size:64;index"  json:"filter_name"`
	LyotStop       string `gorm:"size:64;index"  json:"lyot_stop"`
	ReadMode       string `gorm:"size:32;index"  json:"read_mode"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
}

// TableName 表名.
func (F2) TableName() string { return "f2" }

// Gnirs GNIRS 专属描述符.
type Gnirs struct {
	ID               uint   `gorm:"primaryKey"     json:"id"`
	HeaderID         uint   `gorm:"not null;index" json:"header_id"`
	Disperser        string `gorm:"size:64;index"  json:"disperser"`
	FilterName       string `gorm:"size:64;index"  json:"filter_name"`
	ReadMode         string `gorm:"size:32;index"  json:"read_mode"`
	WellDepthSetting string `gorm:"size:16;index"  json:"well_depth_setting"`
	Camera           string `gorm:"size:32;index"  json:"camera"`
	FocalPlaneMask   string `gorm:"size:64"        json:"focal_plane_mask"`
}

// TableName 表名.
func (Gnirs) TableName() string { return "gnirs" }

// Nifs NIFS 专属描述符.
type Nifs struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	Disperser      string `gorm:"size:64;index"  json:"disperser"`
	FilterName     string `gorm:"size:64;index"  json:"filter_name"`
	ReadMode       string `gorm:"size:32;index"  json:"read_mode"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
}

// TableName 表名.
func (Nifs) TableName() string { return "nifs" }

// Gsaoi GSAOI 专属描述符.
type Gsaoi struct {
	ID         uint   `gorm:"primaryKey"     json:"id"`
	HeaderID   uint   `gorm:"not null;index" json:"header_id"`
	FilterName string `gorm:"size:64;index"  json:"filter_name"`
	ReadMode   string `gorm:"size:32;index"  json:"read_mode"`
}

// TableName 表名.
func (Gsaoi) TableName() string { return "gsaoi" }

// Nici NICI 专属描述符.
type Nici struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	FilterRed      string `gorm:"size:64;index"  json:"filter_red"`
	FilterBlue     string `gorm:"size:64;index"  json:"filter_blue"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
	DichroicWheel  string `gorm:"size:64"        json:"dichroic_wheel"`
	DisperserPupil string `gorm:"size:64"        json:"disperser_pupil"`
}

// TableName 表名.
func (Nici) TableName() string { return "nici" }

// Gpi GPI 专属描述符.
type Gpi struct {
	ID                  uint   `gorm:"primaryKey"     json:"id"`
	HeaderID            uint   `gorm:"not null;index" json:"header_id"`
	FilterName          string `gorm:"size:64;index"  json:"filter_name"`
	Disperser           string `gorm:"size:64;index"  json:"disperser"`
	FocalPlaneMask      string `gorm:"size:64;index"  json:"focal_plane_mask"`
	PupilMask           string `gorm:"size:64;index"  json:"pupil_mask"`
	AstrometricStandard bool   `gorm:"index"          json:"astrometric_standard"`
	Wollaston           bool   `gorm:"index"          json:"wollaston"`
	Prism               bool   `gorm:"index"          json:"prism"`
}

// TableName 表名.
func (Gpi) TableName() string { return "gpi" }

// Michelle Michelle 专属描述符.
type Michelle struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	Disperser      string `gorm:"size:64;index"  json:"disperser"`
	FilterName     string `gorm:"size:64;index"  json:"filter_name"`
	ReadMode       string `gorm:"size:32;index"  json:"read_mode"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
}

// TableName 表名.
func (Michelle) TableName() string { return "michelle" }

// Ghost GHOST 专属描述符，每个 arm 一行.
type Ghost struct {
	ID                 uint     `gorm:"primaryKey"         json:"id"`
	HeaderID           uint     `gorm:"not null;index"     json:"header_id"`
	Arm                string   `gorm:"size:16;index"      json:"arm"`
	WantBeforeArc      *bool    `json:"want_before_arc"`
	DetectorName       string   `gorm:"size:64;index"      json:"detector_name"`
	DetectorXBin       *int     `gorm:"index"              json:"detector_x_bin"`
	DetectorYBin       *int     `gorm:"index"              json:"detector_y_bin"`
	ExposureTime       *float64 `json:"exposure_time"`
	GainSetting        string   `gorm:"size:16;index"      json:"gain_setting"`
	ReadSpeedSetting   string   `gorm:"size:16;index"      json:"read_speed_setting"`
	FocalPlaneMask     string   `gorm:"size:16;index"      json:"focal_plane_mask"`
	Prepared           bool     `gorm:"index"              json:"prepared"`
	OverscanSubtracted bool     `gorm:"index"              json:"overscan_subtracted"`
	OverscanTrimmed    bool     `gorm:"index"              json:"overscan_trimmed"`
}

// TableName 表名.
func (Ghost) TableName() string { return "ghost" }

// Igrins IGRINS / IGRINS-2 专属描述符.
type Igrins struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	ReadMode       string `gorm:"size:32;index"  json:"read_mode"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
	Band           string `gorm:"size:8;index"   json:"band"`
}

// TableName 表名.
func (Igrins) TableName() string { return "igrins" }

// VisitorInstrument 其余仪器 (TReCS, Phoenix, Hokupaa, Flamingos, CIRPASS, GRACES,
// Alopeke, Zorro, bHROS) 的共享描述符表.
type VisitorInstrument struct {
	ID             uint   `gorm:"primaryKey"     json:"id"`
	HeaderID       uint   `gorm:"not null;index" json:"header_id"`
	Instrument     string `gorm:"size:32;index"  json:"instrument"`
	Disperser      string `gorm:"size:64;index"  json:"disperser"`
	FilterName     string `gorm:"size:64;index"  json:"filter_name"`
	FocalPlaneMask string `gorm:"size:64;index"  json:"focal_plane_mask"`
	ReadMode       string `gorm:"size:32"        json:"read_mode"`
}

// TableName 表名.
func (VisitorInstrument) TableName() string { return "visitorinstrument" }
