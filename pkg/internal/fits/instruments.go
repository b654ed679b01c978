package fits

import (
	"strings"

	"github.com/yeisme/fitsvault/pkg/internal/model"
)

func instrumentRowOther(d *Descriptors, headerID uint) any {
	switch d.Instrument {
	case "NIFS":
		return &model.Nifs{
			HeaderID:       headerID,
			Disperser:      d.Disperser,
			FilterName:     d.FilterName,
			ReadMode:       d.DetectorReadmodeSetting,
			FocalPlaneMask: d.FocalPlaneMask,
		}
	case "GSAOI":
		return &model.Gsaoi{
			HeaderID:   headerID,
			FilterName: d.FilterName,
			ReadMode:   d.DetectorReadmodeSetting,
		}
	case "NICI":
		red, blue, _ := strings.Cut(d.FilterName, "+")

		return &model.Nici{
			HeaderID:       headerID,
			FilterRed:      red,
			FilterBlue:     blue,
			FocalPlaneMask: d.FocalPlaneMask,
			DisperserPupil: d.PupilMask,
		}
	case "GPI":
		return &model.Gpi{
			HeaderID:            headerID,
			FilterName:          d.FilterName,
			Disperser:           d.Disperser,
			FocalPlaneMask:      d.FocalPlaneMask,
			PupilMask:           d.PupilMask,
			AstrometricStandard: d.HasTag("ASTROMETRIC"),
			Wollaston:           strings.Contains(d.Disperser, "WOLLASTON"),
			Prism:               strings.Contains(d.Disperser, "PRISM"),
		}
	case "michelle":
		return &model.Michelle{
			HeaderID:       headerID,
			Disperser:      d.Disperser,
			FilterName:     d.FilterName,
			ReadMode:       d.DetectorReadmodeSetting,
			FocalPlaneMask: d.FocalPlaneMask,
		}
	case "GHOST":
		return &model.Ghost{
			HeaderID:           headerID,
			Arm:                d.Arm,
			DetectorName:       d.ArrayName,
			DetectorXBin:       d.DetectorXBin,
			DetectorYBin:       d.DetectorYBin,
			ExposureTime:       d.ExposureTime,
			GainSetting:        d.DetectorGainSetting,
			ReadSpeedSetting:   d.DetectorReadspeedSetting,
			FocalPlaneMask:     d.FocalPlaneMask,
			Prepared:           d.Prepared,
			OverscanSubtracted: d.OverscanSubtracted,
			OverscanTrimmed:    d.OverscanTrimmed,
		}
	case "IGRINS", "IGRINS-2":
		return &model.Igrins{
			HeaderID:       headerID,
			ReadMode:       d.DetectorReadmodeSetting,
			FocalPlaneMask: d.FocalPlaneMask,
			Band:           d.WavelengthBand,
		}
	}

	return &model.VisitorInstrument{
		HeaderID:       headerID,
		Instrument:     d.Instrument,
		Disperser:      d.Disperser,
		FilterName:     d.FilterName,
		FocalPlaneMask: d.FocalPlaneMask,
		ReadMode:       d.DetectorReadmodeSetting,
	}
}
