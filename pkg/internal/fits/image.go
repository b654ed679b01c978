package fits

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/astrogo/fitsio"
)

// ErrNoImage 文件中没有二维图像数据.
var ErrNoImage = errors.New("no image data")

// Pixels 二维图像的物理值，行优先，第一行为 y=1.
type Pixels struct {
	Width, Height int
	Data          []float64
}

// At 返回 (x, y) 处的值，下标从 0 开始.
func (p *Pixels) At(x, y int) float64 {
	return p.Data[y*p.Width+x]
}

// ReadPixels 读取第一个带二维数据的图像 HDU. 三维以上只取第一平面.
func ReadPixels(r io.Reader) (*Pixels, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFITS, err)
	}
	defer f.Close()

	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}

		hdr := img.Header()

		axes := hdr.Axes()
		if len(axes) < 2 || axes[0] == 0 || axes[1] == 0 {
			continue
		}

		k := keywords{hdrs: []*fitsio.Header{hdr}}
		scale, zero := 1.0, 0.0

		if v := k.float("BSCALE"); v != nil {
			scale = *v
		}

		if v := k.float("BZERO"); v != nil {
			zero = *v
		}

		return decodePixels(img.Raw(), hdr.Bitpix(), axes[0], axes[1], scale, zero)
	}

	return nil, ErrNoImage
}

func decodePixels(raw []byte, bitpix, w, h int, scale, zero float64) (*Pixels, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}

	n := w * h
	if size == 0 || len(raw) < n*size {
		return nil, fmt.Errorf("%w: short data (%d bytes, bitpix %d)", ErrNoImage, len(raw), bitpix)
	}

	p := &Pixels{Width: w, Height: h, Data: make([]float64, n)}
	be := binary.BigEndian

	for i := 0; i < n; i++ {
		b := raw[i*size : (i+1)*size]

		var v float64

		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(be.Uint16(b)))
		case 32:
			v = float64(int32(be.Uint32(b)))
		case 64:
			v = float64(int64(be.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(be.Uint32(b)))
		case -64:
			v = math.Float64frombits(be.Uint64(b))
		default:
			return nil, fmt.Errorf("%w: bitpix %d", ErrNoImage, bitpix)
		}

		p.Data[i] = v*scale + zero
	}

	return p, nil
}
