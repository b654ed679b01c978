// Package preview 为 DiskFile 生成 JPEG 预览图.
//
// 取第一个二维图像 HDU，按百分位裁剪拉伸到 8 位灰度，最近邻缩小后编码为 JPEG，
// 写入存储的预览目录并记录 Preview 行. 预览失败只影响 preview 队列条目.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"slices"
	"strings"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

const (
	// DefaultMaxSize 预览图最长边像素数.
	DefaultMaxSize = 300
	defaultQuality = 85
	// sampleLimit 估计百分位时最多取样的像素数
	sampleLimit    = 20000
	lowPercentile  = 0.005
	highPercentile = 0.995
)

var (
	// ErrDiskFileMissing 条目引用的 DiskFile 已不存在.
	ErrDiskFileMissing = errors.New("diskfile not found")
	// ErrNoPreview 没有可用的预览图.
	ErrNoPreview = errors.New("no preview available")
)

// Renderer 处理 preview 队列条目.
type Renderer struct {
	db      *gorm.DB
	store   blob.Store
	path    string
	maxSize int
	quality int
}

// Option Renderer 选项.
type Option func(*Renderer)

// WithMaxSize 设置最长边.
func WithMaxSize(n int) Option {
	return func(r *Renderer) { r.maxSize = n }
}

// New 创建 Renderer，预览图写入 store 的 previewPath 目录.
func New(db *gorm.DB, store blob.Store, previewPath string, opts ...Option) *Renderer {
	r := &Renderer{db: db, store: store, path: previewPath, maxSize: DefaultMaxSize, quality: defaultQuality}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Name 预览图文件名: 去掉 .bz2 与 .fits 后加 .jpg.
func Name(filename string) string {
	base := blob.TrimCompressed(filename)
	return strings.TrimSuffix(base, ".fits") + ".jpg"
}

// Process 为条目引用的 DiskFile 生成预览. 已有预览且未强制时直接返回已有记录.
func (r *Renderer) Process(ctx context.Context, e *model.PreviewQueueEntry) (*model.Preview, error) {
	log := nlog.Logger().With().
		Str("queue", string(model.QueuePreview)).
		Str("filename", e.Filename).
		Uint("diskfile_id", e.DiskFileID).
		Logger()

	var df model.DiskFile

	err := r.db.WithContext(ctx).First(&df, e.DiskFileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDiskFileMissing, e.DiskFileID)
	}

	if err != nil {
		return nil, workqueue.Transient(err)
	}

	if !e.Force {
		var existing model.Preview

		err := r.db.WithContext(ctx).Where("diskfile_id = ?", df.ID).First(&existing).Error
		if err == nil {
			return &existing, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, workqueue.Transient(err)
		}
	}

	rc, err := blob.OpenUncompressed(ctx, r.store, df.Path, df.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", df.Filename, err)
		}

		return nil, workqueue.Transient(fmt.Errorf("open %s: %w", df.Filename, err))
	}
	defer rc.Close()

	px, err := fits.ReadPixels(rc)
	if err != nil {
		return nil, fmt.Errorf("read image from %s: %w", df.Filename, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Render(px, r.maxSize), &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	name := Name(df.Filename)

	if err := r.store.Put(ctx, r.path, name, &buf, int64(buf.Len())); err != nil {
		return nil, workqueue.Transient(fmt.Errorf("store preview %s: %w", name, err))
	}

	p := model.Preview{DiskFileID: df.ID, Filename: name, Path: r.path}

	err = r.db.WithContext(ctx).
		Where(model.Preview{DiskFileID: df.ID}).
		Assign(model.Preview{Filename: name, Path: r.path}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, workqueue.Transient(fmt.Errorf("record preview %s: %w", name, err))
	}

	log.Info().Str("preview", name).Int("width", px.Width).Int("height", px.Height).Msg("preview rendered")

	return &p, nil
}

// Render 百分位拉伸并缩小. FITS 第一行在底部，输出图像翻转为顶部在上.
func Render(px *fits.Pixels, maxSize int) *image.Gray {
	lo, hi := limits(px.Data)

	w, h := px.Width, px.Height
	scale := 1.0

	if maxSize > 0 && max(w, h) > maxSize {
		scale = float64(max(w, h)) / float64(maxSize)
		w = max(1, int(float64(w)/scale))
		h = max(1, int(float64(h)/scale))
	}

	img := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		sy := min(px.Height-1, int(float64(y)*scale))

		for x := 0; x < w; x++ {
			sx := min(px.Width-1, int(float64(x)*scale))
			img.SetGray(x, h-1-y, color.Gray{Y: stretch(px.At(sx, sy), lo, hi)})
		}
	}

	return img
}

// limits 估计低/高百分位.
func limits(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	step := max(1, len(data)/sampleLimit)
	sample := make([]float64, 0, len(data)/step+1)

	for i := 0; i < len(data); i += step {
		sample = append(sample, data[i])
	}

	slices.Sort(sample)

	at := func(p float64) float64 {
		return sample[int(p*float64(len(sample)-1))]
	}

	return at(lowPercentile), at(highPercentile)
}

func stretch(v, lo, hi float64) uint8 {
	if hi <= lo {
		return 0
	}

	switch {
	case v <= lo:
		return 0
	case v >= hi:
		return 255
	}

	return uint8((v - lo) / (hi - lo) * 255)
}

// Open 读取 filename 当前 canonical 版本的预览图.
func Open(ctx context.Context, db *gorm.DB, store blob.Store, filename string) (io.ReadCloser, error) {
	var p model.Preview

	err := db.WithContext(ctx).
		Joins("JOIN diskfile ON diskfile.id = preview.diskfile_id").
		Joins("JOIN file ON file.id = diskfile.file_id").
		Where("file.name = ? AND diskfile.canonical = ?", blob.TrimCompressed(filename), true).
		Order("preview.id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoPreview, filename)
	}

	if err != nil {
		return nil, err
	}

	return store.Open(ctx, p.Path, p.Filename)
}
