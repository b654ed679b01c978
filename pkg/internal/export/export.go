// Package export 把已入库文件复制到下游对等归档.
//
// 每个 export 条目对应一个 (文件, 目的地). 处理流程:
//
//	查 canonical DiskFile → GET {dest}/jsonfilelist/present/filename={name}
//	  → 对端 ingest 未完成: 推迟
//	  → data_md5 一致: 完成
//	  → 否则 POST {dest}/upload_file/{name} 并核对回执
//
// 每个目的地一个熔断器，打开期间的条目按瞬时失败处理.
package export

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
	nlog "github.com/yeisme/fitsvault/pkg/log"
	"github.com/yeisme/fitsvault/pkg/metrics"
)

// maxResponseBody 对端 JSON 响应的读取上限.
const maxResponseBody = 1 << 20

var (
	// ErrNotCatalogued 本地没有该文件的 canonical 且在存储上的版本.
	ErrNotCatalogued = errors.New("no present canonical diskfile")
	// ErrPeerResponse 对端响应无法解析或含义不明.
	ErrPeerResponse = errors.New("unexpected peer response")
	// ErrVerification 上传回执与发送内容不符.
	ErrVerification = errors.New("transfer verification failed")
)

// Action 导出结果.
type Action string

const (
	ActionTransferred    Action = "transferred"
	ActionAlreadyPresent Action = "already_present"
)

// Result 一次导出的结果.
type Result struct {
	Action      Action `json:"action"`
	Destination string `json:"destination"`
	// Filename 发送给对端的文件名
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	MD5      string `json:"md5,omitempty"`
}

// peerFile jsonfilelist 中与导出相关的字段.
type peerFile struct {
	Filename      string `json:"filename"`
	DataMD5       string `json:"data_md5"`
	PendingIngest bool   `json:"pending_ingest"`
}

// UploadAck upload_file 的回执条目.
type UploadAck struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MD5      string `json:"md5"`
}

// Exporter 处理 export 队列条目.
type Exporter struct {
	db      *gorm.DB
	store   blob.Store
	cfg     configs.ExportConfig
	client  *http.Client
	breaker configs.CircuitBreakerConfig
	now     func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option Exporter 选项.
type Option func(*Exporter)

// WithHTTPClient 替换 HTTP 客户端.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exporter) { e.client = c }
}

// WithBreaker 为每个目的地启用熔断.
func WithBreaker(cfg configs.CircuitBreakerConfig) Option {
	return func(e *Exporter) { e.breaker = cfg }
}

// WithClock 替换时钟.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// New 创建 Exporter.
func New(db *gorm.DB, store blob.Store, cfg configs.ExportConfig, opts ...Option) *Exporter {
	if cfg.DeferPending <= 0 {
		cfg.DeferPending = configs.DefaultExportDeferPending
	}

	if cfg.CookieName == "" {
		cfg.CookieName = configs.DefaultUploadCookieName
	}

	e := &Exporter{
		db:       db,
		store:    store,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		now:      time.Now,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Process 导出一个已出队的条目. 对端 ingest 未完成时返回 workqueue.DeferUntil 错误.
func (x *Exporter) Process(ctx context.Context, e *model.ExportQueueEntry) (*Result, error) {
	log := nlog.Logger().With().
		Str("queue", string(model.QueueExport)).
		Str("filename", e.Filename).
		Str("destination", e.Destination).
		Uint("id", e.ID).
		Logger()

	df, err := x.canonical(ctx, e.Filename)
	if err != nil {
		return nil, err
	}

	dest, ok := x.cfg.Destination(e.Destination)
	if !ok {
		dest = configs.ExportDestination{URL: e.Destination}
	}

	info, present, err := x.peerInfo(ctx, dest, df.Filename)
	if err != nil {
		return nil, err
	}

	if present && info.PendingIngest {
		log.Info().Dur("delay", x.cfg.DeferPending).Msg("ingest pending at destination, deferring export")
		return nil, workqueue.DeferUntil(x.now().Add(x.cfg.DeferPending), "ingest pending at destination")
	}

	if present && info.DataMD5 == df.DataMD5 {
		log.Info().Str("data_md5", df.DataMD5).Msg("file already at destination")
		return &Result{Action: ActionAlreadyPresent, Destination: dest.URL, Filename: df.Filename}, nil
	}

	start := x.now()

	res, err := x.upload(ctx, dest, df)
	if err != nil {
		return nil, err
	}

	secs := x.now().Sub(start).Seconds()
	metrics.ExportBytes.WithLabelValues(dest.URL).Add(float64(res.Bytes))

	ev := log.Info().Str("sent_as", res.Filename).Int64("bytes", res.Bytes).Float64("secs", secs)
	if secs > 0 {
		ev = ev.Float64("mb_per_sec", float64(res.Bytes)/1048576/secs)
	}

	ev.Msg("transfer completed")

	return res, nil
}

// canonical 查找文件名对应的 canonical 且 present 的 DiskFile.
func (x *Exporter) canonical(ctx context.Context, filename string) (*model.DiskFile, error) {
	var df model.DiskFile

	err := x.db.WithContext(ctx).
		Joins("JOIN file ON file.id = diskfile.file_id").
		Where("file.name = ? AND diskfile.canonical = ? AND diskfile.present = ?", blob.TrimCompressed(filename), true, true).
		First(&df).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotCatalogued, filename)
	}

	if err != nil {
		return nil, workqueue.Transient(fmt.Errorf("look up %s: %w", filename, err))
	}

	return &df, nil
}

// peerInfo 查询对端对该文件的记录. 对端没有该文件时 present 为 false.
func (x *Exporter) peerInfo(ctx context.Context, dest configs.ExportDestination, filename string) (peerFile, bool, error) {
	u := fmt.Sprintf("%s/jsonfilelist/present/filename=%s", strings.TrimRight(dest.URL, "/"),
		url.PathEscape(blob.TrimCompressed(filename)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return peerFile{}, false, fmt.Errorf("build request %s: %w", u, err)
	}

	// 对端的响应缓存可能落后于目录
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := x.do(dest.URL, req)
	if err != nil {
		return peerFile{}, false, err
	}

	if resp.status != http.StatusOK {
		return peerFile{}, false, fmt.Errorf("%w: GET %s returned %d", ErrPeerResponse, u, resp.status)
	}

	var list []peerFile
	if err := sonic.Unmarshal(resp.body, &list); err != nil {
		return peerFile{}, false, fmt.Errorf("%w: decode %s: %w", ErrPeerResponse, u, err)
	}

	switch len(list) {
	case 0:
		return peerFile{}, false, nil
	case 1:
		return list[0], true, nil
	default:
		return peerFile{}, false, fmt.Errorf("%w: %d present entries for %s", ErrPeerResponse, len(list), filename)
	}
}

// upload 发送文件本体并核对回执.
func (x *Exporter) upload(ctx context.Context, dest configs.ExportDestination, df *model.DiskFile) (*Result, error) {
	name := df.Filename
	size := df.FileSize

	var (
		rc  io.ReadCloser
		err error
	)

	if dest.Compress && !blob.IsCompressed(df.Filename) {
		name = df.Filename + blob.CompressedSuffix
		size = -1
		rc, err = blob.OpenCompressed(ctx, x.store, df.Path, df.Filename)
	} else {
		rc, err = x.store.Open(ctx, df.Path, df.Filename)
	}

	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", df.Filename, err)
		}

		return nil, workqueue.Transient(fmt.Errorf("open %s: %w", df.Filename, err))
	}
	defer rc.Close()

	sum := md5.New()
	counter := &countingWriter{}
	body := io.TeeReader(rc, io.MultiWriter(sum, counter))

	u := fmt.Sprintf("%s/upload_file/%s", strings.TrimRight(dest.URL, "/"), url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", u, err)
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	if dest.Token != "" {
		req.AddCookie(&http.Cookie{Name: x.cfg.CookieName, Value: dest.Token})
	}

	resp, err := x.do(dest.URL, req)
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("%w: POST %s returned %d", ErrPeerResponse, u, resp.status)
	}

	res := &Result{
		Action:      ActionTransferred,
		Destination: dest.URL,
		Filename:    name,
		Bytes:       counter.n,
		MD5:         hex.EncodeToString(sum.Sum(nil)),
	}

	var acks []UploadAck
	if err := sonic.Unmarshal(resp.body, &acks); err != nil || len(acks) == 0 {
		return nil, fmt.Errorf("%w: cannot decode upload response from %s", ErrVerification, u)
	}

	ack := acks[0]

	switch {
	case ack.Filename != res.Filename:
		return nil, fmt.Errorf("%w: filename %s vs %s", ErrVerification, ack.Filename, res.Filename)
	case ack.Size != res.Bytes:
		return nil, fmt.Errorf("%w: size %d vs %d", ErrVerification, ack.Size, res.Bytes)
	case ack.MD5 != res.MD5:
		return nil, fmt.Errorf("%w: md5 %s vs %s", ErrVerification, ack.MD5, res.MD5)
	}

	return res, nil
}

type response struct {
	status int
	body   []byte
}

// do 经目的地熔断器发送请求. 连接错误与 5xx 计为失败并标记为瞬时.
func (x *Exporter) do(dest string, req *http.Request) (*response, error) {
	call := func() (any, error) {
		resp, err := x.client.Do(req)
		if err != nil {
			return nil, workqueue.Transient(fmt.Errorf("%s %s: %w", req.Method, req.URL, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, workqueue.Transient(fmt.Errorf("read response from %s: %w", req.URL, err))
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, workqueue.Transient(fmt.Errorf("%s %s returned %d", req.Method, req.URL, resp.StatusCode))
		}

		return &response{status: resp.StatusCode, body: body}, nil
	}

	cb := x.breakerFor(dest)
	if cb == nil {
		out, err := call()
		if err != nil {
			return nil, err
		}

		return out.(*response), nil
	}

	out, err := cb.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, workqueue.Transient(fmt.Errorf("destination %s: %w", dest, err))
	}

	if err != nil {
		return nil, err
	}

	return out.(*response), nil
}

// breakerFor 返回目的地的熔断器，未启用时为 nil.
func (x *Exporter) breakerFor(dest string) *gobreaker.CircuitBreaker {
	if !x.breaker.Enabled {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if cb, ok := x.breakers[dest]; ok {
		return cb
	}

	settings := x.breaker.Settings("export:" + dest)
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		nlog.Logger().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
			Msg("export circuit breaker state changed")
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	x.breakers[dest] = cb

	return cb
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
