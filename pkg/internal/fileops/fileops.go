// Package fileops 消费 fileops 队列: 对存储中的文件执行异步操作.
//
// 请求是 JSON 文档 {"request": "<name>", "args": {...}}，处理结果写成
// {"ok": bool, "error": "...", "value": ...}. response_required 的条目处理后保留，
// 由入队方读取 response 再删除；其余条目成功后删除.
package fileops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/configs"
	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/ingest"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

// 支持的请求名.
const (
	RequestEcho          = "echo"
	RequestIngestUpload  = "ingest_upload"
	RequestUpdateHeaders = "update_headers"
)

var (
	// ErrBadRequest 请求文档无法解析或缺少必需字段.
	ErrBadRequest = errors.New("bad fileops request")
	// ErrUnknownRequest 没有对应的处理函数.
	ErrUnknownRequest = errors.New("no handler for fileops request")
)

// Request fileops 请求文档.
type Request struct {
	Request string          `json:"request"`
	Args    json.RawMessage `json:"args"`
}

// Response 写回条目 response 列的结果文档.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Value any    `json:"value"`
}

// Handler 执行一个请求，返回值进入 Response.Value.
type Handler func(ctx context.Context, args []byte) (any, error)

// Processor 处理 fileops 条目.
type Processor struct {
	db       *gorm.DB
	store    blob.Store
	staging  blob.Store
	storage  configs.StorageConfig
	enqueuer *ingest.Enqueuer
	handlers map[string]Handler
}

// New 创建 Processor. staging 为上传暂存区，enqueuer 用于把文件排入 ingest.
func New(db *gorm.DB, store, staging blob.Store, storage configs.StorageConfig, enqueuer *ingest.Enqueuer) *Processor {
	p := &Processor{db: db, store: store, staging: staging, storage: storage, enqueuer: enqueuer}

	p.handlers = map[string]Handler{
		RequestEcho:          echo,
		RequestIngestUpload:  p.ingestUpload,
		RequestUpdateHeaders: p.updateHeaders,
	}

	return p
}

// Register 增加或替换一个请求处理函数.
func (p *Processor) Register(name string, h Handler) {
	p.handlers[name] = h
}

// Requests 已注册的请求名.
func (p *Processor) Requests() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Encode 构造请求文档.
func Encode(name string, args any) (string, error) {
	raw, err := sonic.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s args: %w", name, err)
	}

	return sonic.MarshalString(Request{Request: name, Args: raw})
}

// Process 执行一个已出队的条目并返回响应. response_required 的条目处理失败时
// 错误只写入响应，返回的 error 仅表示响应无法保存；其余条目的失败通过 error 返回.
func (p *Processor) Process(ctx context.Context, e *model.FileopsQueueEntry) (*Response, error) {
	log := nlog.Logger().With().
		Str("queue", string(model.QueueFileops)).
		Str("filename", e.Filename).
		Uint("id", e.ID).
		Logger()

	resp, err := p.dispatch(ctx, e.Request)
	if err != nil {
		resp = &Response{Error: err.Error()}
		log.Error().Err(err).Msg("fileops request failed")
	} else {
		log.Info().Msg("fileops request completed")
	}

	if e.ResponseRequired {
		return resp, p.answer(ctx, e.ID, resp)
	}

	return resp, err
}

func (p *Processor) dispatch(ctx context.Context, doc string) (*Response, error) {
	var req Request
	if err := sonic.UnmarshalString(doc, &req); err != nil {
		return nil, fmt.Errorf("%w: decode request document: %v", ErrBadRequest, err)
	}

	if req.Request == "" {
		return nil, fmt.Errorf("%w: request dict must contain request key", ErrBadRequest)
	}

	if len(req.Args) == 0 || req.Args[0] != '{' {
		return nil, fmt.Errorf("%w: request args must be an object", ErrBadRequest)
	}

	h, ok := p.handlers[req.Request]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, req.Request)
	}

	value, err := h(ctx, req.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Request, err)
	}

	return &Response{OK: true, Value: value}, nil
}

// answer 写入 response. 行保持处理中状态直到调用方删除.
func (p *Processor) answer(ctx context.Context, id uint, resp *Response) error {
	doc, err := sonic.MarshalString(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	err = p.db.WithContext(ctx).Model(&model.FileopsQueueEntry{}).Where("id = ?", id).
		Update("response", doc).Error
	if err != nil {
		return fmt.Errorf("store fileops response %d: %w", id, err)
	}

	return nil
}

// DecodeResponse 解析条目中的 response 列. 尚未处理时返回 nil.
func DecodeResponse(e *model.FileopsQueueEntry) (*Response, error) {
	if e.Response == "" {
		return nil, nil
	}

	var resp Response
	if err := sonic.UnmarshalString(e.Response, &resp); err != nil {
		return nil, fmt.Errorf("decode fileops response %d: %w", e.ID, err)
	}

	return &resp, nil
}

type echoArgs struct {
	Echo any `json:"echo"`
}

func echo(_ context.Context, args []byte) (any, error) {
	var a echoArgs
	if err := sonic.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	return a.Echo, nil
}
