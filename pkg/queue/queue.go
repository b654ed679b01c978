// Package queue 定义队列唤醒通知的消息格式. 通知经 watermill 在进程间传递.
//
// 队列状态只存在于数据库表中. 通知仅提示 "某队列有新条目"，可能重复也可能丢失，
// 消费者不得据此推断队列内容，丢失时 worker 依靠轮询兜底.
//
// 消息体为一个扁平 JSON 对象:
//
//	{
//	  "v": 1,
//	  "queue": "ingest",
//	  "target": "N20200101S0001.fits",
//	  "count": 1,
//	  "producer": "api",
//	  "trace_id": "4bf92f3577b34da6a3ce929d0e0e4736",
//	  "sent_at": "2025-01-02T03:04:05.123456Z"
//	}
//
// 消息 ID 为 ULID，按发送时间有序，便于在 NATS 监控里排查.
package queue

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"github.com/oklog/ulid"
)

// WireVersion 当前消息格式版本. 消费者忽略未知字段.
const WireVersion = 1

// Metadata 键，供不解码消息体的中间件 (例如 watermill 指标) 使用.
const (
	MetaQueue    = "queue"
	MetaProducer = "producer"
	MetaTraceID  = "trace_id"
)

// Wakeup 一条唤醒通知.
type Wakeup struct {
	Version int    `json:"v"`
	Queue   string `json:"queue"`
	// Target 条目的逻辑目标 (文件名或 obs_hid)，只用于日志
	Target   string    `json:"target,omitempty"`
	Count    int       `json:"count,omitempty"`
	Producer string    `json:"producer,omitempty"`
	TraceID  string    `json:"trace_id,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

// Option 设置 Wakeup 的可选字段.
type Option func(*Wakeup)

// WithProducer 发送方标识，例如 api、scheduler、worker-ingest.
func WithProducer(p string) Option { return func(w *Wakeup) { w.Producer = p } }

// WithTraceID 关联发送方的 trace.
func WithTraceID(id string) Option { return func(w *Wakeup) { w.TraceID = id } }

// WithCount 一次入队多个条目时合并为一条通知.
func WithCount(n int) Option { return func(w *Wakeup) { w.Count = n } }

// NewWakeup 构造通知，Count 默认为 1.
func NewWakeup(queueName, target string, opts ...Option) Wakeup {
	w := Wakeup{
		Version: WireVersion,
		Queue:   queueName,
		Target:  target,
		Count:   1,
		SentAt:  time.Now().UTC(),
	}
	for _, o := range opts {
		o(&w)
	}

	return w
}

// Message 编码为 watermill 消息.
func (w Wakeup) Message() (*message.Message, error) {
	body, err := sonic.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode wakeup: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(w.SentAt), rand.Reader)

	msg := message.NewMessage(id.String(), body)
	msg.Metadata.Set(MetaQueue, w.Queue)

	if w.Producer != "" {
		msg.Metadata.Set(MetaProducer, w.Producer)
	}

	if w.TraceID != "" {
		msg.Metadata.Set(MetaTraceID, w.TraceID)
	}

	return msg, nil
}

// Parse 解码 watermill 消息. 版本高于 WireVersion 的消息仍按已知字段解码.
func Parse(msg *message.Message) (Wakeup, error) {
	var w Wakeup
	if err := sonic.Unmarshal(msg.Payload, &w); err != nil {
		return Wakeup{}, fmt.Errorf("decode wakeup %s: %w", msg.UUID, err)
	}

	if w.Queue == "" {
		w.Queue = msg.Metadata.Get(MetaQueue)
	}

	return w, nil
}
