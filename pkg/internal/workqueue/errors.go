package workqueue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// transientError 标记可重试的失败.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient 包装为瞬时错误，Fail 后可被清扫重排.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// IsTransient 判断失败是否值得自动重试: 显式标记、网络超时或上下文超时.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

// deferError 条目应推迟到 until 再处理，不计为失败.
type deferError struct {
	until  time.Time
	reason string
}

func (e *deferError) Error() string {
	return fmt.Sprintf("deferred until %s: %s", e.until.Format(time.RFC3339), e.reason)
}

// DeferUntil 返回一个推迟错误，worker 见到它时调用 Defer 而不是 Fail.
func DeferUntil(until time.Time, reason string) error {
	return &deferError{until: until.UTC(), reason: reason}
}

// DeferredUntil 提取推迟时间.
func DeferredUntil(err error) (time.Time, bool) {
	var de *deferError
	if errors.As(err, &de) {
		return de.until, true
	}

	return time.Time{}, false
}
