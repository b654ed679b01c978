package mq

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// loggerAdapter 把 watermill 的日志接口转到 zerolog. watermill 的 info 日志很多，
// 这里降为 debug，只有错误保持原级别.
type loggerAdapter struct {
	l zerolog.Logger
}

func newLoggerAdapter(l zerolog.Logger) watermill.LoggerAdapter {
	return loggerAdapter{l: l}
}

func withFields(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	if len(fields) > 0 {
		ev = ev.Fields(map[string]any(fields))
	}

	return ev
}

func (a loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	withFields(a.l.Error().Err(err), fields).Msg(msg)
}

func (a loggerAdapter) Info(msg string, fields watermill.LogFields) {
	withFields(a.l.Debug(), fields).Msg(msg)
}

func (a loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	withFields(a.l.Trace(), fields).Msg(msg)
}

func (a loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	withFields(a.l.Trace(), fields).Msg(msg)
}

func (a loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{l: a.l.With().Fields(map[string]any(fields)).Logger()}
}
