package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 初始化全局日志器，service 字段会出现在每一条日志上。
func Init(service string) {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}

// Ctx 返回一个附带当前 trace_id 的日志器，让日志可以和链路对齐。
// 没有有效 Span 时退化为全局日志器。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &base
	}
	l := base.With().Str("trace_id", sc.TraceID().String()).Logger()
	return &l
}
