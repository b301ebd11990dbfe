package redo

import (
	"context"
	"log"
	"strings"
)

// Logger 为最小日志接口，应用可注入自定义实现。
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...interface{})
	Info(ctx context.Context, msg string, kv ...interface{})
	Error(ctx context.Context, msg string, kv ...interface{})
}

// defaultLogger 使用标准库 log，满足最小可用；debug 仅在 Level=debug 时输出。
type defaultLogger struct{ debug bool }

func newDefaultLogger(cfg LoggerConfig) Logger {
	return defaultLogger{debug: strings.EqualFold(cfg.Level, "debug")}
}

func (l defaultLogger) Debug(ctx context.Context, msg string, kv ...interface{}) {
	if l.debug {
		log.Println(append([]interface{}{"DEBUG", msg}, kv...)...)
	}
}
func (defaultLogger) Info(ctx context.Context, msg string, kv ...interface{}) {
	log.Println(append([]interface{}{"INFO", msg}, kv...)...)
}
func (defaultLogger) Error(ctx context.Context, msg string, kv ...interface{}) {
	log.Println(append([]interface{}{"ERROR", msg}, kv...)...)
}
