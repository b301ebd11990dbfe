package redo

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Handler 执行一个已解析的任务。
type Handler func(ctx context.Context, t *Task) (any, error)

// Middleware 用于包装任务执行。
type Middleware func(next Handler) Handler

func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func runTask(ctx context.Context, t *Task) (any, error) { return t.Run(ctx) }

// Recover 将任务中的 panic 转为错误，保证单个任务不会终止监听。
func Recover(logger Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, t *Task) (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Debug(ctx, "task panic", "task", t.Func.String(), "stack", string(debug.Stack()))
					res, err = nil, fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, t)
		}
	}
}

// Timing 以 debug 级别记录任务耗时。
func Timing(logger Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, t *Task) (any, error) {
			start := time.Now()
			res, err := next(ctx, t)
			logger.Debug(ctx, "task finished", "task", t.Func.String(), "elapsed", time.Since(start), "ok", err == nil)
			return res, err
		}
	}
}
