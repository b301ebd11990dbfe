package redo

import (
	"errors"
	"fmt"
)

var (
	// 配置 / 调用错误：直接返回给调用方，不重试。
	ErrUnknownQueue      = errors.New("redo: unknown queue")
	ErrInvalidLane       = errors.New("redo: invalid lane")
	ErrDuplicateFunction = errors.New("redo: function already registered")
	ErrInvalidFuncID     = errors.New("redo: invalid function id")
	ErrNoListener        = errors.New("redo: no listener on channel")
	ErrClosed            = errors.New("redo: closed")

	// 单条消息错误：作为值交给消费方，监听循环继续。
	ErrMalformedTask        = errors.New("redo: malformed task")
	ErrUnresolvableFunction = errors.New("redo: unresolvable function")
	ErrTaskExecution        = errors.New("redo: task execution failed")
)

// TaskError 描述单条消息层面的失败（解码、解析或执行）。
// errors.Is 同时匹配 Kind 与底层原因。
type TaskError struct {
	Kind    error
	Func    string // 已知时为函数标识
	Payload string // 解码失败时为原始消息
	Err     error
}

func (e *TaskError) Error() string {
	switch {
	case e.Func != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Func, e.Err)
	case e.Func != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Func)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *TaskError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
