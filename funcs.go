package redo

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Functions 是函数标识 -> 实现的注册表。发布端与消费端需以相同标识注册同一函数，
// 消费端据此把消息还原为可执行任务。
type Functions struct {
	mu  sync.RWMutex
	reg map[string]funcEntry
}

type funcEntry struct {
	id FuncID
	v  any // Func 或 *Deferred
}

// funcKey 按 (模块, 作用域, 函数名) 三元组区分标识；拼接后的点分字符串可能相同。
func funcKey(id FuncID) string {
	return id.Module + "\x00" + strings.Join(id.Scope, "\x00") + "\x00" + id.Name
}

// NewFunctions 创建空注册表；通常直接使用包级 DefaultFunctions。
func NewFunctions() *Functions { return &Functions{reg: map[string]funcEntry{}} }

// DefaultFunctions 为进程级注册表，Define 默认注册到这里。
var DefaultFunctions = NewFunctions()

// Register 注册普通函数。重复标识返回 ErrDuplicateFunction。
func (f *Functions) Register(id FuncID, fn Func) error {
	if fn == nil {
		return fmt.Errorf("register %s: nil func", id)
	}
	return f.store(id, fn)
}

func (f *Functions) registerDeferred(d *Deferred) error { return f.store(d.id, d) }

func (f *Functions) store(id FuncID, v any) error {
	if !id.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFuncID, id.String())
	}
	key := funcKey(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reg[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, id)
	}
	f.reg[key] = funcEntry{id: id, v: v}
	return nil
}

// Resolve 返回标识对应的函数本体。若登记的是 *Deferred，则解包为其底层函数，
// 保证 Worker 执行的是函数体而不是再次入队。
func (f *Functions) Resolve(id FuncID) (Func, error) {
	f.mu.RLock()
	e, ok := f.reg[funcKey(id)]
	f.mu.RUnlock()
	if !ok {
		return nil, &TaskError{Kind: ErrUnresolvableFunction, Func: id.String()}
	}
	switch fn := e.v.(type) {
	case *Deferred:
		return fn.fn, nil
	case Func:
		return fn, nil
	}
	return nil, &TaskError{Kind: ErrUnresolvableFunction, Func: id.String()}
}

// Names 返回已注册标识（有序），供 CLI 展示。
func (f *Functions) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.reg))
	for _, e := range f.reg {
		out = append(out, e.id.String())
	}
	sort.Strings(out)
	return out
}

// load 将描述还原为可执行任务。
func (f *Functions) load(d TaskDescriptor) (*Task, error) {
	fn, err := f.Resolve(d.Func)
	if err != nil {
		return nil, err
	}
	return &Task{TaskDescriptor: d, fn: fn}, nil
}
