package redo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Func 是可被延迟执行的函数。参数以 JSON 原文传入，由函数自行解码。
type Func func(ctx context.Context, args Args) (any, error)

// FuncID 跨进程稳定的函数标识：模块路径 + 作用域路径 + 函数名。
type FuncID struct {
	Module string
	Scope  []string
	Name   string
}

// ParseFuncID 解析 "github.com/acme/mail.Sender.Send" 形式的标识：
// 最后一个 '/' 之后的第一段属于模块路径，末段为函数名，中间为作用域。
func ParseFuncID(s string) (FuncID, error) {
	slash := strings.LastIndex(s, "/")
	parts := strings.Split(s[slash+1:], ".")
	if len(parts) < 2 {
		return FuncID{}, fmt.Errorf("%w: %q", ErrInvalidFuncID, s)
	}
	for i, p := range parts {
		p = strings.TrimSuffix(strings.TrimPrefix(p, "(*"), ")")
		if p == "" {
			return FuncID{}, fmt.Errorf("%w: %q", ErrInvalidFuncID, s)
		}
		parts[i] = p
	}
	id := FuncID{Module: s[:slash+1] + parts[0], Name: parts[len(parts)-1]}
	if scope := parts[1 : len(parts)-1]; len(scope) > 0 {
		id.Scope = scope
	}
	return id, nil
}

// MustParseFuncID 同 ParseFuncID，失败时 panic；用于包级变量初始化。
func MustParseFuncID(s string) FuncID {
	id, err := ParseFuncID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (f FuncID) String() string {
	var b strings.Builder
	b.WriteString(f.Module)
	for _, s := range f.Scope {
		b.WriteByte('.')
		b.WriteString(s)
	}
	b.WriteByte('.')
	b.WriteString(f.Name)
	return b.String()
}

func (f FuncID) valid() bool { return f.Module != "" && f.Name != "" }

// Args 为一次调用的位置参数与关键字参数（JSON 原文）。
type Args struct {
	Positional []json.RawMessage
	Keyword    map[string]json.RawMessage
}

// Len 返回位置参数个数。
func (a Args) Len() int { return len(a.Positional) }

// Arg 将第 i 个位置参数解码到 v。
func (a Args) Arg(i int, v any) error {
	if i < 0 || i >= len(a.Positional) {
		return fmt.Errorf("argument %d out of range (%d given)", i, len(a.Positional))
	}
	if err := json.Unmarshal(a.Positional[i], v); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

// Kwarg 将关键字参数 name 解码到 v；不存在时返回 false。
func (a Args) Kwarg(name string, v any) (bool, error) {
	raw, ok := a.Keyword[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode argument %q: %w", name, err)
	}
	return true, nil
}

// TaskDescriptor 一次延迟调用的规范表示，只在发布端与消费端之间传递，不持久化。
type TaskDescriptor struct {
	Func FuncID
	Args
}

// NewTaskDescriptor 由函数标识与调用参数构造描述；参数必须可 JSON 编码。
func NewTaskDescriptor(id FuncID, args []any, kwargs map[string]any) (TaskDescriptor, error) {
	if !id.valid() {
		return TaskDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidFuncID, id.String())
	}
	d := TaskDescriptor{Func: FuncID{Module: id.Module, Name: id.Name}}
	if len(id.Scope) > 0 {
		d.Func.Scope = append([]string(nil), id.Scope...)
	}
	for i, v := range args {
		b, err := json.Marshal(v)
		if err != nil {
			return TaskDescriptor{}, fmt.Errorf("encode argument %d: %w", i, err)
		}
		d.Positional = append(d.Positional, b)
	}
	for k, v := range kwargs {
		b, err := json.Marshal(v)
		if err != nil {
			return TaskDescriptor{}, fmt.Errorf("encode argument %q: %w", k, err)
		}
		if d.Keyword == nil {
			d.Keyword = make(map[string]json.RawMessage, len(kwargs))
		}
		d.Keyword[k] = b
	}
	return d, nil
}

// 线上格式：{"f":{"f":name,"m":module,"n":[scope...]},"a":[...],"k":{...}}
type wireFunc struct {
	F string   `json:"f"`
	M string   `json:"m"`
	N []string `json:"n"`
}

type wireTask struct {
	F *wireFunc                  `json:"f"`
	A []json.RawMessage          `json:"a"`
	K map[string]json.RawMessage `json:"k"`
}

// Marshal 序列化为 UTF-8 JSON；相同输入得到相同输出（map 键有序）。
func (d TaskDescriptor) Marshal() ([]byte, error) {
	w := wireTask{
		F: &wireFunc{F: d.Func.Name, M: d.Func.Module, N: d.Func.Scope},
		A: d.Positional,
		K: d.Keyword,
	}
	if w.F.N == nil {
		w.F.N = []string{}
	}
	if w.A == nil {
		w.A = []json.RawMessage{}
	}
	if w.K == nil {
		w.K = map[string]json.RawMessage{}
	}
	return json.Marshal(w)
}

// UnmarshalTask 为 Marshal 的逆操作；任何格式问题均返回 ErrMalformedTask。
// 字段名区分大小写，未知字段视为格式错误。
func UnmarshalTask(b []byte) (TaskDescriptor, error) {
	malformed := func(err error) (TaskDescriptor, error) {
		return TaskDescriptor{}, &TaskError{Kind: ErrMalformedTask, Payload: string(b), Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return malformed(err)
	}
	if dec.More() {
		return malformed(fmt.Errorf("trailing data after task object"))
	}
	top, err := wireObject(raw, "task", "f", "a", "k")
	if err != nil {
		return malformed(err)
	}
	var w wireTask
	switch {
	case top["f"] == nil:
		return malformed(fmt.Errorf(`missing "f"`))
	case top["a"] == nil:
		return malformed(fmt.Errorf(`missing "a"`))
	case top["k"] == nil:
		return malformed(fmt.Errorf(`missing "k"`))
	}
	fn, err := wireObject(top["f"], `"f"`, "f", "m", "n")
	if err != nil {
		return malformed(err)
	}
	w.F = &wireFunc{}
	for key, dst := range map[string]any{"f": &w.F.F, "m": &w.F.M, "n": &w.F.N} {
		if v, ok := fn[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return malformed(fmt.Errorf(`decode "f.%s": %w`, key, err))
			}
		}
	}
	if err := json.Unmarshal(top["a"], &w.A); err != nil {
		return malformed(fmt.Errorf(`decode "a": %w`, err))
	}
	if err := json.Unmarshal(top["k"], &w.K); err != nil {
		return malformed(fmt.Errorf(`decode "k": %w`, err))
	}
	switch {
	case w.A == nil:
		return malformed(fmt.Errorf(`missing "a"`))
	case w.K == nil:
		return malformed(fmt.Errorf(`missing "k"`))
	case w.F.F == "" || w.F.M == "":
		return malformed(fmt.Errorf("incomplete function reference"))
	}
	d := TaskDescriptor{Func: FuncID{Module: w.F.M, Name: w.F.F}}
	if len(w.F.N) > 0 {
		d.Func.Scope = w.F.N
	}
	if len(w.A) > 0 {
		d.Positional = w.A
	}
	if len(w.K) > 0 {
		d.Keyword = w.K
	}
	return d, nil
}

// wireObject 将 raw 解码为 JSON 对象并校验键名严格属于 keys（区分大小写），重复键报错。
func wireObject(raw json.RawMessage, what string, keys ...string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("%s: expected object", what)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		if !slices.Contains(keys, key) {
			return nil, fmt.Errorf("%s: unknown field %q", what, key)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", what, key)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Task 是已解析、可执行的任务：描述 + 本进程内的函数实现。
type Task struct {
	TaskDescriptor
	fn Func
}

// Run 执行底层函数本体（不会重新发布）。
func (t *Task) Run(ctx context.Context) (any, error) { return t.fn(ctx, t.Args) }

// String 形如 module.Scope.Name(*[1,"a"], **{"k":true})，用于日志。
func (t *Task) String() string { return t.TaskDescriptor.String() }

func (d TaskDescriptor) String() string {
	a := d.Positional
	if a == nil {
		a = []json.RawMessage{}
	}
	k := d.Keyword
	if k == nil {
		k = map[string]json.RawMessage{}
	}
	ab, _ := json.Marshal(a)
	kb, _ := json.Marshal(k)
	return fmt.Sprintf("%s(*%s, **%s)", d.Func, ab, kb)
}
