package redo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunctions_RegisterResolve(t *testing.T) {
	f := NewFunctions()
	id := MustParseFuncID("app/jobs.Ping")
	require.NoError(t, f.Register(id, func(ctx context.Context, a Args) (any, error) { return "pong", nil }))

	fn, err := f.Resolve(id)
	require.NoError(t, err)
	res, err := fn(context.Background(), Args{})
	require.NoError(t, err)
	assert.Equal(t, "pong", res)

	err = f.Register(id, func(ctx context.Context, a Args) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrDuplicateFunction)

	assert.Error(t, f.Register(MustParseFuncID("app/jobs.Nil"), nil))
	assert.ErrorIs(t, f.Register(FuncID{Module: "app"}, func(context.Context, Args) (any, error) { return nil, nil }), ErrInvalidFuncID)
	assert.Equal(t, []string{"app/jobs.Ping"}, f.Names())
}

func TestFunctions_Unresolvable(t *testing.T) {
	f := NewFunctions()
	_, err := f.Resolve(MustParseFuncID("app/jobs.Gone"))
	assert.ErrorIs(t, err, ErrUnresolvableFunction)
	assert.Contains(t, err.Error(), "app/jobs.Gone")
}

func TestFunctions_UnwrapsDeferred(t *testing.T) {
	r, funcs := newMemoryRegistry(t, map[string]int{"default": 1})
	lane, err := r.GetInstance("default", 1)
	require.NoError(t, err)
	c, err := lane.Consume(context.Background())
	require.NoError(t, err)
	defer c.Close(context.Background())

	calls := 0
	d, err := Define("default").On(r).Bind("app/jobs.Count", func(ctx context.Context, a Args) (any, error) {
		calls++
		return calls, nil
	})
	require.NoError(t, err)

	fn, err := funcs.Resolve(d.ID())
	require.NoError(t, err)
	res, err := fn(context.Background(), Args{})
	require.NoError(t, err)
	assert.Equal(t, 1, res)
	assert.Equal(t, 1, calls)

	// 解析结果执行的是函数体，不会再次发布
	payload, ok, err := c.sub.Receive(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "unexpected publish: %s", payload)
}

// 点分形式相同但 (模块, 作用域, 函数名) 不同的标识互不解析。
func TestFunctions_KeysOnStructuredID(t *testing.T) {
	f := NewFunctions()
	scoped := FuncID{Module: "app/jobs", Scope: []string{"Mailer"}, Name: "Send"}
	require.NoError(t, f.Register(scoped, func(ctx context.Context, a Args) (any, error) { return "scoped", nil }))

	flat := FuncID{Module: "app/jobs.Mailer", Name: "Send"}
	require.Equal(t, scoped.String(), flat.String())
	_, err := f.Resolve(flat)
	assert.ErrorIs(t, err, ErrUnresolvableFunction)

	require.NoError(t, f.Register(flat, func(ctx context.Context, a Args) (any, error) { return "flat", nil }))
	for id, want := range map[*FuncID]string{&scoped: "scoped", &flat: "flat"} {
		fn, err := f.Resolve(*id)
		require.NoError(t, err)
		res, err := fn(context.Background(), Args{})
		require.NoError(t, err)
		assert.Equal(t, want, res)
	}
}
