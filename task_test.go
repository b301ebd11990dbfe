package redo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuncID(t *testing.T) {
	t.Run("module and name", func(t *testing.T) {
		id, err := ParseFuncID("github.com/acme/mail.Send")
		require.NoError(t, err)
		assert.Equal(t, FuncID{Module: "github.com/acme/mail", Name: "Send"}, id)
		assert.Equal(t, "github.com/acme/mail.Send", id.String())
	})

	t.Run("scoped", func(t *testing.T) {
		id, err := ParseFuncID("github.com/acme/mail.(*Sender).Send")
		require.NoError(t, err)
		assert.Equal(t, FuncID{Module: "github.com/acme/mail", Scope: []string{"Sender"}, Name: "Send"}, id)
		assert.Equal(t, "github.com/acme/mail.Sender.Send", id.String())
	})

	t.Run("no path", func(t *testing.T) {
		id, err := ParseFuncID("mail.Outbox.Flush")
		require.NoError(t, err)
		assert.Equal(t, "mail", id.Module)
		assert.Equal(t, []string{"Outbox"}, id.Scope)
		assert.Equal(t, "Flush", id.Name)
	})

	for _, bad := range []string{"", "Send", "github.com/acme/mail", "mail..Send", "mail.Send."} {
		_, err := ParseFuncID(bad)
		assert.ErrorIs(t, err, ErrInvalidFuncID, bad)
	}
}

func TestTaskDescriptor_RoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		id     FuncID
		args   []any
		kwargs map[string]any
	}{
		{name: "no arguments", id: MustParseFuncID("app/jobs.Ping")},
		{name: "positional", id: MustParseFuncID("app/jobs.Add"), args: []any{1, 2.5, "x", true, nil}},
		{name: "keyword", id: MustParseFuncID("app/jobs.Mailer.Send"), kwargs: map[string]any{"to": "a@b.c", "cc": []string{"d"}}},
		{name: "nested", id: MustParseFuncID("app/jobs.A.B.C"), args: []any{map[string]any{"k": []any{1, "<&>"}}}, kwargs: map[string]any{"n": 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewTaskDescriptor(tc.id, tc.args, tc.kwargs)
			require.NoError(t, err)
			b, err := d.Marshal()
			require.NoError(t, err)
			got, err := UnmarshalTask(b)
			require.NoError(t, err)
			assert.Equal(t, d, got)
		})
	}
}

func TestTaskDescriptor_Marshal(t *testing.T) {
	d, err := NewTaskDescriptor(MustParseFuncID("app/jobs.Mailer.Send"), []any{1, "x"}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)

	b1, err := d.Marshal()
	require.NoError(t, err)
	b2, err := d.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.JSONEq(t, `{"f":{"f":"Send","m":"app/jobs","n":["Mailer"]},"a":[1,"x"],"k":{"a":1,"b":2}}`, string(b1))

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b1, &top))
	assert.Len(t, top, 3)

	empty, err := NewTaskDescriptor(MustParseFuncID("app/jobs.Ping"), nil, nil)
	require.NoError(t, err)
	b, err := empty.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"f":{"f":"Ping","m":"app/jobs","n":[]},"a":[],"k":{}}`, string(b))
}

func TestNewTaskDescriptor_Errors(t *testing.T) {
	_, err := NewTaskDescriptor(FuncID{Name: "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidFuncID)

	_, err = NewTaskDescriptor(MustParseFuncID("app/jobs.Ping"), []any{make(chan int)}, nil)
	assert.Error(t, err)
}

func TestUnmarshalTask_Malformed(t *testing.T) {
	for _, payload := range []string{
		`{not json`,
		``,
		`[]`,
		`{"a":[],"k":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"k":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"a":[]}`,
		`{"f":{"f":"","m":"app","n":[]},"a":[],"k":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"a":[],"k":{},"v":1}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"a":[],"k":{}} {}`,
		`{"F":{"F":"Ping","M":"app/jobs","N":[]},"A":[],"K":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"F":{"f":"Pong","m":"app","n":[]},"a":[],"k":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"f":{"f":"Pong","m":"app","n":[]},"a":[],"k":{}}`,
		`{"f":{"f":"Ping","M":"app","n":[]},"a":[],"k":{}}`,
		`{"f":null,"a":[],"k":{}}`,
		`{"f":{"f":"Ping","m":"app","n":[]},"a":null,"k":{}}`,
		`null`,
	} {
		_, err := UnmarshalTask([]byte(payload))
		require.Error(t, err, payload)
		assert.ErrorIs(t, err, ErrMalformedTask, payload)
		var te *TaskError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, payload, te.Payload)
	}
}

func TestArgs(t *testing.T) {
	d, err := NewTaskDescriptor(MustParseFuncID("app/jobs.Add"), []any{2, "x"}, map[string]any{"scale": 10})
	require.NoError(t, err)

	var n int
	require.NoError(t, d.Arg(0, &n))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, d.Len())
	assert.Error(t, d.Arg(2, &n))
	assert.Error(t, d.Arg(1, &n))

	ok, err := d.Kwarg("scale", &n)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, n)

	ok, err = d.Kwarg("missing", &n)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTask_RunAndString(t *testing.T) {
	d, err := NewTaskDescriptor(MustParseFuncID("app/jobs.Add"), []any{2, 3}, map[string]any{"scale": 10})
	require.NoError(t, err)
	task := &Task{TaskDescriptor: d, fn: func(ctx context.Context, a Args) (any, error) {
		var x, y, s int
		_ = a.Arg(0, &x)
		_ = a.Arg(1, &y)
		_, _ = a.Kwarg("scale", &s)
		return (x + y) * s, nil
	}}
	res, err := task.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, res)
	assert.Equal(t, `app/jobs.Add(*[2,3], **{"scale":10})`, task.String())
}
