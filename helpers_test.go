package redo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newMemoryRegistry 返回基于进程内 broker 的 Registry 及其独立的函数注册表。
func newMemoryRegistry(t *testing.T, queues map[string]int) (*Registry, *Functions) {
	t.Helper()
	cfg := Config{Queues: map[string]QueueConfig{}, Poll: 10 * time.Millisecond}
	for name, threads := range queues {
		cfg.Queues[name] = QueueConfig{Provider: ProviderMemory, Threads: threads}
	}
	funcs := NewFunctions()
	r := NewRegistry(cfg, WithFunctions(funcs), WithLogger(nopLogger{}))
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, funcs
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...interface{}) {}
func (nopLogger) Info(context.Context, string, ...interface{})  {}
func (nopLogger) Error(context.Context, string, ...interface{}) {}

// recordingReporter 收集监听循环的结果。
type recordingReporter struct {
	mu        sync.Mutex
	rejected  []error
	succeeded []any
	failed    []error
	events    chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{events: make(chan struct{}, 100)}
}

func (r *recordingReporter) Rejected(ctx context.Context, lane *Lane, err error) {
	r.mu.Lock()
	r.rejected = append(r.rejected, err)
	r.mu.Unlock()
	r.events <- struct{}{}
}

func (r *recordingReporter) Succeeded(ctx context.Context, lane *Lane, t *Task, result any) {
	r.mu.Lock()
	r.succeeded = append(r.succeeded, result)
	r.mu.Unlock()
	r.events <- struct{}{}
}

func (r *recordingReporter) Failed(ctx context.Context, lane *Lane, t *Task, err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
	r.events <- struct{}{}
}

func (r *recordingReporter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.events:
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for event %d/%d", i+1, n)
		}
	}
}

// nextDelivery 在超时内读取下一项。
func nextDelivery(t *testing.T, c *Consumer) Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	d, err := c.Next(ctx)
	require.NoError(t, err)
	return d
}
