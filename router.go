package redo

import (
	"strconv"
	"sync"
)

// Router 按 1..N 循环分配发布 lane。游标属于队列实例，不同队列互不影响。
// 只做均匀轮询，不感知 lane 积压或 Worker 存活。
type Router struct {
	lanes int

	mu   sync.Mutex
	last int // 0 表示尚未分配
}

func NewRouter(lanes int) *Router {
	if lanes < 1 {
		lanes = 1
	}
	return &Router{lanes: lanes}
}

// Lanes 返回 lane 总数。
func (r *Router) Lanes() int { return r.lanes }

// Next 返回下一次发布的 lane；并发调用时每轮 1..N 各分配一次。
func (r *Router) Next() int {
	if r.lanes == 1 {
		return 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = r.last%r.lanes + 1
	return r.last
}

// Channel 返回 lane 对应的频道名 "<name>:<lane>"。
func Channel(name string, lane int) string { return name + ":" + strconv.Itoa(lane) }
