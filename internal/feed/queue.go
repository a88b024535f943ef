// Package feed 提供捕获循环使用的原始事件源
package feed

import (
	"context"
	"sync"

	"m3u8capture/pkg/traffic"
)

// Queue 内存事件队列，可由多个生产者并发写入，由单个捕获循环拉取
type Queue struct {
	mu      sync.Mutex
	items   []traffic.Record
	nextSeq uint64
	err     error
	ready   chan struct{}
}

// NewQueue 创建空队列
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push 追加记录；Seq 为 0 时分配新的递增序号，非 0 时保留原序号（重复投递会被会话去重）
func (q *Queue) Push(recs ...traffic.Record) {
	if len(recs) == 0 {
		return
	}
	q.mu.Lock()
	for _, r := range recs {
		if r.Seq == 0 {
			q.nextSeq++
			r.Seq = q.nextSeq
		} else if r.Seq > q.nextSeq {
			q.nextSeq = r.Seq
		}
		q.items = append(q.items, r)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Fail 标记事件源不可达，剩余记录被取走后 Pull 返回该错误
func (q *Queue) Fail(err error) {
	if err == nil {
		return
	}
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pull 取走自上次拉取以来的全部记录
func (q *Queue) Pull(ctx context.Context) ([]traffic.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.err
	}
	batch := q.items
	q.items = nil
	return batch, nil
}

// Ready 有新记录时收到信号
func (q *Queue) Ready() <-chan struct{} { return q.ready }
