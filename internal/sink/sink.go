// Package sink 提供捕获结果的输出方式
package sink

import (
	"context"
	"time"

	"m3u8capture/internal/capture"
	"m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

// Log 将发现与结束事件写入日志
type Log struct {
	log logger.Logger
}

// NewLog 创建日志输出
func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.NewNop()
	}
	return &Log{log: l}
}

func (s *Log) Found(_ context.Context, d model.Discovery) {
	s.log.Info("m3u8", "url", string(d.URL), "source", d.Source, "order", d.Order)
}

func (s *Log) Finished(_ context.Context, r model.Result) {
	s.log.Info("capture finished", "state", r.State, "total", len(r.URLs), "elapsed", r.FinishedAt.Sub(r.StartedAt))
}

// EventType 事件类型
type EventType string

const (
	EventFound    EventType = "found"
	EventFinished EventType = "finished"
)

// Event 推送给订阅者的捕获事件
type Event struct {
	Type      EventType        `json:"type"`
	Session   model.SessionID  `json:"session,omitempty"`
	Discovery *model.Discovery `json:"discovery,omitempty"`
	Result    *model.Result    `json:"result,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Chan 将事件写入通道，通道已满时丢弃，不阻塞捕获循环
type Chan struct {
	session model.SessionID
	events  chan Event
	dropped int
}

// NewChan 创建带缓冲的事件通道输出；session 为空时结束事件取结果中的会话 ID
func NewChan(session model.SessionID, buffer int) *Chan {
	if buffer <= 0 {
		buffer = 64
	}
	return &Chan{session: session, events: make(chan Event, buffer)}
}

// Events 订阅事件
func (s *Chan) Events() <-chan Event { return s.events }

// Dropped 因通道已满被丢弃的事件数，仅在捕获结束后读取
func (s *Chan) Dropped() int { return s.dropped }

func (s *Chan) Found(_ context.Context, d model.Discovery) {
	s.send(Event{Type: EventFound, Discovery: &d})
}

// Finished 发送结束事件并关闭通道
func (s *Chan) Finished(_ context.Context, r model.Result) {
	if s.session == "" {
		s.session = r.SessionID
	}
	s.send(Event{Type: EventFinished, Result: &r})
	close(s.events)
}

// send 安全发送事件到通道，自动添加时间戳
func (s *Chan) send(evt Event) {
	evt.Session = s.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case s.events <- evt:
	default:
		s.dropped++
	}
}

// Multi 依次转发给多个输出
type Multi []capture.Sink

func (m Multi) Found(ctx context.Context, d model.Discovery) {
	for _, s := range m {
		if s != nil {
			s.Found(ctx, d)
		}
	}
}

func (m Multi) Finished(ctx context.Context, r model.Result) {
	for _, s := range m {
		if s != nil {
			s.Finished(ctx, r)
		}
	}
}
