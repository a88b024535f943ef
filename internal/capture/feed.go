package capture

import (
	"context"
	"errors"

	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

// ErrFeedUnavailable 无法访问事件源，会话以失败结束
var ErrFeedUnavailable = errors.New("capture feed unavailable")

// Feed 拉取式原始事件源，每次只返回上次拉取之后的新记录
//
// 没有新记录时返回空批次和 nil；返回错误表示事件源不可达。
type Feed interface {
	Pull(ctx context.Context) ([]traffic.Record, error)
}

// Notifier 事件源可选实现，有新记录时发出信号以提前结束等待
type Notifier interface {
	Ready() <-chan struct{}
}

// Sink 接收实时发现与最终结果
type Sink interface {
	Found(ctx context.Context, d model.Discovery)
	Finished(ctx context.Context, r model.Result)
}

type nopSink struct{}

func (nopSink) Found(context.Context, model.Discovery) {}
func (nopSink) Finished(context.Context, model.Result) {}
