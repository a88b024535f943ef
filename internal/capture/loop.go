// Package capture 实现捕获循环：拉取事件、提取清单地址、去重并判定何时停止
package capture

import (
	"context"
	"fmt"
	"time"

	"m3u8capture/internal/logger"
	"m3u8capture/internal/matcher"
	"m3u8capture/internal/normalize"
	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

const (
	DefaultMaxWait      = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Options 单次捕获的参数
type Options struct {
	Session      *Session // 为空时按 SessionID/TargetURL 新建
	SessionID    model.SessionID
	TargetURL    string
	MaxWait      time.Duration
	PollInterval time.Duration
	EarlyStop    bool
	Bodies       normalize.BodyFetcher // 为空时尝试使用 Feed 自身
	Sink         Sink
}

// Config 引擎配置
type Config struct {
	MaxBodyBytes int
	FetchTimeout time.Duration
	Logger       logger.Logger
}

// Engine 捕获循环，无共享可变状态，可同时运行多个会话
type Engine struct {
	cfg     Config
	log     logger.Logger
	now     func() time.Time
	extract func(string) []model.ManifestURL
}

// NewEngine 创建捕获引擎
func NewEngine(cfg Config) *Engine {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{cfg: cfg, log: l, now: time.Now, extract: matcher.Extract}
}

// Run 阻塞运行一次捕获，直到 Found 或 TimedOut
//
// 仅事件源从未可用时返回错误（包装 ErrFeedUnavailable），已拉取成功后事件源中断
// 按超时结束并返回已收集结果；单条记录的问题不会向外传播。
func (e *Engine) Run(ctx context.Context, feed Feed, opts Options) (model.Result, error) {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	s := opts.Session
	if s == nil {
		s = NewSession(opts.SessionID, opts.TargetURL, opts.MaxWait)
	}
	bodies := opts.Bodies
	if bodies == nil {
		bodies, _ = feed.(normalize.BodyFetcher)
	}
	var ready <-chan struct{}
	if n, ok := feed.(Notifier); ok {
		ready = n.Ready()
	}

	log := e.log.With("session", string(s.ID()))
	norm := normalize.New(normalize.Config{
		Bodies:       bodies,
		MaxBodyBytes: e.cfg.MaxBodyBytes,
		FetchTimeout: e.cfg.FetchTimeout,
		Logger:       log,
	})

	start := e.now()
	s.start(start)
	log.Info("开始捕获", "target", s.targetURL, "maxWait", opts.MaxWait, "earlyStop", opts.EarlyStop)

	pulled := false
	for {
		if ctx.Err() != nil {
			log.Info("捕获被取消，返回已收集结果", "found", s.Size())
			return e.finish(ctx, s, model.StateTimedOut, sink, log), nil
		}

		batch, err := feed.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if pulled {
				log.Warn("事件源中断，返回已收集结果", "error", err, "found", s.Size())
				return e.finish(ctx, s, model.StateTimedOut, sink, log), nil
			}
			s.transition(model.StateFailed, e.now())
			log.Err(err, "拉取事件失败，终止会话")
			return s.Result(), fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
		}
		pulled = true

		for i := range batch {
			e.process(ctx, s, norm, batch[i], sink, log)
		}

		elapsed := e.now().Sub(start)
		switch Decide(s.Size(), elapsed, opts.MaxWait, opts.EarlyStop) {
		case Found:
			return e.finish(ctx, s, model.StateFound, sink, log), nil
		case TimedOut:
			return e.finish(ctx, s, model.StateTimedOut, sink, log), nil
		}

		if len(batch) == 0 {
			wait(ctx, ready, min(opts.PollInterval, opts.MaxWait-elapsed))
		}
	}
}

// process 处理单条原始记录，只有首次出现的地址会通知 Sink
func (e *Engine) process(ctx context.Context, s *Session, norm *normalize.Normalizer, rec traffic.Record, sink Sink, log logger.Logger) {
	if !s.markProcessed(rec.Seq) {
		return
	}
	ev, ok := norm.Normalize(ctx, rec)
	if !ok {
		return
	}
	for _, text := range ev.Texts() {
		for _, u := range e.extract(text) {
			d, isNew := s.record(u, ev.Source, ev.Seq, e.now())
			if !isNew {
				continue
			}
			log.Info("发现 m3u8 地址", "url", string(u), "source", ev.Source, "order", d.Order)
			sink.Found(ctx, d)
		}
	}
}

func (e *Engine) finish(ctx context.Context, s *Session, state model.State, sink Sink, log logger.Logger) model.Result {
	s.transition(state, e.now())
	res := s.Result()
	if res.Found() {
		log.Info("捕获结束", "state", res.State, "total", len(res.URLs))
	} else {
		log.Warn("未发现 m3u8 地址", "state", res.State)
	}
	sink.Finished(context.WithoutCancel(ctx), res)
	return res
}

// wait 空批次后的退避等待，受轮询间隔、剩余时间、取消信号和事件源通知约束
func wait(ctx context.Context, ready <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-ready:
	}
}
