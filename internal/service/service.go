// Package service 组装事件源、捕获引擎与结果输出，对外提供捕获服务
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"m3u8capture/internal/capture"
	"m3u8capture/internal/cdp"
	"m3u8capture/internal/config"
	"m3u8capture/internal/feed"
	"m3u8capture/internal/logger"
	"m3u8capture/internal/report"
	"m3u8capture/internal/session"
	"m3u8capture/internal/sink"
	"m3u8capture/internal/storage"
	"m3u8capture/pkg/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidTarget   = errors.New("invalid target url")
	ErrHistoryDisabled = errors.New("capture history is disabled")
)

// LiveFeed 可导航的实时事件源
type LiveFeed interface {
	capture.Feed
	Navigate(ctx context.Context, url string) error
	Close() error
}

// FeedOpener 为每次捕获打开新的实时事件源
type FeedOpener func(ctx context.Context) (LiveFeed, error)

// CaptureRequest 实时捕获参数，MaxWait 为 0 时使用配置值
type CaptureRequest struct {
	TargetURL string
	MaxWait   time.Duration
	EarlyStop bool
	Sinks     []capture.Sink
}

// ReplayRequest 回放参数
type ReplayRequest struct {
	MaxWait   time.Duration
	EarlyStop bool
	Sinks     []capture.Sink
}

// Options 服务依赖
type Options struct {
	Config   *config.Config
	Logger   logger.Logger
	Store    *storage.Store // 为空时不记录历史
	OpenFeed FeedOpener     // 为空时连接配置中的 DevTools 端点
}

// Service 捕获服务
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	engine   *capture.Engine
	sessions *session.Manager
	store    *storage.Store
	openFeed FeedOpener
}

// New 创建捕获服务
func New(opts Options) *Service {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		log:      l,
		sessions: session.NewManager(l),
		store:    opts.Store,
		openFeed: opts.OpenFeed,
		engine: capture.NewEngine(capture.Config{
			MaxBodyBytes: cfg.Capture.MaxBodyBytes,
			FetchTimeout: cfg.Capture.FetchTimeout,
			Logger:       l,
		}),
	}
	if s.openFeed == nil {
		s.openFeed = s.openCDP
	}
	return s
}

func (s *Service) openCDP(ctx context.Context) (LiveFeed, error) {
	f, err := cdp.Open(ctx, cdp.Options{
		DevToolsURL:     s.cfg.CDP.DevToolsURL,
		HookScript:      s.cfg.CDP.HookScript,
		Kick:            s.cfg.CDP.Kick,
		Intercept:       s.cfg.CDP.Intercept,
		NavigateTimeout: s.cfg.CDP.NavigateTimeout,
		Logger:          s.log,
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// StartCapture 打开页面并阻塞捕获，直到发现地址（提前结束模式）或超时
func (s *Service) StartCapture(ctx context.Context, req CaptureRequest) (model.Result, error) {
	if err := validateTarget(req.TargetURL); err != nil {
		return model.Result{}, err
	}
	maxWait := s.maxWait(req.MaxWait)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := s.sessions.Create(req.TargetURL, maxWait, cancel)
	defer s.sessions.Delete(sess.ID())
	log := s.log.With("session", string(sess.ID()))

	f, err := s.openFeed(ctx)
	if err != nil {
		if !errors.Is(err, capture.ErrFeedUnavailable) {
			err = fmt.Errorf("%w: %w", capture.ErrFeedUnavailable, err)
		}
		log.Err(err, "打开事件源失败")
		return model.Result{SessionID: sess.ID(), TargetURL: req.TargetURL, State: model.StateFailed}, err
	}
	defer func() {
		cancel()
		if err := f.Close(); err != nil {
			log.Warn("关闭事件源失败", "error", err)
		}
	}()

	go func() {
		if err := f.Navigate(ctx, req.TargetURL); err != nil && ctx.Err() == nil {
			log.Warn("页面导航失败，继续等待已产生的事件", "url", req.TargetURL, "error", err)
		}
	}()

	return s.engine.Run(ctx, f, capture.Options{
		Session:      sess,
		MaxWait:      maxWait,
		PollInterval: s.cfg.Capture.PollInterval,
		EarlyStop:    req.EarlyStop,
		Sink:         s.sinks(sess, req.TargetURL, req.Sinks),
	})
}

// Replay 在录制的 JSON-lines 事件日志上运行捕获
func (s *Service) Replay(ctx context.Context, path string, req ReplayRequest) (model.Result, error) {
	maxWait := s.maxWait(req.MaxWait)

	f, err := feed.OpenLogFile(path, s.log)
	if err != nil {
		return model.Result{}, fmt.Errorf("%w: %w", capture.ErrFeedUnavailable, err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := s.sessions.Create(path, maxWait, cancel)
	defer s.sessions.Delete(sess.ID())

	return s.engine.Run(ctx, f, capture.Options{
		Session:      sess,
		MaxWait:      maxWait,
		PollInterval: s.cfg.Capture.PollInterval,
		EarlyStop:    req.EarlyStop,
		Sink:         s.sinks(sess, path, req.Sinks),
	})
}

// StopCapture 停止进行中的会话，StartCapture 随后返回已收集的结果
func (s *Service) StopCapture(id model.SessionID) error {
	if !s.sessions.Cancel(id) {
		return ErrSessionNotFound
	}
	return nil
}

// Session 查询进行中的会话
func (s *Service) Session(id model.SessionID) (model.SessionInfo, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return model.SessionInfo{}, ErrSessionNotFound
	}
	return sess.Info(), nil
}

// ActiveSessions 列出进行中的会话
func (s *Service) ActiveSessions() []model.SessionInfo {
	return s.sessions.List()
}

// History 最近的捕获记录
func (s *Service) History(ctx context.Context, limit int) ([]model.CaptureSummary, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.History(ctx, limit)
}

// Close 释放存储连接
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) maxWait(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return s.cfg.Capture.MaxWait
}

// sinks 组合日志、结果文件、历史记录与调用方提供的输出
func (s *Service) sinks(sess *capture.Session, target string, extra []capture.Sink) capture.Sink {
	out := sink.Multi{sink.NewLog(s.log.With("session", string(sess.ID())))}
	if s.cfg.Capture.Output != "" || s.cfg.Capture.EventLog != "" {
		out = append(out, report.NewWriter(report.Options{
			Output:   s.cfg.Capture.Output,
			EventLog: s.cfg.Capture.EventLog,
			Sentinel: s.cfg.Capture.Sentinel,
			Logger:   s.log,
		}))
	}
	if s.store != nil {
		out = append(out, s.store.Recorder(sess.ID(), target))
	}
	return append(out, extra...)
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	return nil
}
