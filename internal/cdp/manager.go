// Package cdp 通过 Chrome DevTools 协议驱动浏览器页面并把网络活动作为捕获事件源
package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"m3u8capture/internal/capture"
	"m3u8capture/internal/feed"
	"m3u8capture/internal/logger"
	"m3u8capture/pkg/traffic"
)

// Options 浏览器连接参数
type Options struct {
	DevToolsURL      string
	HookScript       bool          // 是否注入媒体钩子脚本
	Kick             bool          // 导航后尝试触发播放并扫描 DOM
	Intercept        bool          // 是否在响应阶段拦截并读取全部响应体
	NavigateTimeout  time.Duration
	InterceptTimeout time.Duration
	Logger           logger.Logger
}

// Feed 实时 CDP 事件源，实现 capture.Feed、capture.Notifier 与 normalize.BodyFetcher
type Feed struct {
	opts   Options
	log    logger.Logger
	dt     *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	queue  *feed.Queue
	wg     sync.WaitGroup

	pending pendingResponses

	closeOnce sync.Once
	closeErr  error
}

// Open 创建新的页面目标并订阅网络、控制台事件
//
// 无法连接 DevTools 端点时返回包装 capture.ErrFeedUnavailable 的错误。
func Open(ctx context.Context, opts Options) (*Feed, error) {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 30 * time.Second
	}
	if opts.InterceptTimeout <= 0 {
		opts.InterceptTimeout = 3 * time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}

	f := &Feed{
		opts:  opts,
		log:   l.With("devtools", opts.DevToolsURL),
		dt:    devtool.New(opts.DevToolsURL),
		queue: feed.NewQueue(),
	}

	target, err := f.dt.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create target: %w", capture.ErrFeedUnavailable, err)
	}
	f.target = target

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		_ = f.closeTarget()
		return nil, fmt.Errorf("%w: dial %s: %w", capture.ErrFeedUnavailable, target.WebSocketDebuggerURL, err)
	}
	f.conn = conn
	f.client = cdp.NewClient(conn)
	f.ctx, f.cancel = context.WithCancel(context.Background())

	if err := f.enable(ctx); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", capture.ErrFeedUnavailable, err)
	}
	f.log.Info("已附加浏览器目标", "target", target.ID)
	return f, nil
}

// enable 启用所需的协议域并启动事件流消费
func (f *Feed) enable(ctx context.Context) error {
	if err := f.client.Network.Enable(ctx, network.NewEnableArgs()); err != nil {
		return fmt.Errorf("enable network: %w", err)
	}
	if err := f.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("enable page: %w", err)
	}
	if err := f.client.Runtime.Enable(ctx); err != nil {
		return fmt.Errorf("enable runtime: %w", err)
	}
	if f.opts.HookScript {
		if _, err := f.client.Page.AddScriptToEvaluateOnNewDocument(ctx, page.NewAddScriptToEvaluateOnNewDocumentArgs(HookScript)); err != nil {
			return fmt.Errorf("install hook script: %w", err)
		}
	}

	reqs, err := f.client.Network.RequestWillBeSent(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe requestWillBeSent: %w", err)
	}
	resps, err := f.client.Network.ResponseReceived(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe responseReceived: %w", err)
	}
	finished, err := f.client.Network.LoadingFinished(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe loadingFinished: %w", err)
	}
	failed, err := f.client.Network.LoadingFailed(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe loadingFailed: %w", err)
	}
	frames, err := f.client.Network.WebSocketFrameReceived(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe webSocketFrameReceived: %w", err)
	}
	console, err := f.client.Runtime.ConsoleAPICalled(f.ctx)
	if err != nil {
		return fmt.Errorf("subscribe consoleAPICalled: %w", err)
	}

	start[*network.RequestWillBeSentReply](f, "requestWillBeSent", reqs, f.onRequest)
	start[*network.ResponseReceivedReply](f, "responseReceived", resps, f.onResponse)
	start[*network.LoadingFinishedReply](f, "loadingFinished", finished, f.onLoadingFinished)
	start[*network.LoadingFailedReply](f, "loadingFailed", failed, f.onLoadingFailed)
	start[*network.WebSocketFrameReceivedReply](f, "webSocketFrameReceived", frames, f.onFrame)
	start[*runtime.ConsoleAPICalledReply](f, "consoleAPICalled", console, f.onConsole)

	if f.opts.Intercept {
		p := "*"
		err := f.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: []fetch.RequestPattern{
			{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
		}})
		if err != nil {
			return fmt.Errorf("enable fetch: %w", err)
		}
		paused, err := f.client.Fetch.RequestPaused(f.ctx)
		if err != nil {
			return fmt.Errorf("subscribe requestPaused: %w", err)
		}
		start[*fetch.RequestPausedReply](f, "requestPaused", paused, f.onPaused)
	}
	return nil
}

// Navigate 打开目标页面，导航完成后按需执行播放触发脚本
func (f *Feed) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, f.opts.NavigateTimeout)
	defer cancel()

	loaded, err := f.client.Page.DOMContentEventFired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe domContentEventFired: %w", err)
	}
	defer loaded.Close()

	reply, err := f.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	f.log.Info("页面导航已发出", "url", url)

	if !f.opts.Kick {
		return nil
	}
	if _, err := loaded.Recv(); err != nil {
		f.log.Warn("等待页面加载失败，跳过播放触发", "url", url, "error", err)
		return nil
	}
	if _, err := f.client.Runtime.Evaluate(ctx, runtime.NewEvaluateArgs(KickScript)); err != nil {
		f.log.Warn("执行播放触发脚本失败", "url", url, "error", err)
	}
	return nil
}

// Pull 取走自上次拉取以来的记录
func (f *Feed) Pull(ctx context.Context) ([]traffic.Record, error) {
	return f.queue.Pull(ctx)
}

// Ready 有新记录或事件流中断时收到信号
func (f *Feed) Ready() <-chan struct{} {
	return f.queue.Ready()
}

// FetchBody 通过 Network.getResponseBody 获取响应体
func (f *Feed) FetchBody(ctx context.Context, id string) ([]byte, error) {
	reply, err := f.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(network.RequestID(id)))
	if err != nil {
		return nil, err
	}
	return decodeBody(reply.Body, reply.Base64Encoded)
}

// Close 停止事件消费并关闭目标与连接，可重复调用
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		var errs []error
		if f.conn != nil {
			errs = append(errs, f.conn.Close())
		}
		f.wg.Wait()
		errs = append(errs, f.closeTarget())
		f.closeErr = errors.Join(errs...)
		f.log.Info("已关闭浏览器目标")
	})
	return f.closeErr
}

func (f *Feed) closeTarget() error {
	if f.target == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return f.dt.Close(ctx, f.target)
}

func decodeBody(body string, b64 bool) ([]byte, error) {
	if !b64 {
		return []byte(body), nil
	}
	return base64.StdEncoding.DecodeString(body)
}
