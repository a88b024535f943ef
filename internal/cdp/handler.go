package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"

	cdpadapter "m3u8capture/internal/adapter/cdp"
	"m3u8capture/pkg/traffic"
)

// stream CDP 事件流的通用形态
type stream[T any] interface {
	Recv() (T, error)
	Close() error
}

// start 在独立 goroutine 中持续接收事件并交给 handle 处理
func start[T any](f *Feed, name string, s stream[T], handle func(T)) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		consume(f, name, s, handle)
	}()
}

func consume[T any](f *Feed, name string, s stream[T], handle func(T)) {
	defer s.Close()
	f.log.Debug("开始消费事件流", "stream", name)
	for {
		ev, err := s.Recv()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.log.Err(err, "事件流中断", "stream", name)
			f.queue.Fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		handle(ev)
	}
}

func (f *Feed) onRequest(ev *network.RequestWillBeSentReply) {
	f.queue.Push(cdpadapter.FromRequestWillBeSent(ev)...)
}

// pendingResponses 已收到响应头、响应体尚未加载完成的记录
//
// 各事件流由不同 goroutine 消费，loadingFinished 可能先于 responseReceived 被处理。
type pendingResponses struct {
	mu       sync.Mutex
	items    map[network.RequestID]traffic.Record
	finished map[network.RequestID]struct{}
}

// put 暂存响应；对应请求已加载完成时直接返回记录
func (p *pendingResponses) put(id network.RequestID, rec traffic.Record) (traffic.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.finished[id]; ok {
		delete(p.finished, id)
		return rec, true
	}
	if p.items == nil {
		p.items = make(map[network.RequestID]traffic.Record)
	}
	p.items[id] = rec
	return traffic.Record{}, false
}

// finish 取出已加载完成的响应；响应尚未到达时记下完成状态
func (p *pendingResponses) finish(id network.RequestID) (traffic.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.items[id]; ok {
		delete(p.items, id)
		return rec, true
	}
	if p.finished == nil {
		p.finished = make(map[network.RequestID]struct{})
	}
	p.finished[id] = struct{}{}
	return traffic.Record{}, false
}

func (p *pendingResponses) drop(id network.RequestID) (traffic.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.items[id]
	delete(p.items, id)
	delete(p.finished, id)
	return rec, ok
}

// onResponse 暂存响应，等 loadingFinished 后响应体才可读取
func (f *Feed) onResponse(ev *network.ResponseReceivedReply) {
	if rec, ok := f.pending.put(ev.RequestID, cdpadapter.FromResponseReceived(ev)); ok {
		f.queue.Push(rec)
	}
}

func (f *Feed) onLoadingFinished(ev *network.LoadingFinishedReply) {
	if rec, ok := f.pending.finish(ev.RequestID); ok {
		f.queue.Push(rec)
	}
}

func (f *Feed) onLoadingFailed(ev *network.LoadingFailedReply) {
	if rec, ok := f.pending.drop(ev.RequestID); ok {
		f.log.Debug("响应加载失败，丢弃", "url", rec.URL, "error", ev.ErrorText)
	}
}

func (f *Feed) onFrame(ev *network.WebSocketFrameReceivedReply) {
	if rec, ok := cdpadapter.FromWebSocketFrame(ev.RequestID, ev.Response); ok {
		f.queue.Push(rec)
	}
}

func (f *Feed) onConsole(ev *runtime.ConsoleAPICalledReply) {
	if rec, ok := cdpadapter.FromConsoleAPICalled(ev); ok {
		f.queue.Push(rec)
	}
}

// onPaused 读取被拦截响应的响应体后立即放行，读取失败不影响放行
func (f *Feed) onPaused(ev *fetch.RequestPausedReply) {
	go f.handlePaused(ev)
}

func (f *Feed) handlePaused(ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(f.ctx, f.opts.InterceptTimeout)
	defer cancel()

	var body []byte
	if !isRedirect(ev) {
		reply, err := f.client.Fetch.GetResponseBody(ctx, fetch.NewGetResponseBodyArgs(ev.RequestID))
		if err != nil {
			f.log.Debug("读取拦截响应体失败", "url", ev.Request.URL, "error", err)
		} else if b, err := decodeBody(reply.Body, reply.Base64Encoded); err == nil {
			body = b
		}
	}
	f.queue.Push(cdpadapter.FromRequestPaused(ev, body)...)

	if err := f.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID}); err != nil {
		f.log.Warn("放行拦截响应失败", "url", ev.Request.URL, "error", err)
	}
}

func isRedirect(ev *fetch.RequestPausedReply) bool {
	if ev.ResponseStatusCode == nil {
		return false
	}
	code := *ev.ResponseStatusCode
	return code >= 300 && code < 400
}
