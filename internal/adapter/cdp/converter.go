package cdp

import (
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/tidwall/gjson"

	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

// FromRequestWillBeSent 将请求事件转换为中立记录
//
// 携带 redirectResponse 时先产生一条重定向记录；存在 postData 时追加一条载荷记录。
func FromRequestWillBeSent(ev *network.RequestWillBeSentReply) []traffic.Record {
	var out []traffic.Record
	if ev.RedirectResponse != nil {
		rd := traffic.NewRecord(traffic.KindRedirect)
		rd.ID = string(ev.RequestID)
		rd.URL = ev.RedirectResponse.URL
		rd.Headers = ToHeader(ev.RedirectResponse.Headers)
		if rd.Headers.Get("location") != "" {
			out = append(out, rd)
		}
	}

	req := traffic.NewRecord(traffic.KindRequest)
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.Headers = ToHeader(ev.Request.Headers)
	out = append(out, req)

	if ev.Request.PostData != nil && *ev.Request.PostData != "" {
		pd := traffic.NewRecord(traffic.KindPayload)
		pd.ID = string(ev.RequestID)
		pd.URL = ev.Request.URL
		pd.Body = []byte(*ev.Request.PostData)
		pd.Source = model.SourcePostData
		out = append(out, pd)
	}
	return out
}

// FromResponseReceived 将响应事件转换为中立记录，响应体需通过 ID 另行获取
func FromResponseReceived(ev *network.ResponseReceivedReply) traffic.Record {
	rec := traffic.NewRecord(traffic.KindResponse)
	rec.ID = string(ev.RequestID)
	rec.URL = ev.Response.URL
	rec.MimeType = ev.Response.MimeType
	rec.Headers = ToHeader(ev.Response.Headers)
	return rec
}

// FromWebSocketFrame 将 WebSocket 帧转换为载荷记录
func FromWebSocketFrame(id network.RequestID, frame network.WebSocketFrame) (traffic.Record, bool) {
	if frame.PayloadData == "" {
		return traffic.Record{}, false
	}
	rec := traffic.NewRecord(traffic.KindPayload)
	rec.ID = string(id)
	rec.Body = []byte(frame.PayloadData)
	rec.Source = model.SourceWebSocket
	return rec, true
}

// FromConsoleAPICalled 将控制台输出中的字符串参数拼接为载荷记录
func FromConsoleAPICalled(ev *runtime.ConsoleAPICalledReply) (traffic.Record, bool) {
	var text []byte
	for _, arg := range ev.Args {
		v := gjson.ParseBytes(arg.Value)
		if v.Type != gjson.String {
			continue
		}
		if len(text) > 0 {
			text = append(text, ' ')
		}
		text = append(text, v.Str...)
	}
	if len(text) == 0 {
		return traffic.Record{}, false
	}
	rec := traffic.NewRecord(traffic.KindPayload)
	rec.Body = text
	rec.Source = model.SourceConsole
	return rec, true
}

// FromRequestPaused 将响应阶段拦截到的事件转换为代理记录
//
// 响应头中的 Location 产生重定向记录，非空响应体产生 proxy 载荷记录。
func FromRequestPaused(ev *fetch.RequestPausedReply, body []byte) []traffic.Record {
	headers := ToNeutralHeader(ev.ResponseHeaders)
	var out []traffic.Record
	if headers.Get("location") != "" {
		rd := traffic.NewRecord(traffic.KindRedirect)
		rd.ID = string(ev.RequestID)
		rd.URL = ev.Request.URL
		rd.Headers = headers
		rd.Source = model.SourceProxy
		out = append(out, rd)
	}
	if len(body) > 0 {
		pl := traffic.NewRecord(traffic.KindPayload)
		pl.ID = string(ev.RequestID)
		pl.URL = ev.Request.URL
		pl.MimeType = headers.Get("content-type")
		pl.Headers = headers
		pl.Body = body
		pl.Source = model.SourceProxy
		out = append(out, pl)
	}
	return out
}

// ToHeader 将 CDP 的 JSON 头部对象转换为中立 Header
func ToHeader(raw network.Headers) traffic.Header {
	h := make(traffic.Header)
	if len(raw) == 0 {
		return h
	}
	gjson.ParseBytes(raw).ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
	return h
}

// ToNeutralHeader 将 Fetch 域的头部条目转换为中立 Header
func ToNeutralHeader(entries []fetch.HeaderEntry) traffic.Header {
	h := make(traffic.Header, len(entries))
	for _, e := range entries {
		h.Set(e.Name, e.Value)
	}
	return h
}
