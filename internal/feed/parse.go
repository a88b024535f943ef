package feed

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"

	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

// ParseLine 解析一行捕获日志，支持 Chrome 性能日志和代理记录两种格式
//
// 无法解析的行返回 nil。
func ParseLine(line []byte) []traffic.Record {
	if !gjson.ValidBytes(line) {
		return nil
	}
	root := gjson.ParseBytes(line)

	// Selenium 性能日志: {"level":..,"message":"{\"message\":{\"method\":..}}"}
	if m := root.Get("message"); m.Type == gjson.String {
		if !gjson.Valid(m.Str) {
			return nil
		}
		root = gjson.Parse(m.Str)
	}
	if inner := root.Get("message"); inner.IsObject() {
		root = inner
	}

	if method := root.Get("method"); method.Exists() {
		return parseDevtools(method.String(), root.Get("params"))
	}
	if kind := root.Get("kind"); kind.Exists() {
		return parseProxy(kind.String(), root)
	}
	return nil
}

func parseDevtools(method string, params gjson.Result) []traffic.Record {
	var out []traffic.Record
	switch method {
	case "Network.requestWillBeSent":
		id := params.Get("requestId").String()
		if rr := params.Get("redirectResponse"); rr.IsObject() {
			rec := traffic.NewRecord(traffic.KindRedirect)
			rec.ID = id
			rec.URL = rr.Get("url").String()
			setHeaders(rec.Headers, rr.Get("headers"))
			out = append(out, rec)
		}
		req := traffic.NewRecord(traffic.KindRequest)
		req.ID = id
		req.URL = params.Get("request.url").String()
		req.Method = params.Get("request.method").String()
		setHeaders(req.Headers, params.Get("request.headers"))
		out = append(out, req)
		if pd := params.Get("request.postData"); pd.Exists() && pd.String() != "" {
			p := traffic.NewRecord(traffic.KindPayload)
			p.ID = id
			p.URL = req.URL
			p.Source = model.SourcePostData
			p.Body = []byte(pd.String())
			out = append(out, p)
		}
	case "Network.responseReceived":
		rec := traffic.NewRecord(traffic.KindResponse)
		rec.ID = params.Get("requestId").String()
		rec.URL = params.Get("response.url").String()
		rec.MimeType = params.Get("response.mimeType").String()
		setHeaders(rec.Headers, params.Get("response.headers"))
		if b := params.Get("body"); b.Exists() {
			rec.Body = []byte(b.String())
		}
		out = append(out, rec)
	case "Network.webSocketFrameReceived", "Network.webSocketFrameSent":
		if data := params.Get("response.payloadData").String(); data != "" {
			rec := traffic.NewRecord(traffic.KindPayload)
			rec.ID = params.Get("requestId").String()
			rec.Source = model.SourceWebSocket
			rec.Body = []byte(data)
			out = append(out, rec)
		}
	case "Runtime.consoleAPICalled":
		var parts []string
		params.Get("args").ForEach(func(_, arg gjson.Result) bool {
			if v := arg.Get("value"); v.Type == gjson.String {
				parts = append(parts, v.Str)
			}
			return true
		})
		if len(parts) > 0 {
			rec := traffic.NewRecord(traffic.KindPayload)
			rec.Source = model.SourceConsole
			rec.Body = []byte(strings.Join(parts, " "))
			out = append(out, rec)
		}
	}
	return out
}

// parseProxy 代理记录: {"kind":..,"url":..,"mime":..,"headers":{..},"body":..,"body_base64":..,"source":..}
//
// kind=flow 表示一次完整的代理往返，展开为请求、重定向和响应体三条记录。
func parseProxy(kind string, root gjson.Result) []traffic.Record {
	body, hasBody := proxyBody(root)
	mimeType := root.Get("mime").String()
	if mimeType == "" {
		mimeType = root.Get("content_type").String()
	}
	base := func(k traffic.Kind) traffic.Record {
		rec := traffic.NewRecord(k)
		rec.ID = root.Get("id").String()
		rec.URL = root.Get("url").String()
		rec.Method = root.Get("method").String()
		rec.MimeType = mimeType
		rec.Source = root.Get("source").String()
		setHeaders(rec.Headers, root.Get("headers"))
		return rec
	}

	switch traffic.Kind(kind) {
	case traffic.KindRequest, traffic.KindRedirect:
		return []traffic.Record{base(traffic.Kind(kind))}
	case traffic.KindResponse, traffic.KindPayload:
		rec := base(traffic.Kind(kind))
		if hasBody {
			rec.Body = body
		}
		return []traffic.Record{rec}
	case "flow":
		req := base(traffic.KindRequest)
		out := []traffic.Record{req}
		if req.Headers.Get("location") != "" {
			out = append(out, base(traffic.KindRedirect))
		}
		if hasBody {
			p := base(traffic.KindPayload)
			if p.Source == "" {
				p.Source = model.SourceProxy
			}
			p.Body = body
			out = append(out, p)
		}
		return out
	}
	return nil
}

func proxyBody(root gjson.Result) ([]byte, bool) {
	if b64 := root.Get("body_base64"); b64.Exists() {
		b, err := base64.StdEncoding.DecodeString(b64.String())
		if err != nil {
			return nil, false
		}
		return b, true
	}
	if b := root.Get("body"); b.Exists() {
		return []byte(b.String()), true
	}
	return nil, false
}

// setHeaders 将 JSON 对象中的头部写入 Header，名称统一小写
func setHeaders(h traffic.Header, obj gjson.Result) {
	if !obj.IsObject() {
		return
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		h.Set(k.String(), v.String())
		return true
	})
}
