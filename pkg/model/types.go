package model

import "time"

type SessionID string

// ManifestURL 已校验的 .m3u8 清单地址，按字符串精确比较
type ManifestURL string

// State 捕获会话状态
type State string

const (
	StateIdle     State = "idle"
	StateWatching State = "watching"
	StateFound    State = "found"
	StateTimedOut State = "timed_out"
	StateFailed   State = "failed"
)

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateFound || s == StateTimedOut || s == StateFailed
}

// EventKind 归一化事件类型
type EventKind string

const (
	EventRequestSent      EventKind = "request_sent"
	EventResponseReceived EventKind = "response_received"
	EventRedirectHeader   EventKind = "redirect_header"
	EventProxiedPayload   EventKind = "proxied_payload"
)

// 来源标签
const (
	SourceRequest   = "request"
	SourceResponse  = "response"
	SourceRedirect  = "redirect"
	SourceProxy     = "proxy"
	SourceWebSocket = "websocket"
	SourceConsole   = "console"
	SourcePostData  = "post_data"
)

// CaptureEvent 归一化后的捕获事件
//
// 根据 Kind 使用不同字段：
//   - RequestSent: URL
//   - ResponseReceived: URL, MimeType, Body（可为空，表示无响应体）
//   - RedirectHeader: URL（Location 头的值）
//   - ProxiedPayload: Text
type CaptureEvent struct {
	Seq      uint64
	Kind     EventKind
	Source   string
	URL      string
	MimeType string
	Body     string
	Text     string
}

// Texts 返回需要进行匹配的非空文本
func (e CaptureEvent) Texts() []string {
	var out []string
	switch e.Kind {
	case EventRequestSent, EventRedirectHeader:
		if e.URL != "" {
			out = append(out, e.URL)
		}
	case EventResponseReceived:
		if e.URL != "" {
			out = append(out, e.URL)
		}
		if e.Body != "" {
			out = append(out, e.Body)
		}
	case EventProxiedPayload:
		if e.Text != "" {
			out = append(out, e.Text)
		}
	}
	return out
}

// Discovery 一次新发现的清单地址
type Discovery struct {
	URL     ManifestURL `json:"url"`
	Source  string      `json:"source"`
	Seq     uint64      `json:"seq"`
	Order   int         `json:"order"`
	FoundAt time.Time   `json:"foundAt"`
}

// Result 捕获会话的最终结果
type Result struct {
	SessionID   SessionID     `json:"sessionID"`
	TargetURL   string        `json:"targetURL"`
	State       State         `json:"state"`
	URLs        []ManifestURL `json:"urls"`
	Discoveries []Discovery   `json:"discoveries"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// Found 是否发现了至少一个清单地址
func (r Result) Found() bool { return len(r.URLs) > 0 }

// SessionInfo 活动会话摘要
type SessionInfo struct {
	ID        SessionID `json:"id"`
	TargetURL string    `json:"targetURL"`
	State     State     `json:"state"`
	Found     int       `json:"found"`
	StartedAt time.Time `json:"startedAt"`
	Deadline  time.Time `json:"deadline"`
}

// CaptureSummary 历史捕获记录
type CaptureSummary struct {
	ID         SessionID     `json:"id"`
	TargetURL  string        `json:"targetURL"`
	State      State         `json:"state"`
	URLs       []ManifestURL `json:"urls"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}
