// Package normalize 将不同形态的原始网络记录统一为 CaptureEvent
package normalize

import (
	"context"
	"net/url"
	"strings"
	"time"

	"m3u8capture/internal/logger"
	"m3u8capture/internal/matcher"
	"m3u8capture/pkg/model"
	"m3u8capture/pkg/traffic"
)

const (
	defaultMaxBodyBytes = 4 << 20
	defaultFetchTimeout = 3 * time.Second
)

var bodySuffixes = []string{".json", ".js", ".html", ".txt"}

// BodyFetcher 通过不透明标识获取响应体，失败不影响捕获流程
type BodyFetcher interface {
	FetchBody(ctx context.Context, id string) ([]byte, error)
}

// Config 配置选项
type Config struct {
	Bodies       BodyFetcher
	MaxBodyBytes int
	FetchTimeout time.Duration
	Logger       logger.Logger
}

// Normalizer 事件归一化器
type Normalizer struct {
	bodies       BodyFetcher
	maxBodyBytes int
	fetchTimeout time.Duration
	log          logger.Logger
}

// New 创建事件归一化器
func New(cfg Config) *Normalizer {
	n := &Normalizer{
		bodies:       cfg.Bodies,
		maxBodyBytes: cfg.MaxBodyBytes,
		fetchTimeout: cfg.FetchTimeout,
		log:          cfg.Logger,
	}
	if n.maxBodyBytes <= 0 {
		n.maxBodyBytes = defaultMaxBodyBytes
	}
	if n.fetchTimeout <= 0 {
		n.fetchTimeout = defaultFetchTimeout
	}
	if n.log == nil {
		n.log = logger.NewNop()
	}
	return n
}

// Normalize 将原始记录转换为捕获事件，无法识别或无内容时返回 false
func (n *Normalizer) Normalize(ctx context.Context, rec traffic.Record) (model.CaptureEvent, bool) {
	switch rec.Kind {
	case traffic.KindRequest:
		return n.request(rec)
	case traffic.KindResponse:
		return n.response(ctx, rec)
	case traffic.KindRedirect:
		return n.redirect(rec)
	case traffic.KindPayload:
		return n.payload(rec)
	default:
		n.log.Debug("跳过未知类型记录", "seq", rec.Seq, "kind", rec.Kind)
		return model.CaptureEvent{}, false
	}
}

func (n *Normalizer) request(rec traffic.Record) (model.CaptureEvent, bool) {
	if rec.URL == "" || !matcher.Contains(rec.URL) {
		return model.CaptureEvent{}, false
	}
	return model.CaptureEvent{
		Seq:    rec.Seq,
		Kind:   model.EventRequestSent,
		Source: sourceOr(rec.Source, model.SourceRequest),
		URL:    rec.URL,
	}, true
}

func (n *Normalizer) response(ctx context.Context, rec traffic.Record) (model.CaptureEvent, bool) {
	mimeType := strings.ToLower(rec.MimeType)
	if mimeType == "" {
		mimeType = strings.ToLower(rec.Headers.Get("content-type"))
	}

	var body string
	if BodyEligible(mimeType, rec.URL) {
		body = n.body(ctx, rec, mimeType)
	}
	if body == "" && !matcher.Contains(rec.URL) {
		return model.CaptureEvent{}, false
	}
	return model.CaptureEvent{
		Seq:      rec.Seq,
		Kind:     model.EventResponseReceived,
		Source:   sourceOr(rec.Source, model.SourceResponse),
		URL:      rec.URL,
		MimeType: mimeType,
		Body:     body,
	}, true
}

func (n *Normalizer) redirect(rec traffic.Record) (model.CaptureEvent, bool) {
	loc := strings.TrimSpace(rec.Headers.Get("location"))
	if loc == "" {
		return model.CaptureEvent{}, false
	}
	return model.CaptureEvent{
		Seq:    rec.Seq,
		Kind:   model.EventRedirectHeader,
		Source: sourceOr(rec.Source, model.SourceRedirect),
		URL:    loc,
	}, true
}

func (n *Normalizer) payload(rec traffic.Record) (model.CaptureEvent, bool) {
	text := DecodeText(n.truncate(rec.Body), rec.MimeType)
	if text == "" {
		return model.CaptureEvent{}, false
	}
	return model.CaptureEvent{
		Seq:    rec.Seq,
		Kind:   model.EventProxiedPayload,
		Source: sourceOr(rec.Source, model.SourceProxy),
		Text:   text,
	}, true
}

// body 优先使用内联响应体，否则通过 BodyFetcher 获取；失败视为无响应体
func (n *Normalizer) body(ctx context.Context, rec traffic.Record, mimeType string) string {
	if rec.Body != nil {
		return DecodeText(n.truncate(rec.Body), mimeType)
	}
	if rec.ID == "" || n.bodies == nil {
		return ""
	}
	fctx, cancel := context.WithTimeout(ctx, n.fetchTimeout)
	defer cancel()
	b, err := n.bodies.FetchBody(fctx, rec.ID)
	if err != nil {
		n.log.Debug("获取响应体失败，按无响应体处理", "seq", rec.Seq, "url", rec.URL, "error", err)
		return ""
	}
	return DecodeText(n.truncate(b), mimeType)
}

func (n *Normalizer) truncate(b []byte) []byte {
	if len(b) > n.maxBodyBytes {
		return b[:n.maxBodyBytes]
	}
	return b
}

// BodyEligible 判断响应是否需要读取响应体进行匹配
func BodyEligible(mimeType, rawURL string) bool {
	m := strings.ToLower(mimeType)
	if strings.Contains(m, "json") || strings.Contains(m, "text") || strings.Contains(m, "javascript") {
		return true
	}
	p := strings.ToLower(urlPath(rawURL))
	for _, s := range bodySuffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}

func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func sourceOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
