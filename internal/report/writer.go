// Package report 将捕获结果写成纯文本产物与 JSON-lines 事件日志
package report

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

// DefaultSentinel 未发现任何地址时写入产物的提示行
const DefaultSentinel = "No .m3u8 URL found."

// Options 输出配置，路径为空表示不写对应文件
type Options struct {
	Output   string // 纯文本产物，每行一个地址
	EventLog string // JSON-lines 事件日志，追加写入
	Sentinel string // 为空时未发现地址写入空文件
	Logger   logger.Logger
}

// Writer 实现 capture.Sink
//
// 每次发现新地址即刷新产物文件，进程中途退出时已发现的地址不会丢失。
type Writer struct {
	opts Options
	log  logger.Logger

	mu   sync.Mutex
	urls []model.ManifestURL
}

// NewWriter 创建结果输出
func NewWriter(opts Options) *Writer {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Writer{opts: opts, log: l}
}

func (w *Writer) Found(_ context.Context, d model.Discovery) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urls = append(w.urls, d.URL)

	if err := w.writeArtifact(w.urls); err != nil {
		w.log.Err(err, "写入结果文件失败", "path", w.opts.Output)
	}
	line, err := discoveryLine(d)
	if err == nil {
		err = w.appendEvent(line)
	}
	if err != nil {
		w.log.Err(err, "写入事件日志失败", "path", w.opts.EventLog)
	}
}

func (w *Writer) Finished(_ context.Context, r model.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.urls = r.URLs

	if err := w.writeArtifact(r.URLs); err != nil {
		w.log.Err(err, "写入结果文件失败", "path", w.opts.Output)
	}
	line, err := resultLine(r)
	if err == nil {
		err = w.appendEvent(line)
	}
	if err != nil {
		w.log.Err(err, "写入事件日志失败", "path", w.opts.EventLog)
	}
}

// Render 生成产物内容：每行一个地址，为空时返回提示行或空串
func Render(urls []model.ManifestURL, sentinel string) string {
	if len(urls) == 0 {
		if sentinel == "" {
			return ""
		}
		return sentinel + "\n"
	}
	var b strings.Builder
	for _, u := range urls {
		b.WriteString(string(u))
		b.WriteByte('\n')
	}
	return b.String()
}

func (w *Writer) writeArtifact(urls []model.ManifestURL) error {
	if w.opts.Output == "" {
		return nil
	}
	tmp := w.opts.Output + ".tmp"
	if err := os.WriteFile(tmp, []byte(Render(urls, w.opts.Sentinel)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.opts.Output)
}

func (w *Writer) appendEvent(line []byte) error {
	if w.opts.EventLog == "" {
		return nil
	}
	f, err := os.OpenFile(w.opts.EventLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func discoveryLine(d model.Discovery) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	set := func(path string, v any) {
		if err == nil {
			b, err = sjson.SetBytes(b, path, v)
		}
	}
	set("type", "found")
	set("url", string(d.URL))
	set("source", d.Source)
	set("seq", d.Seq)
	set("order", d.Order)
	set("time", d.FoundAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("encode discovery: %w", err)
	}
	return b, nil
}

func resultLine(r model.Result) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	set := func(path string, v any) {
		if err == nil {
			b, err = sjson.SetBytes(b, path, v)
		}
	}
	set("type", "finished")
	set("session", string(r.SessionID))
	set("target", r.TargetURL)
	set("state", string(r.State))
	set("urls", []string{})
	for i, u := range r.URLs {
		set(fmt.Sprintf("urls.%d", i), string(u))
	}
	set("elapsedMs", r.FinishedAt.Sub(r.StartedAt).Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}
