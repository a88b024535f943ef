package feed

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/gjson"

	"m3u8capture/internal/logger"
	"m3u8capture/pkg/traffic"
)

// 每行最多展开的记录数，序号 = 行号<<recordBits | 行内下标
const recordBits = 4

// LogFile 逐行读取 JSON-lines 捕获日志，支持外部进程持续追加
//
// 序号由非空行的行号推导，同一行被重复读取时得到相同序号。
type LogFile struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	partial []byte
	line    uint64
	watcher *fsnotify.Watcher
	ready   chan struct{}
	log     logger.Logger
	mu      sync.Mutex
}

// OpenLogFile 打开捕获日志；无法创建文件监听时退化为纯轮询
func OpenLogFile(path string, l logger.Logger) (*LogFile, error) {
	if l == nil {
		l = logger.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve capture log path: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open capture log: %w", err)
	}
	lf := &LogFile{
		path:   abs,
		file:   f,
		reader: bufio.NewReader(f),
		ready:  make(chan struct{}, 1),
		log:    l,
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.Warn("创建文件监听失败，使用轮询", "path", abs, "error", err)
		return lf, nil
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		l.Warn("添加文件监听失败，使用轮询", "path", abs, "error", err)
		_ = w.Close()
		return lf, nil
	}
	lf.watcher = w
	go lf.watch()
	return lf, nil
}

func (lf *LogFile) watch() {
	for {
		select {
		case ev, ok := <-lf.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != lf.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				select {
				case lf.ready <- struct{}{}:
				default:
				}
			}
		case err, ok := <-lf.watcher.Errors:
			if !ok {
				return
			}
			lf.log.Warn("文件监听错误", "path", lf.path, "error", err)
		}
	}
}

// Pull 读取自上次拉取以来新增的完整行
func (lf *LogFile) Pull(ctx context.Context) ([]traffic.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()

	var out []traffic.Record
	for {
		chunk, err := lf.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			lf.partial = append(lf.partial, chunk...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return out, fmt.Errorf("read capture log: %w", err)
			}
			// 末尾没有换行但已是完整 JSON 的行同样处理
			if line := bytes.TrimSpace(lf.partial); len(line) > 0 && gjson.ValidBytes(line) {
				out = lf.emit(out, line)
				lf.partial = nil
			}
			return out, nil
		}
		line := bytes.TrimSpace(lf.partial)
		lf.partial = nil
		if len(line) == 0 {
			continue
		}
		out = lf.emit(out, line)
	}
}

func (lf *LogFile) emit(out []traffic.Record, line []byte) []traffic.Record {
	lf.line++
	recs := ParseLine(line)
	if len(recs) == 0 {
		lf.log.Debug("跳过无法解析的日志行", "line", lf.line)
		return out
	}
	for i, r := range recs {
		if i >= 1<<recordBits {
			break
		}
		r.Seq = lf.line<<recordBits | uint64(i)
		out = append(out, r)
	}
	return out
}

// Ready 文件有新写入时收到信号
func (lf *LogFile) Ready() <-chan struct{} { return lf.ready }

// Close 关闭文件与监听
func (lf *LogFile) Close() error {
	var err error
	if lf.watcher != nil {
		err = lf.watcher.Close()
	}
	if cerr := lf.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
