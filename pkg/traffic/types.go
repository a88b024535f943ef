package traffic

import (
	"strings"
	"time"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Kind 原始记录类型
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindRedirect Kind = "redirect"
	KindPayload  Kind = "payload"
)

// Record 中立的原始网络记录，由外部事件源产生
type Record struct {
	Seq      uint64    // 单调递增序号，用于去重
	Kind     Kind      // 记录类型
	ID       string    // 获取响应体时使用的不透明标识
	URL      string    // 请求或响应地址
	Method   string    // HTTP方法
	MimeType string    // 声明的内容类型
	Headers  Header    // 头部（重定向时包含 Location）
	Body     []byte    // 内联的响应体或载荷，nil 表示需要通过 ID 获取
	Source   string    // 来源标签，如 websocket、proxy、console
	Time     time.Time // 记录时间
}

// NewRecord 创建初始化记录对象
func NewRecord(kind Kind) Record {
	return Record{
		Kind:    kind,
		Headers: make(Header),
		Time:    time.Now(),
	}
}
