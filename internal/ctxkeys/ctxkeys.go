// Package ctxkeys 定义跨包使用的 context 键
package ctxkeys

// TraceIDKey 链路标识，捕获相关调用中取值为会话 ID
type TraceIDKey struct{}
