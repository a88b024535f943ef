package api

import (
	"context"

	"m3u8capture/internal/service"
	"m3u8capture/pkg/model"
)

type (
	CaptureRequest = service.CaptureRequest
	ReplayRequest  = service.ReplayRequest
	Options        = service.Options
)

// Service 服务接口
type Service interface {
	// StartCapture 打开目标页面并阻塞捕获，返回按首次出现顺序排列的清单地址
	StartCapture(ctx context.Context, req CaptureRequest) (model.Result, error)

	// Replay 在录制的事件日志上运行捕获
	Replay(ctx context.Context, path string, req ReplayRequest) (model.Result, error)

	// StopCapture 停止进行中的会话
	StopCapture(id model.SessionID) error

	// Session 查询进行中的会话
	Session(id model.SessionID) (model.SessionInfo, error)

	// ActiveSessions 列出进行中的会话
	ActiveSessions() []model.SessionInfo

	// History 最近的捕获记录
	History(ctx context.Context, limit int) ([]model.CaptureSummary, error)

	// Close 释放资源
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(opts Options) Service {
	return service.New(opts)
}
