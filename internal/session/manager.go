// Package session 管理进行中的捕获会话
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"m3u8capture/internal/capture"
	"m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

// Manager 全局会话管理器，会话之间不共享任何捕获状态
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*entry
	log      logger.Logger
}

type entry struct {
	session *capture.Session
	cancel  context.CancelFunc
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SessionID]*entry),
		log:      l,
	}
}

// Create 以新生成的 ID 创建并注册会话，cancel 用于从外部停止该会话，可为空
func (m *Manager) Create(targetURL string, maxWait time.Duration, cancel context.CancelFunc) *capture.Session {
	id := model.SessionID(uuid.NewString())
	s := capture.NewSession(id, targetURL, maxWait)

	m.mu.Lock()
	m.sessions[id] = &entry{session: s, cancel: cancel}
	m.mu.Unlock()

	m.log.Info("创建捕获会话", "sessionID", string(id), "target", targetURL)
	return s
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*capture.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Cancel 请求停止会话，捕获循环随后以已收集的结果结束
func (m *Manager) Cancel(id model.SessionID) bool {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	m.log.Info("停止捕获会话", "sessionID", string(id))
	return true
}

// Delete 销毁会话
func (m *Manager) Delete(id model.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.log.Info("销毁捕获会话", "sessionID", string(id))
}

// List 返回所有活动会话的摘要，按开始时间排序
func (m *Manager) List() []model.SessionInfo {
	m.mu.RLock()
	list := make([]model.SessionInfo, 0, len(m.sessions))
	for _, e := range m.sessions {
		list = append(list, e.session.Info())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

