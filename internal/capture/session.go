package capture

import (
	"sync"
	"time"

	"m3u8capture/internal/registry"
	"m3u8capture/pkg/model"
)

// Session 一次捕获会话，独占自己的去重集合与已处理序号集合
type Session struct {
	mu          sync.RWMutex
	id          model.SessionID
	targetURL   string
	maxWait     time.Duration
	registry    *registry.Registry
	processed   map[uint64]struct{}
	discoveries []model.Discovery
	state       model.State
	startedAt   time.Time
	finishedAt  time.Time
}

// NewSession 创建处于 Idle 状态的会话
func NewSession(id model.SessionID, targetURL string, maxWait time.Duration) *Session {
	return &Session{
		id:        id,
		targetURL: targetURL,
		maxWait:   maxWait,
		registry:  registry.New(),
		processed: make(map[uint64]struct{}),
		state:     model.StateIdle,
	}
}

func (s *Session) ID() model.SessionID { return s.id }

// start 进入 Watching 状态
func (s *Session) start(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = now
	s.state = model.StateWatching
}

// markProcessed 记录序号，已处理过返回 false；序号 0 表示无标识，不参与去重
func (s *Session) markProcessed(seq uint64) bool {
	if seq == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[seq]; ok {
		return false
	}
	s.processed[seq] = struct{}{}
	return true
}

// record 插入地址，仅在首次出现时返回新的 Discovery
func (s *Session) record(u model.ManifestURL, source string, seq uint64, now time.Time) (model.Discovery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.registry.Insert(u) {
		return model.Discovery{}, false
	}
	d := model.Discovery{
		URL:     u,
		Source:  source,
		Seq:     seq,
		Order:   s.registry.Size() - 1,
		FoundAt: now,
	}
	s.discoveries = append(s.discoveries, d)
	return d, true
}

// transition 只允许从 Watching 前进到终止状态
func (s *Session) transition(to model.State, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateWatching || !to.Terminal() {
		return false
	}
	s.state = to
	s.finishedAt = now
	return true
}

func (s *Session) State() model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.Size()
}

// Info 返回会话摘要，可被其他 goroutine 调用
func (s *Session) Info() model.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.SessionInfo{
		ID:        s.id,
		TargetURL: s.targetURL,
		State:     s.state,
		Found:     s.registry.Size(),
		StartedAt: s.startedAt,
		Deadline:  s.deadline(),
	}
}

// deadline 截止时间，未开始时为零值
func (s *Session) deadline() time.Time {
	if s.startedAt.IsZero() {
		return time.Time{}
	}
	return s.startedAt.Add(s.maxWait)
}

// Result 构造结果快照
func (s *Session) Result() model.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := make([]model.Discovery, len(s.discoveries))
	copy(ds, s.discoveries)
	return model.Result{
		SessionID:   s.id,
		TargetURL:   s.targetURL,
		State:       s.state,
		URLs:        s.registry.Values(),
		Discoveries: ds,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
	}
}
