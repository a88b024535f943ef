// Package storage 使用 SQLite 持久化捕获历史
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"m3u8capture/internal/ctxkeys"
	logger2 "m3u8capture/internal/logger"
	"m3u8capture/pkg/model"
)

// ErrNotFound 捕获记录不存在
var ErrNotFound = errors.New("capture not found")

// Capture 一次捕获会话的持久化记录
type Capture struct {
	ID          string `gorm:"primaryKey;size:64"`
	TargetURL   string
	State       string `gorm:"size:16;index"`
	Found       int
	StartedAt   time.Time `gorm:"index"`
	FinishedAt  time.Time
	Discoveries []Discovery `gorm:"foreignKey:CaptureID;constraint:OnDelete:CASCADE"`
}

// Discovery 已发现地址的持久化记录
type Discovery struct {
	ID        uint   `gorm:"primaryKey"`
	CaptureID string `gorm:"size:64;uniqueIndex:idx_capture_url"`
	URL       string `gorm:"uniqueIndex:idx_capture_url"`
	Source    string `gorm:"size:16"`
	Seq       uint64
	Position  int
	FoundAt   time.Time
}

// Options 数据库配置
type Options struct {
	DSN    string
	Prefix string
	Logger logger2.Logger
}

// Store 捕获历史存储
type Store struct {
	db  *gorm.DB
	log logger2.Logger
}

// Open 打开数据库并迁移表结构
func Open(opts Options) (*Store, error) {
	l := opts.Logger
	if l == nil {
		l = logger2.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l, logger.Warn),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.DSN, err)
	}
	if strings.Contains(opts.DSN, ":memory:") {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Capture{}, &Discovery{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Debug("数据库已就绪", "dsn", opts.DSN)
	return &Store{db: db, log: l}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Recorder 返回绑定到指定会话的 capture.Sink
func (s *Store) Recorder(id model.SessionID, targetURL string) *Recorder {
	return &Recorder{store: s, id: id, target: targetURL}
}

// Recorder 将单个会话的发现与结果写入数据库，写入失败仅记录日志
type Recorder struct {
	store   *Store
	id      model.SessionID
	target  string
	started bool
}

func (r *Recorder) Found(ctx context.Context, d model.Discovery) {
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, string(r.id))
	db := r.store.db.WithContext(ctx)
	if !r.started {
		c := Capture{ID: string(r.id), TargetURL: r.target, State: string(model.StateWatching), StartedAt: d.FoundAt}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&c).Error; err != nil {
			r.store.log.Err(err, "保存捕获记录失败", "session", string(r.id))
			return
		}
		r.started = true
	}
	row := toDiscovery(r.id, d)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		r.store.log.Err(err, "保存发现记录失败", "session", string(r.id), "url", string(d.URL))
	}
}

func (r *Recorder) Finished(ctx context.Context, res model.Result) {
	if err := r.store.Save(context.WithValue(ctx, ctxkeys.TraceIDKey{}, string(r.id)), res); err != nil {
		r.store.log.Err(err, "保存捕获结果失败", "session", string(r.id))
	}
}

// Save 写入或覆盖一次捕获的完整结果
func (s *Store) Save(ctx context.Context, res model.Result) error {
	c := Capture{
		ID:         string(res.SessionID),
		TargetURL:  res.TargetURL,
		State:      string(res.State),
		Found:      len(res.URLs),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"target_url", "state", "found", "started_at", "finished_at"}),
		}).Create(&c).Error
		if err != nil {
			return err
		}
		if len(res.Discoveries) == 0 {
			return nil
		}
		rows := make([]Discovery, 0, len(res.Discoveries))
		for _, d := range res.Discoveries {
			rows = append(rows, toDiscovery(res.SessionID, d))
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

// Get 按会话 ID 查询捕获记录
func (s *Store) Get(ctx context.Context, id model.SessionID) (model.CaptureSummary, error) {
	var c Capture
	err := s.db.WithContext(ctx).
		Preload("Discoveries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&c, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.CaptureSummary{}, ErrNotFound
	}
	if err != nil {
		return model.CaptureSummary{}, err
	}
	return toSummary(c), nil
}

// History 按开始时间倒序返回最近的捕获记录
func (s *Store) History(ctx context.Context, limit int) ([]model.CaptureSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Capture
	err := s.db.WithContext(ctx).
		Preload("Discoveries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("started_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.CaptureSummary, 0, len(rows))
	for _, c := range rows {
		out = append(out, toSummary(c))
	}
	return out, nil
}

func toDiscovery(id model.SessionID, d model.Discovery) Discovery {
	return Discovery{
		CaptureID: string(id),
		URL:       string(d.URL),
		Source:    d.Source,
		Seq:       d.Seq,
		Position:  d.Order,
		FoundAt:   d.FoundAt,
	}
}

func toSummary(c Capture) model.CaptureSummary {
	urls := make([]model.ManifestURL, 0, len(c.Discoveries))
	for _, d := range c.Discoveries {
		urls = append(urls, model.ManifestURL(d.URL))
	}
	return model.CaptureSummary{
		ID:         model.SessionID(c.ID),
		TargetURL:  c.TargetURL,
		State:      model.State(c.State),
		URLs:       urls,
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
	}
}
