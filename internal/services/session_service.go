// internal/services/session_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/story"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

// Session 一个客户端独占的时间线集合
type Session struct {
	ID         string
	CreatedAt  time.Time
	lastActive time.Time
	closed     bool
	manager    *TimelineManager
}

// SessionSubscriber 接收会话变更通知
type SessionSubscriber interface {
	OnSessionUpdate(view models.SessionView)
	OnSessionClosed(sessionID string)
}

// SessionServiceOptions 会话服务配置
type SessionServiceOptions struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *utils.Logger
	Metrics       *utils.Metrics
}

// SessionService 管理所有会话
type SessionService struct {
	graph    *story.Graph
	sessions map[string]*Session
	mutex    sync.RWMutex
	locks    *LockManager

	ttl           time.Duration
	sweepInterval time.Duration

	subscribers []SessionSubscriber
	subMutex    sync.RWMutex

	logger  *utils.Logger
	metrics *utils.Metrics
	now     func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewSessionService 创建会话服务
func NewSessionService(graph *story.Graph, opts SessionServiceOptions) *SessionService {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.GetMetrics()
	}

	return &SessionService{
		graph:         graph,
		sessions:      make(map[string]*Session),
		locks:         NewLockManager(),
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Graph 返回故事图
func (s *SessionService) Graph() *story.Graph {
	return s.graph
}

// Subscribe 注册变更订阅者
func (s *SessionService) Subscribe(subscriber SessionSubscriber) {
	s.subMutex.Lock()
	defer s.subMutex.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

func (s *SessionService) notifyUpdate(view models.SessionView) {
	s.subMutex.RLock()
	defer s.subMutex.RUnlock()
	for _, sub := range s.subscribers {
		sub.OnSessionUpdate(view)
	}
}

func (s *SessionService) notifyClosed(sessionID string) {
	s.subMutex.RLock()
	defer s.subMutex.RUnlock()
	for _, sub := range s.subscribers {
		sub.OnSessionClosed(sessionID)
	}
}

func sessionNotFound(sessionID string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", sessionID), nil).WithCode(CodeSessionNotFound)
}

func (s *SessionService) get(sessionID string) (*Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	return session, nil
}

// Create 新建会话，初始为根节点上的单条时间线
func (s *SessionService) Create() models.SessionView {
	now := s.now()
	session := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		lastActive: now,
		manager:    NewTimelineManager(s.graph),
	}

	s.mutex.Lock()
	s.sessions[session.ID] = session
	count := len(s.sessions)
	s.mutex.Unlock()

	s.metrics.SessionsActive.Set(float64(count))
	s.logger.Info("会话已创建", map[string]interface{}{"session_id": session.ID})

	return BuildSessionView(session.ID, session.manager)
}

// View 获取会话当前展示状态
func (s *SessionService) View(sessionID string) (models.SessionView, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionView{}, err
	}

	var view models.SessionView
	err = s.locks.ExecuteWithSessionReadLock(sessionID, func() error {
		if session.closed {
			return sessionNotFound(sessionID)
		}
		view = BuildSessionView(sessionID, session.manager)
		return nil
	})
	if err != nil {
		// 会话在查找与加锁之间被丢弃，释放刚创建的锁记录
		s.locks.Remove(sessionID)
	}
	return view, err
}

// Apply 在会话锁内执行一次变更，成功后通知订阅者
func (s *SessionService) Apply(sessionID string, fn func(m *TimelineManager) error) (models.SessionView, error) {
	session, err := s.get(sessionID)
	if err != nil {
		return models.SessionView{}, err
	}

	var view models.SessionView
	stale := false
	err = s.locks.ExecuteWithSessionLock(sessionID, func() error {
		if session.closed {
			stale = true
			return sessionNotFound(sessionID)
		}
		if err := fn(session.manager); err != nil {
			return err
		}
		session.lastActive = s.now()
		view = BuildSessionView(sessionID, session.manager)
		// 持锁通知，保证订阅者看到的顺序与事件顺序一致
		s.notifyUpdate(view)
		return nil
	})
	if err != nil {
		if stale {
			s.locks.Remove(sessionID)
		}
		s.recordError(sessionID, err)
		return models.SessionView{}, err
	}
	return view, nil
}

func (s *SessionService) recordError(sessionID string, err error) {
	errType, ok := apperrors.TypeOf(err)
	if !ok {
		errType = apperrors.ErrorTypeError
	}
	s.metrics.RecordError(string(errType))
	s.logger.Warn("会话操作被拒绝", map[string]interface{}{
		"session_id": sessionID,
		"error":      err,
	})
}

// ChooseIndex 对应 choiceClicked 事件
func (s *SessionService) ChooseIndex(sessionID, timelineID string, choiceIndex int) (models.SessionView, *ChoiceResult, error) {
	var result *ChoiceResult
	view, err := s.Apply(sessionID, func(m *TimelineManager) error {
		var err error
		result, err = m.ChooseIndex(timelineID, choiceIndex)
		return err
	})
	if err != nil {
		return view, nil, err
	}

	s.metrics.ChoicesTotal.Inc()
	fields := map[string]interface{}{
		"session_id":  sessionID,
		"timeline_id": timelineID,
		"scenario":    result.Timeline.CurrentScenario,
	}
	if result.Forked != nil {
		s.metrics.ForksTotal.Inc()
		fields["forked_timeline_id"] = result.Forked.ID
	}
	s.logger.Debug("已应用选择", fields)

	return view, result, nil
}

// ResetTimeline 对应 resetClicked 事件
func (s *SessionService) ResetTimeline(sessionID, timelineID string) (models.SessionView, error) {
	view, err := s.Apply(sessionID, func(m *TimelineManager) error {
		return m.ResetTimeline(timelineID)
	})
	if err == nil {
		s.metrics.ResetsTotal.WithLabelValues("single").Inc()
	}
	return view, err
}

// ResetAll 对应 collapseAllClicked 事件
func (s *SessionService) ResetAll(sessionID string) (models.SessionView, error) {
	view, err := s.Apply(sessionID, func(m *TimelineManager) error {
		m.ResetAll()
		return nil
	})
	if err == nil {
		s.metrics.ResetsTotal.WithLabelValues("all").Inc()
	}
	return view, err
}

// Delete 丢弃会话
func (s *SessionService) Delete(sessionID string) error {
	session, err := s.get(sessionID)
	if err != nil {
		return err
	}

	err = s.locks.ExecuteWithSessionLock(sessionID, func() error {
		if session.closed {
			return sessionNotFound(sessionID)
		}
		session.closed = true
		return nil
	})
	if err != nil {
		return err
	}

	s.mutex.Lock()
	delete(s.sessions, sessionID)
	count := len(s.sessions)
	s.mutex.Unlock()
	s.locks.Remove(sessionID)

	s.metrics.SessionsActive.Set(float64(count))
	s.notifyClosed(sessionID)
	s.logger.Info("会话已丢弃", map[string]interface{}{"session_id": sessionID})
	return nil
}

// Count 当前会话数
func (s *SessionService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// Sweep 清理空闲超过 TTL 的会话，返回清理数量
func (s *SessionService) Sweep(now time.Time) int {
	s.mutex.RLock()
	candidates := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		candidates = append(candidates, session)
	}
	s.mutex.RUnlock()

	evicted := 0
	for _, session := range candidates {
		var expired, closed bool
		_ = s.locks.ExecuteWithSessionReadLock(session.ID, func() error {
			closed = session.closed
			expired = !closed && now.Sub(session.lastActive) > s.ttl
			return nil
		})
		if closed {
			s.locks.Remove(session.ID)
			continue
		}
		if !expired {
			continue
		}
		if err := s.Delete(session.ID); err == nil {
			evicted++
			s.metrics.SessionsEvicted.Inc()
		}
	}

	if evicted > 0 {
		s.logger.Info("已清理空闲会话", map[string]interface{}{"evicted": evicted})
	}
	return evicted
}

// Start 启动后台清理协程
func (s *SessionService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(s.now())
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Close 停止后台清理
func (s *SessionService) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}
