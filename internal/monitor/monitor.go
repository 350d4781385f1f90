package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/feed"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// Resolver 阈值解析
type Resolver interface {
	Resolve(ctx context.Context, patientID string) (*models.ThresholdSet, error)
}

// Dispatcher 报警派发
type Dispatcher interface {
	Dispatch(ctx context.Context, reading *models.VitalsReading, thresholds *models.ThresholdSet) (models.DispatchOutcome, error)
	LastAlert(patientID string) (time.Time, bool)
	Forget(patientID string)
}

// 会话结束原因
const (
	ReasonStopped  = "stopped"
	ReasonEnded    = "ended"
	ReasonLost     = "lost"
	ReasonLiveness = "liveness"
)

// Monitor 实时监测（每个患者一个会话 goroutine）
// 同一患者最多一个活动会话；会话内读数严格按到达顺序处理
type Monitor struct {
	resolver   Resolver
	store      repository.ReadingStore
	dispatcher Dispatcher
	feeds      feed.Factory
	liveness   time.Duration
	now        func() time.Time
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	finished map[string]SessionInfo // 最近一次结束的会话
}

// NewMonitor 创建实时监测器
// liveness <= 0 时不检查数据流存活
func NewMonitor(
	resolver Resolver,
	store repository.ReadingStore,
	dispatcher Dispatcher,
	feeds feed.Factory,
	liveness time.Duration,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		resolver:   resolver,
		store:      store,
		dispatcher: dispatcher,
		feeds:      feeds,
		liveness:   liveness,
		now:        time.Now,
		logger:     logger,
		sessions:   make(map[string]*session),
		finished:   make(map[string]SessionInfo),
	}
}

// Start 为患者开启监测会话
// 阈值无法解析时拒绝开启；同一患者已有活动会话时返回 ErrSessionExists
func (m *Monitor) Start(ctx context.Context, patientID, deviceID string) error {
	if patientID == "" || deviceID == "" {
		return fmt.Errorf("patient_id and device_id are required")
	}

	m.mu.Lock()
	if _, ok := m.sessions[patientID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrSessionExists, patientID)
	}
	s := newSession(patientID, deviceID)
	m.sessions[patientID] = s
	m.mu.Unlock()

	if _, err := m.resolver.Resolve(ctx, patientID); err != nil {
		m.abort(s)
		return fmt.Errorf("refusing session for %s: %w", patientID, err)
	}

	f, err := m.feeds.Open(ctx, patientID, deviceID)
	if err != nil {
		m.abort(s)
		return fmt.Errorf("failed to open device feed for %s: %w", patientID, err)
	}

	s.setRunning(f, m.now())
	metrics.SessionStarted()

	m.logger.Info("Monitoring session started",
		zap.String("patient_id", patientID),
		zap.String("device_id", deviceID),
	)

	go m.run(s)
	return nil
}

// abort 撤销尚未运行的会话
func (m *Monitor) abort(s *session) {
	m.mu.Lock()
	if m.sessions[s.patientID] == s {
		delete(m.sessions, s.patientID)
	}
	m.mu.Unlock()
	s.cancel()
	close(s.done)
}

// Stop 停止患者的监测会话，等待当前读数处理完成
func (m *Monitor) Stop(patientID string) error {
	m.mu.Lock()
	s, ok := m.sessions[patientID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, patientID)
	}

	s.cancel()
	<-s.done
	return nil
}

// StopAll 停止全部会话（服务关闭时调用）
func (m *Monitor) StopAll() {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}
	for _, s := range all {
		<-s.done
	}
}

// State 患者会话状态（没有会话记录时为 idle）
func (m *Monitor) State(patientID string) State {
	info, ok := m.Session(patientID)
	if !ok {
		return StateIdle
	}
	return info.State
}

// Session 活动会话或最近一次结束的会话
func (m *Monitor) Session(patientID string) (SessionInfo, bool) {
	m.mu.Lock()
	s, ok := m.sessions[patientID]
	last, hasLast := m.finished[patientID]
	m.mu.Unlock()

	if ok {
		return m.snapshot(s), true
	}
	return last, hasLast
}

// Sessions 全部活动会话
func (m *Monitor) Sessions() []SessionInfo {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, m.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatientID < out[j].PatientID })
	return out
}

// snapshot 会话快照，附带派发器记录的最近报警时间
func (m *Monitor) snapshot(s *session) SessionInfo {
	info := s.info()
	if at, ok := m.dispatcher.LastAlert(s.patientID); ok {
		info.LastAlertAt = &at
	}
	return info
}

// ActivePatients 正在监测的患者
func (m *Monitor) ActivePatients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Done 会话结束时关闭的 channel（没有活动会话时返回已关闭的 channel）
func (m *Monitor) Done(patientID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[patientID]; ok {
		return s.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// run 会话主循环
func (m *Monitor) run(s *session) {
	logger := m.logger.With(zap.String("patient_id", s.patientID), zap.String("device_id", s.deviceID))
	reason, err := ReasonStopped, error(nil)
	defer func() { m.finish(s, reason, err, logger) }()

	for {
		sample, nextErr := m.next(s)
		if nextErr != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(nextErr, models.ErrMalformedSample) {
				logger.Warn("Skipping malformed sample", zap.Error(nextErr))
				metrics.RecordReadingError("decode")
				s.fail()
				continue
			}
			reason, err = classifyFeedError(nextErr, m.liveness)
			return
		}

		// 停止请求不打断正在处理的读数
		m.process(context.WithoutCancel(s.ctx), s, sample, logger)
	}
}

// next 带存活窗口读取下一条样本
func (m *Monitor) next(s *session) (*models.Sample, error) {
	if m.liveness <= 0 {
		return s.feed.Next(s.ctx)
	}
	ctx, cancel := context.WithTimeout(s.ctx, m.liveness)
	defer cancel()
	return s.feed.Next(ctx)
}

func classifyFeedError(err error, liveness time.Duration) (string, error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonLiveness, fmt.Errorf("%w: no reading within %s", models.ErrFeedLost, liveness)
	case errors.Is(err, models.ErrFeedEnded):
		return ReasonEnded, err
	case models.IsFeedError(err):
		return ReasonLost, err
	default:
		return ReasonLost, fmt.Errorf("%w: %v", models.ErrFeedLost, err)
	}
}

// process 处理单条样本：解析阈值 → 评分 → 持久化 → 报警派发 → 确认
// 任何一步失败只影响当前读数
func (m *Monitor) process(ctx context.Context, s *session, sample *models.Sample, logger *zap.Logger) {
	started := m.now()

	thresholds, err := m.resolver.Resolve(ctx, s.patientID)
	if err != nil {
		logger.Error("Failed to resolve thresholds for reading",
			zap.String("cursor", sample.Cursor),
			zap.Error(err),
		)
		metrics.RecordReadingError("resolve")
		s.fail()
		return
	}

	reading := evaluator.Evaluate(s.patientID, sample, thresholds, m.now())

	if err := m.store.Append(ctx, &reading); err != nil {
		logger.Error("Failed to persist reading",
			zap.String("reading_id", reading.ID),
			zap.String("cursor", sample.Cursor),
			zap.Error(err),
		)
		metrics.RecordReadingError("store")
		s.fail()
		return
	}

	if reading.Alert.Severity != models.SeverityNone {
		outcome, err := m.dispatcher.Dispatch(ctx, &reading, thresholds)
		if err != nil {
			logger.Warn("Alert delivery incomplete",
				zap.String("reading_id", reading.ID),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
		}
	}

	if err := s.feed.Ack(ctx, sample); err != nil {
		logger.Warn("Failed to ack sample", zap.String("cursor", sample.Cursor), zap.Error(err))
		metrics.RecordReadingError("ack")
	}

	s.advance(sample.Cursor)
	metrics.RecordReading(reading.Alert.Severity.String(), m.now().Sub(started))

	logger.Debug("Reading processed",
		zap.String("reading_id", reading.ID),
		zap.Int("systolic", reading.Systolic),
		zap.Int("diastolic", reading.Diastolic),
		zap.String("severity", reading.Alert.Severity.String()),
	)
}

// finish 释放会话资源：关闭数据流、清除限流状态、移出注册表
func (m *Monitor) finish(s *session, reason string, err error, logger *zap.Logger) {
	if cerr := s.feed.Close(); cerr != nil {
		logger.Warn("Failed to close device feed", zap.Error(cerr))
	}
	s.terminate(reason, err, m.now())
	info := m.snapshot(s)
	m.dispatcher.Forget(s.patientID)

	m.mu.Lock()
	if m.sessions[s.patientID] == s {
		delete(m.sessions, s.patientID)
	}
	m.finished[s.patientID] = info
	m.mu.Unlock()

	s.cancel()
	metrics.SessionEnded(reason)

	if err != nil {
		logger.Warn("Monitoring session terminated", zap.String("reason", reason), zap.Error(err))
	} else {
		logger.Info("Monitoring session stopped", zap.String("reason", reason))
	}
	close(s.done)
}
