package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PatientLister 提供需要定时分析的患者
type PatientLister interface {
	ActivePatients() []string
}

// Scheduler 定时对正在监测的患者运行滚动窗口分析，并把报告缓存到 Redis
type Scheduler struct {
	analyzer *Analyzer
	lister   PatientLister
	kv       rediscommon.KV
	window   time.Duration
	ttl      time.Duration
	prefix   string
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler 创建定时分析调度器
func NewScheduler(
	analyzer *Analyzer,
	lister PatientLister,
	kv rediscommon.KV,
	window time.Duration,
	ttl time.Duration,
	prefix string,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		analyzer: analyzer,
		lister:   lister,
		kv:       kv,
		window:   window,
		ttl:      ttl,
		prefix:   prefix,
		logger:   logger,
	}
}

// Start 按 cron 表达式（标准 5 字段）启动调度
func (s *Scheduler) Start(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid analysis schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithLocation(s.analyzer.loc))
	if _, err := c.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule pattern analysis: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("Pattern analysis scheduled", zap.String("schedule", spec), zap.Duration("window", s.window))
	return nil
}

// Stop 停止调度并等待正在运行的分析结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce 对所有正在监测的患者运行一次分析，返回写入缓存的报告数量
func (s *Scheduler) RunOnce(ctx context.Context) int {
	end := s.analyzer.now()
	start := end.Add(-s.window)

	cached := 0
	for _, patientID := range s.lister.ActivePatients() {
		if ctx.Err() != nil {
			break
		}

		report, err := s.analyzer.Analyze(ctx, patientID, start, end)
		if err != nil {
			s.logger.Error("Pattern analysis failed", zap.String("patient_id", patientID), zap.Error(err))
			metrics.RecordPatternReport("error")
			continue
		}
		if report == nil {
			metrics.RecordPatternReport("empty")
			continue
		}

		if err := s.store(ctx, report); err != nil {
			s.logger.Warn("Failed to cache pattern report", zap.String("patient_id", patientID), zap.Error(err))
			metrics.RecordPatternReport("error")
			continue
		}
		metrics.RecordPatternReport("cached")
		cached++

		if rf, ok := report.HasRisk(models.RiskSustainedElevation); ok {
			s.logger.Warn("Sustained blood pressure elevation detected",
				zap.String("patient_id", patientID),
				zap.String("recommendation", rf.Recommendation),
			)
		}
	}

	s.logger.Debug("Pattern analysis run finished", zap.Int("cached", cached))
	return cached
}

func (s *Scheduler) store(ctx context.Context, report *models.PatternReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern report: %w", err)
	}
	return s.kv.Set(ctx, s.key(report.PatientID), string(data), s.ttl)
}

// CachedReport 读取最近一次定时分析的报告，没有缓存时返回 nil
func (s *Scheduler) CachedReport(ctx context.Context, patientID string) (*models.PatternReport, error) {
	raw, err := s.kv.Get(ctx, s.key(patientID))
	if err != nil {
		if errors.Is(err, rediscommon.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached pattern report: %w", err)
	}

	var report models.PatternReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached pattern report: %w", err)
	}
	return &report, nil
}

func (s *Scheduler) key(patientID string) string {
	return s.prefix + patientID
}
