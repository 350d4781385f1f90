package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/internal/evaluator"
	"wisefido-vitals/internal/metrics"
	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier 报警通知渠道
type Notifier interface {
	// Type 渠道名称，对应 ThresholdSet.AlertMethods 中的取值
	Type() string
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// Dispatcher 报警派发器
// 职责：
// 1. 按患者限流（AlertFrequency 分钟内只发送一次，严重程度不能绕过）
// 2. 构建 AlertEvent 并交给通知渠道
// 3. 渠道失败只记录日志，不回滚限流时间
type Dispatcher struct {
	mu        sync.Mutex
	lastAlert map[string]time.Time // patient_id -> 最近一次发送时间

	notifiers map[string]Notifier
	order     []string
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatcher 创建报警派发器
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		lastAlert: make(map[string]time.Time),
		notifiers: make(map[string]Notifier, len(notifiers)),
		now:       time.Now,
		logger:    logger,
	}
	for _, n := range notifiers {
		if _, dup := d.notifiers[n.Type()]; dup {
			continue
		}
		d.notifiers[n.Type()] = n
		d.order = append(d.order, n.Type())
	}
	return d
}

// Dispatch 派发一条异常读数的报警
// 严重程度和超出项取自读数的报警标注
func (d *Dispatcher) Dispatch(ctx context.Context, reading *models.VitalsReading, thresholds *models.ThresholdSet) (models.DispatchOutcome, error) {
	// 设备时钟超前时按服务器时间计
	now := d.now()
	at := reading.Timestamp
	if at.IsZero() || at.After(now) {
		at = now
	}

	if !d.reserve(reading.PatientID, at, thresholds.AlertFrequency) {
		d.logger.Info("Alert suppressed by rate limit",
			zap.String("patient_id", reading.PatientID),
			zap.String("reading_id", reading.ID),
			zap.String("severity", reading.Alert.Severity.String()),
			zap.Int("alert_frequency_min", thresholds.AlertFrequency),
		)
		metrics.RecordAlert(string(models.OutcomeSuppressedRateLimited))
		return models.OutcomeSuppressedRateLimited, nil
	}
	metrics.RecordAlert(string(models.OutcomeSent))

	event := &models.AlertEvent{
		EventID:         uuid.New().String(),
		PatientID:       reading.PatientID,
		Reading:         *reading,
		Severity:        reading.Alert.Severity,
		Exceeded:        reading.Alert.Exceeded,
		SuggestedAction: evaluator.SuggestedAction(reading.Alert.Severity, reading.Alert.Exceeded),
		Recipients:      thresholds.AlertRecipients,
		CreatedAt:       now,
	}

	var errs []error
	for _, n := range d.selectChannels(thresholds.AlertMethods) {
		if err := n.Notify(ctx, event); err != nil {
			d.logger.Error("Failed to deliver alert",
				zap.String("patient_id", event.PatientID),
				zap.String("event_id", event.EventID),
				zap.String("channel", n.Type()),
				zap.Error(err),
			)
			metrics.RecordDispatchError(n.Type())
			errs = append(errs, fmt.Errorf("%w: %s: %v", models.ErrDispatch, n.Type(), err))
		}
	}

	d.logger.Info("Alert dispatched",
		zap.String("patient_id", event.PatientID),
		zap.String("event_id", event.EventID),
		zap.String("severity", event.Severity.String()),
		zap.Int("failed_channels", len(errs)),
	)

	return models.OutcomeSent, errors.Join(errs...)
}

// reserve 检查并记录患者的报警时间（同一患者的检查与写入是原子的）
// 早于上次报警的时间戳（设备时钟回拨）不限流
func (d *Dispatcher) reserve(patientID string, at time.Time, frequencyMin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastAlert[patientID]; ok && frequencyMin > 0 {
		if since := at.Sub(last); since >= 0 && since < time.Duration(frequencyMin)*time.Minute {
			return false
		}
	}
	d.lastAlert[patientID] = at
	return true
}

func (d *Dispatcher) selectChannels(methods []string) []Notifier {
	if len(methods) == 0 {
		out := make([]Notifier, 0, len(d.order))
		for _, t := range d.order {
			out = append(out, d.notifiers[t])
		}
		return out
	}

	out := make([]Notifier, 0, len(methods))
	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		if seen[m] {
			continue
		}
		seen[m] = true
		n, ok := d.notifiers[m]
		if !ok {
			d.logger.Warn("Unknown alert method, skipped", zap.String("method", m))
			continue
		}
		out = append(out, n)
	}
	return out
}

// Forget 释放患者的限流状态（会话结束时调用）
func (d *Dispatcher) Forget(patientID string) {
	d.mu.Lock()
	delete(d.lastAlert, patientID)
	d.mu.Unlock()
}

// LastAlert 患者最近一次报警时间
func (d *Dispatcher) LastAlert(patientID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.lastAlert[patientID]
	return t, ok
}

// Channels 已注册的通知渠道
func (d *Dispatcher) Channels() []string {
	return append([]string(nil), d.order...)
}
