package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	mu       sync.Mutex
	started  map[string]string
	stopped  []string
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{started: make(map[string]string)}
}

func (f *fakeController) Start(ctx context.Context, patientID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if _, ok := f.started[patientID]; ok {
		return models.ErrSessionExists
	}
	f.started[patientID] = deviceID
	return nil
}

func (f *fakeController) Stop(patientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.started[patientID]; !ok {
		return models.ErrSessionNotFound
	}
	delete(f.started, patientID)
	f.stopped = append(f.stopped, patientID)
	return nil
}

func (f *fakeController) device(patientID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.started[patientID]
	return d, ok
}

type fakeThresholdWriter struct {
	saved   map[string]models.ThresholdSet
	deleted []string
}

func newFakeThresholdWriter() *fakeThresholdWriter {
	return &fakeThresholdWriter{saved: make(map[string]models.ThresholdSet)}
}

func (f *fakeThresholdWriter) SaveOverride(ctx context.Context, set *models.ThresholdSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	f.saved[set.PatientID] = *set
	return nil
}

func (f *fakeThresholdWriter) DeleteOverride(ctx context.Context, patientID string) error {
	f.deleted = append(f.deleted, patientID)
	return nil
}

func newTestConsumer(client *redis.Client, ctrl *fakeController, writer *fakeThresholdWriter) *ControlConsumer {
	return NewControlConsumer(client, "vitals:sessions", "vitals-session-group", "test", 20*time.Millisecond, ctrl, writer, zap.NewNop())
}

// ============================================
// handleCommand
// ============================================

func TestHandleCommand_StartStop(t *testing.T) {
	ctrl := newFakeController()
	c := newTestConsumer(nil, ctrl, newFakeThresholdWriter())
	ctx := context.Background()

	require.NoError(t, c.handleCommand(ctx, map[string]interface{}{"action": "start", "patient_id": "p1", "device_id": "dev-1"}))
	d, ok := ctrl.device("p1")
	require.True(t, ok)
	assert.Equal(t, "dev-1", d)

	err := c.handleCommand(ctx, map[string]interface{}{"action": "start", "patient_id": "p1", "device_id": "dev-1"})
	assert.True(t, errors.Is(err, models.ErrSessionExists))

	require.NoError(t, c.handleCommand(ctx, map[string]interface{}{"action": "stop", "patient_id": "p1"}))
	// 停止空闲患者不算错误
	require.NoError(t, c.handleCommand(ctx, map[string]interface{}{"action": "stop", "patient_id": "p1"}))
	assert.Equal(t, []string{"p1"}, ctrl.stopped)
}

func TestHandleCommand_Invalid(t *testing.T) {
	c := newTestConsumer(nil, newFakeController(), newFakeThresholdWriter())
	ctx := context.Background()

	assert.Error(t, c.handleCommand(ctx, map[string]interface{}{"action": "start"}))
	assert.Error(t, c.handleCommand(ctx, map[string]interface{}{"action": "pause", "patient_id": "p1"}))
}

func TestHandleCommand_Thresholds(t *testing.T) {
	writer := newFakeThresholdWriter()
	c := newTestConsumer(nil, newFakeController(), writer)
	ctx := context.Background()

	err := c.handleCommand(ctx, map[string]interface{}{
		"action":     "set_thresholds",
		"patient_id": "p1",
		"thresholds": `{"condition":"hypertension","systolic":{"min":90,"max":150},"diastolic":{"min":60,"max":95},"heart_rate":{"min":50,"max":110},"alert_frequency":30,"alert_methods":["webhook"]}`,
	})
	require.NoError(t, err)
	set := writer.saved["p1"]
	assert.Equal(t, "p1", set.PatientID)
	assert.Equal(t, models.Range{Min: 90, Max: 150}, set.Systolic)
	assert.Equal(t, 30, set.AlertFrequency)
	assert.Equal(t, []string{"webhook"}, set.AlertMethods)

	err = c.handleCommand(ctx, map[string]interface{}{"action": "set_thresholds", "patient_id": "p2", "thresholds": "{"})
	assert.True(t, errors.Is(err, models.ErrInvalidThreshold))

	err = c.handleCommand(ctx, map[string]interface{}{
		"action":     "set_thresholds",
		"patient_id": "p2",
		"thresholds": `{"systolic":{"min":150,"max":90}}`,
	})
	assert.True(t, errors.Is(err, models.ErrInvalidThreshold))

	// 缺少 heart_rate 时不能以 {0, 0} 保存
	err = c.handleCommand(ctx, map[string]interface{}{
		"action":     "set_thresholds",
		"patient_id": "p3",
		"thresholds": `{"systolic":{"min":90,"max":150},"diastolic":{"min":60,"max":95}}`,
	})
	assert.True(t, errors.Is(err, models.ErrInvalidThreshold))
	assert.NotContains(t, writer.saved, "p3")

	require.NoError(t, c.handleCommand(ctx, map[string]interface{}{"action": "clear_thresholds", "patient_id": "p1"}))
	assert.Equal(t, []string{"p1"}, writer.deleted)
}

func TestHandleCommand_ThresholdsDisabled(t *testing.T) {
	c := NewControlConsumer(nil, "s", "g", "c", time.Millisecond, newFakeController(), nil, zap.NewNop())

	assert.Error(t, c.handleCommand(context.Background(), map[string]interface{}{"action": "clear_thresholds", "patient_id": "p1"}))
}

// ============================================
// Start（miniredis）
// ============================================

func TestControlConsumer_ConsumesAndAcks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctrl := newFakeController()
	c := newTestConsumer(client, ctrl, newFakeThresholdWriter())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	_, err := rediscommon.PublishToStream(context.Background(), client, "vitals:sessions", map[string]interface{}{
		"action": "bogus", "patient_id": "p2",
	})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(context.Background(), client, "vitals:sessions", map[string]interface{}{
		"action": "start", "patient_id": "p1", "device_id": "dev-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := ctrl.device("p1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// 失败的指令同样被确认
	require.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "vitals:sessions", "vitals-session-group").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
