package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
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

type fakeNotifier struct {
	mu     sync.Mutex
	name   string
	err    error
	events []*models.AlertEvent
}

func (f *fakeNotifier) Type() string { return f.name }

func (f *fakeNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func abnormalReading(patientID string, ts time.Time, sev models.Severity) *models.VitalsReading {
	return &models.VitalsReading{
		ID:        "r-" + ts.Format("150405"),
		PatientID: patientID,
		DeviceID:  "dev-1",
		Timestamp: ts,
		Measurement: models.Measurement{
			Systolic:  170,
			Diastolic: 85,
		},
		Alert: models.AlertAnnotation{
			Generated: true,
			Severity:  sev,
			Exceeded:  []models.ThresholdKind{models.HighSystolic},
		},
	}
}

func thresholds(freq int, methods ...string) *models.ThresholdSet {
	return &models.ThresholdSet{
		Systolic:        models.Range{Min: 90, Max: 140},
		Diastolic:       models.Range{Min: 60, Max: 90},
		HeartRate:       models.Range{Min: 60, Max: 100},
		AlertFrequency:  freq,
		AlertMethods:    methods,
		AlertRecipients: []string{"nurse-1"},
	}
}

func TestDispatch_RateLimit(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	out, err := d.Dispatch(ctx, abnormalReading("p1", base, models.SeverityModerate), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, out)

	// 严重程度更高也不能绕过限流
	out, err = d.Dispatch(ctx, abnormalReading("p1", base.Add(10*time.Minute), models.SeverityCritical), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuppressedRateLimited, out)

	// 其他患者不受影响
	out, err = d.Dispatch(ctx, abnormalReading("p2", base.Add(10*time.Minute), models.SeverityHigh), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, out)

	out, err = d.Dispatch(ctx, abnormalReading("p1", base.Add(15*time.Minute), models.SeverityHigh), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, out)

	assert.Equal(t, 3, n.count())
	last, ok := d.LastAlert("p1")
	require.True(t, ok)
	assert.Equal(t, base.Add(15*time.Minute), last)
}

func TestDispatch_FutureTimestampClampedToNow(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	// 设备时钟超前一天
	out, err := d.Dispatch(ctx, abnormalReading("p1", now.Add(24*time.Hour), models.SeverityHigh), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, out)
	last, ok := d.LastAlert("p1")
	require.True(t, ok)
	assert.Equal(t, now, last)

	now = now.Add(20 * time.Minute)
	out, err = d.Dispatch(ctx, abnormalReading("p1", now, models.SeverityCritical), thresholds(15))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSent, out)
	assert.Equal(t, 2, n.count())
}

func TestDispatch_ClockRollbackNotSuppressed(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	out, _ := d.Dispatch(ctx, abnormalReading("p1", base, models.SeverityHigh), thresholds(15))
	assert.Equal(t, models.OutcomeSent, out)

	out, _ = d.Dispatch(ctx, abnormalReading("p1", base.Add(-6*time.Hour), models.SeverityCritical), thresholds(15))
	assert.Equal(t, models.OutcomeSent, out)

	// 限流从回拨后的时间重新计算
	out, _ = d.Dispatch(ctx, abnormalReading("p1", base.Add(-6*time.Hour+5*time.Minute), models.SeverityCritical), thresholds(15))
	assert.Equal(t, models.OutcomeSuppressedRateLimited, out)
	assert.Equal(t, 2, n.count())
}

func TestDispatch_ZeroFrequencyDisablesThrottling(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		out, err := d.Dispatch(context.Background(), abnormalReading("p1", ts, models.SeverityHigh), thresholds(0))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeSent, out)
	}
	assert.Equal(t, 3, n.count())
}

func TestDispatch_ChannelFailureKeepsTimestamp(t *testing.T) {
	failing := &fakeNotifier{name: "webhook", err: errors.New("connection refused")}
	ok := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), failing, ok)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	out, err := d.Dispatch(ctx, abnormalReading("p1", ts, models.SeverityCritical), thresholds(15))
	assert.Equal(t, models.OutcomeSent, out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDispatch))
	assert.Equal(t, 1, ok.count())

	out, _ = d.Dispatch(ctx, abnormalReading("p1", ts.Add(time.Minute), models.SeverityCritical), thresholds(15))
	assert.Equal(t, models.OutcomeSuppressedRateLimited, out)
}

func TestDispatch_SelectsChannels(t *testing.T) {
	stream := &fakeNotifier{name: "stream"}
	webhook := &fakeNotifier{name: "webhook"}
	d := NewDispatcher(zap.NewNop(), stream, webhook)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := d.Dispatch(context.Background(), abnormalReading("p1", ts, models.SeverityHigh), thresholds(0, "webhook", "sms"))
	require.NoError(t, err)
	assert.Equal(t, 0, stream.count())
	assert.Equal(t, 1, webhook.count())

	// 未指定渠道时发送到全部渠道
	_, err = d.Dispatch(context.Background(), abnormalReading("p2", ts, models.SeverityHigh), thresholds(0))
	require.NoError(t, err)
	assert.Equal(t, 1, stream.count())
	assert.Equal(t, 2, webhook.count())
	assert.Equal(t, []string{"stream", "webhook"}, d.Channels())
}

func TestDispatch_EventContent(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := d.Dispatch(context.Background(), abnormalReading("p1", ts, models.SeverityCritical), thresholds(15))
	require.NoError(t, err)
	require.Equal(t, 1, n.count())

	ev := n.events[0]
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "p1", ev.PatientID)
	assert.Equal(t, models.SeverityCritical, ev.Severity)
	assert.Equal(t, []models.ThresholdKind{models.HighSystolic}, ev.Exceeded)
	assert.Equal(t, []string{"nurse-1"}, ev.Recipients)
	assert.NotEmpty(t, ev.SuggestedAction)
}

func TestDispatch_Forget(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), &fakeNotifier{name: "stream"})
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_, _ = d.Dispatch(context.Background(), abnormalReading("p1", ts, models.SeverityHigh), thresholds(15))
	d.Forget("p1")
	_, ok := d.LastAlert("p1")
	assert.False(t, ok)

	out, _ := d.Dispatch(context.Background(), abnormalReading("p1", ts.Add(time.Minute), models.SeverityHigh), thresholds(15))
	assert.Equal(t, models.OutcomeSent, out)
}

func TestDispatch_ConcurrentSamePatient(t *testing.T) {
	n := &fakeNotifier{name: "stream"}
	d := NewDispatcher(zap.NewNop(), n)
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := d.Dispatch(context.Background(), abnormalReading("p1", ts, models.SeverityHigh), thresholds(15))
			if out == models.OutcomeSent {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sent)
}

func TestStreamNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	n := NewStreamNotifier(client, "vitals:alerts")
	require.NoError(t, n.Notify(ctx, &models.AlertEvent{EventID: "e1", PatientID: "p1", Severity: models.SeverityHigh}))

	msgs, err := client.XRange(ctx, "vitals:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var ev models.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(rediscommon.StringValue(msgs[0].Values, "data")), &ev))
	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, models.SeverityHigh, ev.Severity)
}

func TestWebhookNotifier(t *testing.T) {
	var got models.AlertEvent
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Alert-Event-ID")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), &models.AlertEvent{EventID: "e1", PatientID: "p1"}))
	assert.Equal(t, "e1", header)
	assert.Equal(t, "p1", got.PatientID)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second, zap.NewNop())
	err := n.Notify(context.Background(), &models.AlertEvent{EventID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

type fakePublisher struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topic = topic
	f.payload = payload
	return nil
}

func TestMQTTNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "vitals", 1)

	require.NoError(t, n.Notify(context.Background(), &models.AlertEvent{EventID: "e1", PatientID: "p1"}))
	assert.Equal(t, "vitals/p1/alerts", pub.topic)
	assert.Contains(t, string(pub.payload), `"event_id":"e1"`)
}
