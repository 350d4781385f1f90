package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 渠道名称
const (
	ChannelStream  = "stream"
	ChannelWebhook = "webhook"
	ChannelMQTT    = "mqtt"
)

// StreamNotifier 将报警写入 Redis Streams，供下游通知服务消费
type StreamNotifier struct {
	client *redis.Client
	stream string
}

// NewStreamNotifier 创建 Redis Streams 通知渠道
func NewStreamNotifier(client *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{client: client, stream: stream}
}

func (n *StreamNotifier) Type() string { return ChannelStream }

// Notify 发布报警事件（字段 data + timestamp）
func (n *StreamNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, n.client, n.stream, event); err != nil {
		return fmt.Errorf("failed to publish alert to stream %s: %w", n.stream, err)
	}
	return nil
}

// WebhookNotifier 通过 HTTP POST 推送报警
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知渠道
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

func (n *WebhookNotifier) Type() string { return ChannelWebhook }

// Notify 推送报警事件，非 2xx 视为失败
func (n *WebhookNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Alert-Event-ID", event.EventID).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alert delivered to webhook",
		zap.String("event_id", event.EventID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

// Publisher MQTT 发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTNotifier 将报警发布到 MQTT 主题 <prefix>/<patient_id>/alerts
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	qos         byte
}

// NewMQTTNotifier 创建 MQTT 通知渠道
func NewMQTTNotifier(publisher Publisher, topicPrefix string, qos byte) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: topicPrefix,
		qos:         qos,
	}
}

func (n *MQTTNotifier) Type() string { return ChannelMQTT }

// Topic 患者报警主题
func (n *MQTTNotifier) Topic(patientID string) string {
	return fmt.Sprintf("%s/%s/alerts", n.topicPrefix, patientID)
}

// Notify 发布报警事件
func (n *MQTTNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return n.publisher.Publish(n.Topic(event.PatientID), n.qos, false, payload)
}
