package feed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqttcommon "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
	IsConnected() bool
}

// connectionCheckInterval 连接状态检查间隔
const connectionCheckInterval = time.Second

// MQTTFactory 基于 MQTT 的数据流工厂（每台设备一个主题）
type MQTTFactory struct {
	subscriber   Subscriber
	topicPattern string // 如 "vitals/%s/data"
	qos          byte
	bufferSize   int
	logger       *zap.Logger
}

// NewMQTTFactory 创建 MQTT 数据流工厂
func NewMQTTFactory(subscriber Subscriber, topicPattern string, qos byte, bufferSize int, logger *zap.Logger) *MQTTFactory {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &MQTTFactory{
		subscriber:   subscriber,
		topicPattern: topicPattern,
		qos:          qos,
		bufferSize:   bufferSize,
		logger:       logger,
	}
}

// Topic 设备数据主题
func (f *MQTTFactory) Topic(deviceID string) string {
	return fmt.Sprintf(f.topicPattern, deviceID)
}

// Open 订阅设备主题
func (f *MQTTFactory) Open(ctx context.Context, patientID, deviceID string) (Feed, error) {
	if !f.subscriber.IsConnected() {
		return nil, fmt.Errorf("%w: MQTT client not connected", models.ErrFeedLost)
	}

	feed := &MQTTFeed{
		subscriber: f.subscriber,
		topic:      f.Topic(deviceID),
		deviceID:   deviceID,
		messages:   make(chan []byte, f.bufferSize),
		closed:     make(chan struct{}),
		logger:     f.logger.With(zap.String("patient_id", patientID), zap.String("device_id", deviceID)),
	}

	if err := f.subscriber.Subscribe(feed.topic, f.qos, feed.handle); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFeedLost, err)
	}

	f.logger.Info("Device topic subscribed",
		zap.String("patient_id", patientID),
		zap.String("topic", feed.topic),
	)
	return feed, nil
}

// MQTTFeed 单台设备的 MQTT 数据流
type MQTTFeed struct {
	subscriber Subscriber
	topic      string
	deviceID   string
	messages   chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	seq        uint64
	logger     *zap.Logger
}

// handle MQTT 回调（在 paho 的 goroutine 中执行，不能阻塞）
func (f *MQTTFeed) handle(topic string, payload []byte) error {
	select {
	case <-f.closed:
		return nil
	default:
	}

	msg := make([]byte, len(payload))
	copy(msg, payload)

	select {
	case f.messages <- msg:
		return nil
	default:
		return fmt.Errorf("feed buffer full, sample dropped (capacity %d)", cap(f.messages))
	}
}

// Next 读取下一条样本
func (f *MQTTFeed) Next(ctx context.Context) (*models.Sample, error) {
	ticker := time.NewTicker(connectionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.closed:
			return nil, models.ErrFeedEnded
		case payload := <-f.messages:
			f.seq++
			sample, err := ParseSample(payload)
			if err != nil {
				return nil, err
			}
			if sample.DeviceID == "" {
				sample.DeviceID = f.deviceID
			}
			sample.Cursor = strconv.FormatUint(f.seq, 10)
			return sample, nil
		case <-ticker.C:
			if !f.subscriber.IsConnected() {
				return nil, fmt.Errorf("%w: MQTT connection lost on %s", models.ErrFeedLost, f.topic)
			}
		}
	}
}

// Ack MQTT 没有消费确认
func (f *MQTTFeed) Ack(ctx context.Context, sample *models.Sample) error {
	return nil
}

// Close 取消订阅
func (f *MQTTFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closed)
		err = f.subscriber.Unsubscribe(f.topic)
	})
	return err
}
