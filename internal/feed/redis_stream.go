package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisStreamFactory 基于 Redis Streams 的数据流工厂（每台设备一个 stream）
type RedisStreamFactory struct {
	client        *redis.Client
	streamPrefix  string
	consumerGroup string
	consumerName  string
	block         time.Duration
	logger        *zap.Logger
}

// NewRedisStreamFactory 创建 Redis Streams 数据流工厂
func NewRedisStreamFactory(
	client *redis.Client,
	streamPrefix, consumerGroup, consumerName string,
	block time.Duration,
	logger *zap.Logger,
) *RedisStreamFactory {
	return &RedisStreamFactory{
		client:        client,
		streamPrefix:  streamPrefix,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		block:         block,
		logger:        logger,
	}
}

// StreamName 设备数据流名称
func (f *RedisStreamFactory) StreamName(deviceID string) string {
	return f.streamPrefix + deviceID
}

// Open 打开设备数据流（创建消费者组）
func (f *RedisStreamFactory) Open(ctx context.Context, patientID, deviceID string) (Feed, error) {
	stream := f.StreamName(deviceID)
	if err := rediscommon.CreateConsumerGroup(ctx, f.client, stream, f.consumerGroup); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFeedLost, err)
	}

	f.logger.Info("Device stream opened",
		zap.String("patient_id", patientID),
		zap.String("device_id", deviceID),
		zap.String("stream", stream),
	)

	return &RedisStreamFeed{
		client:   f.client,
		stream:   stream,
		group:    f.consumerGroup,
		consumer: f.consumerName,
		deviceID: deviceID,
		block:    f.block,
		logger:   f.logger.With(zap.String("patient_id", patientID), zap.String("stream", stream)),
	}, nil
}

// RedisStreamFeed 单台设备的 Redis Streams 数据流
type RedisStreamFeed struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	deviceID string
	block    time.Duration
	pending  []rediscommon.StreamMessage
	logger   *zap.Logger
}

// Next 读取下一条样本
func (f *RedisStreamFeed) Next(ctx context.Context) (*models.Sample, error) {
	for len(f.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		messages, err := rediscommon.ReadFromStream(ctx, f.client, f.stream, f.group, f.consumer, 10, f.block)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: failed to read from stream %s: %v", models.ErrFeedLost, f.stream, err)
		}
		f.pending = messages
	}

	msg := f.pending[0]
	f.pending = f.pending[1:]

	sample, err := f.decode(msg)
	if err != nil {
		// 无法处理的消息直接确认，避免重复投递
		if ackErr := rediscommon.AckMessage(ctx, f.client, f.stream, f.group, msg.ID); ackErr != nil {
			f.logger.Warn("Failed to ack message", zap.String("message_id", msg.ID), zap.Error(ackErr))
		}
		return nil, err
	}
	sample.Cursor = msg.ID
	return sample, nil
}

func (f *RedisStreamFeed) decode(msg rediscommon.StreamMessage) (*models.Sample, error) {
	if isTrue(rediscommon.StringValue(msg.Values, "end_of_stream")) {
		return nil, models.ErrFeedEnded
	}

	data := rediscommon.StringValue(msg.Values, "data")
	if data == "" {
		return nil, fmt.Errorf("%w: message %s has no data field", models.ErrMalformedSample, msg.ID)
	}
	sample, err := ParseSample([]byte(data))
	if err != nil {
		return nil, err
	}
	if sample.DeviceID == "" {
		sample.DeviceID = f.deviceID
	}
	return sample, nil
}

// Ack 确认消息
func (f *RedisStreamFeed) Ack(ctx context.Context, sample *models.Sample) error {
	if sample == nil || sample.Cursor == "" {
		return nil
	}
	return rediscommon.AckMessage(ctx, f.client, f.stream, f.group, sample.Cursor)
}

// Close 释放本地缓冲（共享的 redis 客户端由服务关闭）
func (f *RedisStreamFeed) Close() error {
	f.pending = nil
	return nil
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
