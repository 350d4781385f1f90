package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/threshold"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 控制指令
const (
	ActionStart           = "start"
	ActionStop            = "stop"
	ActionSetThresholds   = "set_thresholds"
	ActionClearThresholds = "clear_thresholds"
)

// SessionController 监测会话控制
type SessionController interface {
	Start(ctx context.Context, patientID, deviceID string) error
	Stop(patientID string) error
}

// ControlConsumer 会话控制流消费者（vitals:sessions）
// 指令格式：{action, patient_id, device_id, thresholds}
type ControlConsumer struct {
	redisClient *redis.Client
	stream      string
	group       string
	consumer    string
	block       time.Duration
	sessions    SessionController
	thresholds  threshold.OverrideWriter
	logger      *zap.Logger
}

// NewControlConsumer 创建控制流消费者
// thresholds 为空时忽略阈值指令
func NewControlConsumer(
	redisClient *redis.Client,
	stream string,
	group string,
	consumer string,
	block time.Duration,
	sessions SessionController,
	thresholds threshold.OverrideWriter,
	logger *zap.Logger,
) *ControlConsumer {
	return &ControlConsumer{
		redisClient: redisClient,
		stream:      stream,
		group:       group,
		consumer:    consumer,
		block:       block,
		sessions:    sessions,
		thresholds:  thresholds,
		logger:      logger,
	}
}

// Start 启动消费循环，ctx 取消时返回
func (c *ControlConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", c.stream, err)
	}

	c.logger.Info("Session control consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.group),
		zap.String("consumer_name", c.consumer),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		if ctx.Err() != nil {
			c.logger.Info("Session control consumer stopped")
			return nil
		}

		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to consume session control stream",
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			// 指数退避
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

// consume 读取一批指令；指令失败只记录日志，不重试
func (c *ControlConsumer) consume(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.group, c.consumer, 10, c.block)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.stream, err)
	}

	for _, msg := range messages {
		if err := c.handleCommand(ctx, msg.Values); err != nil {
			c.logger.Warn("Session control command failed",
				zap.String("message_id", msg.ID),
				zap.String("action", rediscommon.StringValue(msg.Values, "action")),
				zap.String("patient_id", rediscommon.StringValue(msg.Values, "patient_id")),
				zap.Error(err),
			)
		}
		if err := rediscommon.AckMessage(ctx, c.redisClient, c.stream, c.group, msg.ID); err != nil {
			c.logger.Error("Failed to ack control message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// handleCommand 执行一条控制指令
func (c *ControlConsumer) handleCommand(ctx context.Context, values map[string]interface{}) error {
	action := rediscommon.StringValue(values, "action")
	patientID := rediscommon.StringValue(values, "patient_id")
	if patientID == "" {
		return fmt.Errorf("missing patient_id for action %q", action)
	}

	switch action {
	case ActionStart:
		deviceID := rediscommon.StringValue(values, "device_id")
		if err := c.sessions.Start(ctx, patientID, deviceID); err != nil {
			return err
		}

	case ActionStop:
		err := c.sessions.Stop(patientID)
		if errors.Is(err, models.ErrSessionNotFound) {
			c.logger.Debug("Stop requested for idle patient", zap.String("patient_id", patientID))
			return nil
		}
		if err != nil {
			return err
		}

	case ActionSetThresholds:
		if c.thresholds == nil {
			return fmt.Errorf("threshold updates are disabled")
		}
		var set models.ThresholdSet
		if err := json.Unmarshal([]byte(rediscommon.StringValue(values, "thresholds")), &set); err != nil {
			return fmt.Errorf("%w: failed to unmarshal thresholds: %v", models.ErrInvalidThreshold, err)
		}
		set.PatientID = patientID
		if err := c.thresholds.SaveOverride(ctx, &set); err != nil {
			return err
		}

	case ActionClearThresholds:
		if c.thresholds == nil {
			return fmt.Errorf("threshold updates are disabled")
		}
		if err := c.thresholds.DeleteOverride(ctx, patientID); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown action %q", action)
	}

	c.logger.Info("Session control command applied",
		zap.String("action", action),
		zap.String("patient_id", patientID),
	)
	return nil
}
