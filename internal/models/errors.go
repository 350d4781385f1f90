package models

import "errors"

var (
	// ErrFeedEnded 设备数据流正常结束（终止会话）
	ErrFeedEnded = errors.New("device feed ended")
	// ErrFeedLost 设备连接丢失或超过存活窗口无数据（终止会话）
	ErrFeedLost = errors.New("device feed lost")
	// ErrMalformedSample 单条样本无法解析（跳过该样本，会话继续）
	ErrMalformedSample = errors.New("malformed vitals sample")

	// ErrStore 单条读数持久化失败
	ErrStore = errors.New("reading store failure")

	// ErrNotConfigured 没有任何可用的阈值配置（部署错误）
	ErrNotConfigured = errors.New("vitals thresholds not configured")
	// ErrInvalidThreshold 阈值范围不合法（min > max）
	ErrInvalidThreshold = errors.New("invalid threshold range")

	// ErrDispatch 通知渠道投递失败
	ErrDispatch = errors.New("alert dispatch failure")

	ErrSessionExists   = errors.New("monitoring session already active for patient")
	ErrSessionNotFound = errors.New("monitoring session not found")
)

// IsFeedError 判断是否为会话级别的数据流错误
func IsFeedError(err error) bool {
	return errors.Is(err, ErrFeedEnded) || errors.Is(err, ErrFeedLost)
}
