// Package feed 设备生命体征数据流
//
// 每个 Feed 实例只对应一个患者的一台设备。数据流结束返回 models.ErrFeedEnded，
// 连接丢失返回包装了 models.ErrFeedLost 的错误；单条样本无法解析时返回包装了
// models.ErrMalformedSample 的错误，调用方可以继续读取下一条。
package feed

import (
	"context"

	"wisefido-vitals/internal/models"
)

// Feed 设备数据流
type Feed interface {
	// Next 阻塞直到下一条样本到达、数据流结束或 ctx 取消
	Next(ctx context.Context) (*models.Sample, error)
	// Ack 确认样本已处理完成（持久化和报警派发之后）
	Ack(ctx context.Context, sample *models.Sample) error
	Close() error
}

// Factory 按设备打开数据流
type Factory interface {
	Open(ctx context.Context, patientID, deviceID string) (Feed, error)
}
