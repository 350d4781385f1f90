package threshold

import (
	"context"
	"fmt"
	"strings"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Store 个性化阈值存储
type Store interface {
	// GetOverride 获取患者个性化阈值，不存在时返回 (nil, nil)
	GetOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error)
}

// ConditionSource 患者病症来源
type ConditionSource interface {
	// GetCondition 获取患者记录的病症，未记录时返回空字符串
	GetCondition(ctx context.Context, patientID string) (string, error)
}

// AlertPolicy 默认阈值使用的报警投递设置
type AlertPolicy struct {
	Frequency  int
	Methods    []string
	Recipients []string
}

// Resolver 阈值解析器
// 优先级：1) 患者个性化阈值，2) 按病症的默认阈值，3) normal 默认阈值
type Resolver struct {
	overrides  Store
	conditions ConditionSource
	table      map[string]models.ThresholdSet
	policy     AlertPolicy
	logger     *zap.Logger
}

// NewResolver 使用内置病症表创建解析器
func NewResolver(overrides Store, conditions ConditionSource, policy AlertPolicy, logger *zap.Logger) *Resolver {
	return NewResolverWithTable(overrides, conditions, DefaultTable(), policy, logger)
}

// NewResolverWithTable 使用自定义病症表创建解析器
func NewResolverWithTable(overrides Store, conditions ConditionSource, table map[string]models.ThresholdSet, policy AlertPolicy, logger *zap.Logger) *Resolver {
	return &Resolver{
		overrides:  overrides,
		conditions: conditions,
		table:      table,
		policy:     policy,
		logger:     logger,
	}
}

// Resolve 返回患者当前生效的阈值配置
func (r *Resolver) Resolve(ctx context.Context, patientID string) (*models.ThresholdSet, error) {
	if r.overrides != nil {
		override, err := r.overrides.GetOverride(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("failed to get threshold override for %s: %w", patientID, err)
		}
		if override != nil {
			set := override.Clone()
			set.PatientID = patientID
			return set, nil
		}
	}

	condition := ConditionNormal
	if r.conditions != nil {
		c, err := r.conditions.GetCondition(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("failed to get condition for %s: %w", patientID, err)
		}
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			condition = c
		}
	}

	def, ok := r.table[condition]
	if !ok {
		r.logger.Debug("Unknown condition, using normal thresholds",
			zap.String("patient_id", patientID),
			zap.String("condition", condition),
		)
		def, ok = r.table[ConditionNormal]
	}
	if !ok {
		return nil, models.ErrNotConfigured
	}

	set := def.Clone()
	set.PatientID = patientID
	if set.AlertFrequency == 0 {
		set.AlertFrequency = r.policy.Frequency
	}
	if len(set.AlertMethods) == 0 {
		set.AlertMethods = append([]string(nil), r.policy.Methods...)
	}
	if len(set.AlertRecipients) == 0 {
		set.AlertRecipients = append([]string(nil), r.policy.Recipients...)
	}
	return set, nil
}
