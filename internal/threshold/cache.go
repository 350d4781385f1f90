package threshold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// nullOverride 缓存中表示“该患者无个性化阈值”
const nullOverride = "null"

// OverrideWriter 可写的个性化阈值存储
type OverrideWriter interface {
	SaveOverride(ctx context.Context, set *models.ThresholdSet) error
	DeleteOverride(ctx context.Context, patientID string) error
}

// CachedStore 带 Redis 缓存的个性化阈值存储
type CachedStore struct {
	inner     Store
	kv        rediscommon.KV
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedStore 创建缓存阈值存储
func NewCachedStore(inner Store, kv rediscommon.KV, keyPrefix string, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		inner:     inner,
		kv:        kv,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *CachedStore) key(patientID string) string {
	return c.keyPrefix + patientID
}

// GetOverride 先读缓存，未命中时回源并写回缓存
func (c *CachedStore) GetOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error) {
	key := c.key(patientID)

	val, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		if val == nullOverride {
			return nil, nil
		}
		var set models.ThresholdSet
		if jerr := json.Unmarshal([]byte(val), &set); jerr == nil {
			return &set, nil
		}
		c.logger.Warn("Corrupt threshold cache entry, reloading",
			zap.String("patient_id", patientID),
			zap.String("key", key),
		)
	case errors.Is(err, rediscommon.ErrCacheMiss):
	default:
		c.logger.Warn("Threshold cache read failed, falling back to store",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}

	set, err := c.inner.GetOverride(ctx, patientID)
	if err != nil {
		return nil, err
	}

	payload := nullOverride
	if set != nil {
		data, jerr := json.Marshal(set)
		if jerr != nil {
			return nil, fmt.Errorf("failed to marshal threshold override: %w", jerr)
		}
		payload = string(data)
	}
	if serr := c.kv.Set(ctx, key, payload, c.ttl); serr != nil {
		c.logger.Warn("Failed to populate threshold cache",
			zap.String("patient_id", patientID),
			zap.Error(serr),
		)
	}
	return set, nil
}

// SaveOverride 写入个性化阈值并使缓存失效
func (c *CachedStore) SaveOverride(ctx context.Context, set *models.ThresholdSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	w, ok := c.inner.(OverrideWriter)
	if !ok {
		return fmt.Errorf("threshold store is read-only")
	}
	if err := w.SaveOverride(ctx, set); err != nil {
		return err
	}
	return c.Invalidate(ctx, set.PatientID)
}

// DeleteOverride 删除个性化阈值并使缓存失效
func (c *CachedStore) DeleteOverride(ctx context.Context, patientID string) error {
	w, ok := c.inner.(OverrideWriter)
	if !ok {
		return fmt.Errorf("threshold store is read-only")
	}
	if err := w.DeleteOverride(ctx, patientID); err != nil {
		return err
	}
	return c.Invalidate(ctx, patientID)
}

// Invalidate 清除患者的阈值缓存
func (c *CachedStore) Invalidate(ctx context.Context, patientID string) error {
	if err := c.kv.Del(ctx, c.key(patientID)); err != nil {
		return fmt.Errorf("failed to invalidate threshold cache: %w", err)
	}
	return nil
}
