package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wisefido-vitals/internal/models"
)

// MemoryReadingStore 内存读数存储（单机部署和测试使用）
type MemoryReadingStore struct {
	mu       sync.RWMutex
	readings map[string][]models.VitalsReading // patient_id -> 按 timestamp 升序
}

// NewMemoryReadingStore 创建内存读数存储
func NewMemoryReadingStore() *MemoryReadingStore {
	return &MemoryReadingStore{readings: make(map[string][]models.VitalsReading)}
}

// Append 按时间顺序插入（同一时间戳保持到达顺序）
func (m *MemoryReadingStore) Append(ctx context.Context, reading *models.VitalsReading) error {
	if reading == nil || reading.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", models.ErrStore)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.readings[reading.PatientID]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(reading.Timestamp)
	})
	list = append(list, models.VitalsReading{})
	copy(list[i+1:], list[i:])
	list[i] = *reading
	m.readings[reading.PatientID] = list
	return nil
}

// Query 查询 [start, end] 内的读数
func (m *MemoryReadingStore) Query(ctx context.Context, patientID string, start, end time.Time) ([]models.VitalsReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.readings[patientID]
	lo := sort.Search(len(list), func(i int) bool {
		return !list[i].Timestamp.Before(start)
	})

	var out []models.VitalsReading
	for i := lo; i < len(list) && !list[i].Timestamp.After(end); i++ {
		out = append(out, list[i])
	}
	return out, nil
}

// Count 患者读数总数
func (m *MemoryReadingStore) Count(patientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings[patientID])
}
