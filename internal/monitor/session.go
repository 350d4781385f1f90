package monitor

import (
	"context"
	"sync"
	"time"

	"wisefido-vitals/internal/feed"
)

// State 会话状态
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// SessionInfo 会话快照
type SessionInfo struct {
	PatientID string    `json:"patient_id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Cursor    string    `json:"cursor,omitempty"` // 最后一条已处理样本在数据流中的位置
	Processed int64     `json:"processed"`        // 已持久化读数数量
	Failed    int64     `json:"failed"`           // 处理失败的读数数量
	Reason    string    `json:"reason,omitempty"` // 结束原因：stopped, ended, lost, liveness
	Err       string    `json:"error,omitempty"`  // 会话级错误

	LastAlertAt *time.Time `json:"last_alert_at,omitempty"` // 最近一次发送报警的时间（限流依据）
}

// session 单个患者的监测会话
type session struct {
	patientID string
	deviceID  string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	feed   feed.Feed

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stoppedAt time.Time
	cursor    string
	processed int64
	failed    int64
	reason    string
	err       error
}

func newSession(patientID, deviceID string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		patientID: patientID,
		deviceID:  deviceID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

func (s *session) setRunning(f feed.Feed, at time.Time) {
	s.mu.Lock()
	s.feed = f
	s.state = StateRunning
	s.startedAt = at
	s.mu.Unlock()
}

func (s *session) advance(cursor string) {
	s.mu.Lock()
	s.cursor = cursor
	s.processed++
	s.mu.Unlock()
}

func (s *session) fail() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *session) terminate(reason string, err error, at time.Time) {
	s.mu.Lock()
	s.state = StateStopped
	s.reason = reason
	s.err = err
	s.stoppedAt = at
	s.mu.Unlock()
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		PatientID: s.patientID,
		DeviceID:  s.deviceID,
		State:     s.state,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		Cursor:    s.cursor,
		Processed: s.processed,
		Failed:    s.failed,
		Reason:    s.reason,
	}
	if s.err != nil {
		info.Err = s.err.Error()
	}
	return info
}
