package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionLister 活动会话列表
type SessionLister interface {
	Sessions() []monitor.SessionInfo
}

// PatternSource 历史模式分析
type PatternSource interface {
	Analyze(ctx context.Context, patientID string, start, end time.Time) (*models.PatternReport, error)
	Trend(ctx context.Context, patientID string, start, end time.Time) (*models.TrendSummary, error)
}

// ReportCache 定时分析缓存的模式报告
type ReportCache interface {
	CachedReport(ctx context.Context, patientID string) (*models.PatternReport, error)
}

// Server 运维 HTTP 服务
//
//	GET /metrics
//	GET /healthz
//	GET /sessions
//	GET /patients/{id}/pattern?days=30  未指定 days 时优先返回缓存报告
//	GET /patients/{id}/trend?days=30
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer 创建运维 HTTP 服务
// cache 为空时每次实时分析
func NewServer(addr string, sessions SessionLister, patterns PatternSource, cache ReportCache, defaultDays int, logger *zap.Logger) *Server {
	h := &handler{sessions: sessions, patterns: patterns, cache: cache, defaultDays: defaultDays, now: time.Now, logger: logger}
	s := &http.Server{
		Addr:              addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{httpServer: s, logger: logger}
}

// Start 开始监听，Stop 之后返回 nil
func (s *Server) Start() error {
	s.logger.Info("Starting wisefido-vitals HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping wisefido-vitals HTTP server")
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	sessions    SessionLister
	patterns    PatternSource
	cache       ReportCache
	defaultDays int
	now         func() time.Time
	logger      *zap.Logger
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.sessions.Sessions())
	})
	mux.HandleFunc("GET /patients/{id}/pattern", h.handlePattern)
	mux.HandleFunc("GET /patients/{id}/trend", h.handleTrend)
	return mux
}

// window 解析 days 参数，返回 [now-days, now]
func (h *handler) window(r *http.Request) (time.Time, time.Time, bool) {
	days := h.defaultDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return time.Time{}, time.Time{}, false
		}
		days = v
	}
	end := h.now()
	return end.AddDate(0, 0, -days), end, true
}

func (h *handler) handlePattern(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	start, end, ok := h.window(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid days")
		return
	}

	if h.cache != nil && r.URL.Query().Get("days") == "" {
		cached, err := h.cache.CachedReport(r.Context(), patientID)
		if err != nil {
			h.logger.Warn("Failed to read cached pattern report", zap.String("patient_id", patientID), zap.Error(err))
		} else if cached != nil {
			w.Header().Set("X-Report-Source", "cache")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	report, err := h.patterns.Analyze(r.Context(), patientID, start, end)
	if err != nil {
		h.logger.Error("Pattern analysis failed", zap.String("patient_id", patientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pattern analysis failed")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "no readings in window")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")
	start, end, ok := h.window(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid days")
		return
	}

	summary, err := h.patterns.Trend(r.Context(), patientID, start, end)
	if err != nil {
		h.logger.Error("Trend analysis failed", zap.String("patient_id", patientID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trend analysis failed")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "no readings in window")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
