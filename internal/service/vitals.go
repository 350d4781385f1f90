package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"wisefido-vitals/common/database"
	mqttcommon "wisefido-vitals/common/mqtt"
	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/analyzer"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/dispatcher"
	"wisefido-vitals/internal/feed"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/repository"
	"wisefido-vitals/internal/threshold"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// VitalsService 生命体征监测服务（整合各层）
type VitalsService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client // 未启用 MQTT 时为空
	logger      *zap.Logger

	// 各层组件
	readings        repository.ReadingStore
	thresholdsRepo  *repository.ThresholdsRepository
	patientsRepo    *repository.PatientsRepository
	thresholdStore  *threshold.CachedStore
	resolver        *threshold.Resolver
	dispatcher      *dispatcher.Dispatcher
	monitor         *monitor.Monitor
	analyzer        *analyzer.Analyzer
	scheduler       *analyzer.Scheduler
	controlConsumer *ControlConsumer
	server          *Server

	mu        sync.Mutex
	stopped   bool
	startDone chan struct{} // Start 返回时关闭
}

// NewVitalsService 创建监测服务
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	ctx := context.Background()

	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（设备数据流或报警发布需要时）
	var mqttClient *mqttcommon.Client
	if cfg.Vitals.Feed.Source == "mqtt" || cfg.Vitals.Alerts.MQTTTopic != "" {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.Vitals.Analysis.Timezone)
	if err != nil {
		logger.Warn("Unknown analysis timezone, using UTC",
			zap.String("timezone", cfg.Vitals.Analysis.Timezone),
			zap.Error(err),
		)
		loc = time.UTC
	}

	// 4. 创建 Repository 层
	readings := newReadingStore(cfg.Vitals.ReadingStore, db, logger)
	thresholdsRepo := repository.NewThresholdsRepository(db, logger)
	patientsRepo := repository.NewPatientsRepository(db, logger)

	// 5. 阈值解析（个性化阈值经 Redis 缓存）
	thresholdStore := threshold.NewCachedStore(
		thresholdsRepo,
		rediscommon.NewRedisKV(redisClient),
		cfg.Vitals.Thresholds.CacheKeyPrefix,
		cfg.Vitals.Thresholds.CacheTTL,
		logger,
	)
	resolver := threshold.NewResolver(thresholdStore, patientsRepo, threshold.AlertPolicy{
		Frequency: cfg.Vitals.Thresholds.DefaultAlertFrequency,
		Methods:   cfg.Vitals.Thresholds.DefaultAlertMethods,
	}, logger)

	// 6. 报警投递渠道
	notifiers := []dispatcher.Notifier{
		dispatcher.NewStreamNotifier(redisClient, cfg.Vitals.Alerts.Stream),
	}
	if cfg.Vitals.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, dispatcher.NewWebhookNotifier(cfg.Vitals.Alerts.WebhookURL, cfg.Vitals.Alerts.SendTimeout, logger))
	}
	if cfg.Vitals.Alerts.MQTTTopic != "" {
		notifiers = append(notifiers, dispatcher.NewMQTTNotifier(mqttClient, cfg.Vitals.Alerts.MQTTTopic, cfg.MQTT.QoS))
	}
	disp := dispatcher.NewDispatcher(logger, notifiers...)

	// 7. 设备数据流
	var feeds feed.Factory
	switch cfg.Vitals.Feed.Source {
	case "mqtt":
		feeds = feed.NewMQTTFactory(mqttClient, cfg.Vitals.Feed.TopicPattern, cfg.MQTT.QoS, cfg.Vitals.Feed.BufferSize, logger)
	default:
		feeds = feed.NewRedisStreamFactory(
			redisClient,
			cfg.Vitals.Feed.StreamPrefix,
			cfg.Vitals.Feed.ConsumerGroup,
			cfg.Vitals.Feed.ConsumerName,
			cfg.Vitals.Feed.Block,
			logger,
		)
	}

	// 8. 实时监测与模式分析
	mon := monitor.NewMonitor(resolver, readings, disp, feeds, cfg.Vitals.Feed.Liveness, logger)
	an := analyzer.NewAnalyzer(readings, loc, logger)
	scheduler := analyzer.NewScheduler(
		an,
		mon,
		rediscommon.NewRedisKV(redisClient),
		time.Duration(cfg.Vitals.Analysis.WindowDays)*24*time.Hour,
		cfg.Vitals.Analysis.ReportTTL,
		cfg.Vitals.Analysis.KeyPrefix,
		logger,
	)

	// 9. 会话控制
	controlConsumer := NewControlConsumer(
		redisClient,
		cfg.Vitals.Sessions.Stream,
		cfg.Vitals.Sessions.ConsumerGroup,
		cfg.Vitals.Sessions.ConsumerName,
		cfg.Vitals.Feed.Block,
		mon,
		thresholdStore,
		logger,
	)

	var server *Server
	if cfg.Metrics.Addr != "" {
		server = NewServer(cfg.Metrics.Addr, mon, an, scheduler, cfg.Vitals.Analysis.WindowDays, logger)
	}

	return &VitalsService{
		config:          cfg,
		db:              db,
		redisClient:     redisClient,
		mqttClient:      mqttClient,
		logger:          logger,
		readings:        readings,
		thresholdsRepo:  thresholdsRepo,
		patientsRepo:    patientsRepo,
		thresholdStore:  thresholdStore,
		resolver:        resolver,
		dispatcher:      disp,
		monitor:         mon,
		analyzer:        an,
		scheduler:       scheduler,
		controlConsumer: controlConsumer,
		server:          server,
	}, nil
}

// newReadingStore 按配置选择读数存储
func newReadingStore(kind string, db *sql.DB, logger *zap.Logger) repository.ReadingStore {
	if kind == "memory" {
		logger.Warn("Using in-memory reading store, readings are lost on restart")
		return repository.NewMemoryReadingStore()
	}
	return repository.NewReadingsRepository(db, logger)
}

// Start 启动服务，ctx 取消或任一组件失败时返回
func (s *VitalsService) Start(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("vitals service already stopped")
	}
	s.startDone = done
	s.mu.Unlock()
	defer close(done)

	s.logger.Info("Starting vitals service",
		zap.String("feed_source", s.config.Vitals.Feed.Source),
		zap.Strings("alert_channels", s.dispatcher.Channels()),
	)

	if s.config.Vitals.Analysis.Schedule != "" {
		if err := s.scheduler.Start(s.config.Vitals.Analysis.Schedule); err != nil {
			return err
		}
		defer s.scheduler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.controlConsumer.Start(gctx); err != nil {
			return fmt.Errorf("session control consumer: %w", err)
		}
		return nil
	})

	if s.server != nil {
		g.Go(s.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.server.Stop(shutdownCtx)
		})
	}

	return g.Wait()
}

// Stop 停止服务：等待 Start 返回（调用方需先取消 Start 的 ctx），
// 再结束全部监测会话并关闭连接
func (s *VitalsService) Stop() error {
	s.logger.Info("Stopping vitals service")

	s.mu.Lock()
	s.stopped = true
	done := s.startDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	s.monitor.StopAll()
	s.scheduler.Stop()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
