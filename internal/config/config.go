package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-vitals/common/config"
)

// Config 生命体征监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	ServiceName string

	// 监测服务特定配置
	Vitals struct {
		// 读数存储："postgres"（默认）或 "memory"（单机演示，重启后丢失）
		ReadingStore string

		// 设备数据流
		Feed struct {
			Source        string        // "redis" 或 "mqtt"
			Liveness      time.Duration // 超过该时间无读数视为数据流中断
			StreamPrefix  string        // 设备数据流前缀，如 "vitals:device:"
			ConsumerGroup string        // 消费者组名称
			ConsumerName  string        // 消费者名称
			Block         time.Duration // XREADGROUP 单次阻塞时间
			TopicPattern  string        // MQTT 主题模板，%s 为 device_id
			BufferSize    int           // MQTT 消息缓冲大小
		}

		// 会话控制流（start/stop 指令）
		Sessions struct {
			Stream        string
			ConsumerGroup string
			ConsumerName  string
		}

		// 阈值配置
		Thresholds struct {
			CacheTTL              time.Duration // 个性化阈值缓存 TTL
			CacheKeyPrefix        string
			DefaultAlertFrequency int      // 默认报警间隔（分钟）
			DefaultAlertMethods   []string // 默认投递渠道
		}

		// 报警投递
		Alerts struct {
			Stream      string // Redis Streams 报警流
			WebhookURL  string // 为空时不启用 webhook
			MQTTTopic   string // 为空时不启用 MQTT 发布
			SendTimeout time.Duration
		}

		// 模式分析
		Analysis struct {
			Schedule   string // cron 表达式，为空时不启用定时分析
			WindowDays int
			ReportTTL  time.Duration
			KeyPrefix  string
			Timezone   string
		}
	}

	Metrics struct {
		Addr string // Prometheus 指标监听地址，为空时不启动
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vitals")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-vitals")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.ServiceName = getEnv("SERVICE_NAME", "wisefido-vitals")

	cfg.Vitals.ReadingStore = getEnv("VITALS_READING_STORE", "postgres")

	// 设备数据流
	cfg.Vitals.Feed.Source = getEnv("VITALS_FEED_SOURCE", "redis")
	cfg.Vitals.Feed.Liveness = getEnvDurationAllowOff("VITALS_FEED_LIVENESS", 5*time.Minute)
	cfg.Vitals.Feed.StreamPrefix = getEnv("VITALS_FEED_STREAM_PREFIX", "vitals:device:")
	cfg.Vitals.Feed.ConsumerGroup = getEnv("VITALS_FEED_CONSUMER_GROUP", "vitals-monitor-group")
	cfg.Vitals.Feed.ConsumerName = getEnv("VITALS_FEED_CONSUMER_NAME", "vitals-monitor-1")
	cfg.Vitals.Feed.Block = getEnvDuration("VITALS_FEED_BLOCK", time.Second)
	cfg.Vitals.Feed.TopicPattern = getEnv("VITALS_FEED_TOPIC", "vitals/%s/data")
	cfg.Vitals.Feed.BufferSize = getEnvInt("VITALS_FEED_BUFFER", 64)

	// 会话控制流
	cfg.Vitals.Sessions.Stream = getEnv("VITALS_SESSION_STREAM", "vitals:sessions")
	cfg.Vitals.Sessions.ConsumerGroup = getEnv("VITALS_SESSION_CONSUMER_GROUP", "vitals-session-group")
	cfg.Vitals.Sessions.ConsumerName = getEnv("VITALS_SESSION_CONSUMER_NAME", "vitals-session-1")

	// 阈值
	cfg.Vitals.Thresholds.CacheTTL = getEnvDuration("VITALS_THRESHOLD_CACHE_TTL", 5*time.Minute)
	cfg.Vitals.Thresholds.CacheKeyPrefix = getEnv("VITALS_THRESHOLD_CACHE_PREFIX", "vitals:threshold:")
	cfg.Vitals.Thresholds.DefaultAlertFrequency = getEnvInt("VITALS_DEFAULT_ALERT_FREQUENCY", 15)
	cfg.Vitals.Thresholds.DefaultAlertMethods = getEnvList("VITALS_DEFAULT_ALERT_METHODS", []string{"stream"})

	// 报警投递
	cfg.Vitals.Alerts.Stream = getEnv("VITALS_ALERT_STREAM", "vitals:alerts")
	cfg.Vitals.Alerts.WebhookURL = getEnv("VITALS_ALERT_WEBHOOK_URL", "")
	cfg.Vitals.Alerts.MQTTTopic = getEnv("VITALS_ALERT_MQTT_TOPIC", "")
	cfg.Vitals.Alerts.SendTimeout = getEnvDuration("VITALS_ALERT_SEND_TIMEOUT", 10*time.Second)

	// 模式分析
	cfg.Vitals.Analysis.Schedule = getEnv("VITALS_ANALYSIS_SCHEDULE", "0 * * * *")
	cfg.Vitals.Analysis.WindowDays = getEnvInt("VITALS_ANALYSIS_WINDOW_DAYS", 30)
	cfg.Vitals.Analysis.ReportTTL = getEnvDuration("VITALS_PATTERN_TTL", 2*time.Hour)
	cfg.Vitals.Analysis.KeyPrefix = getEnv("VITALS_PATTERN_PREFIX", "vitals:pattern:")
	cfg.Vitals.Analysis.Timezone = getEnv("VITALS_ANALYSIS_TZ", "UTC")

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9102")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// getEnvDurationAllowOff 与 getEnvDuration 相同，但接受 0 或负值（表示关闭）
func getEnvDurationAllowOff(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
