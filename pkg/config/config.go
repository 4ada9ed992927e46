package config

import (
	"log"
	"os"
	"time"

	"HibiscusSOS/pkg/logger"
	"HibiscusSOS/pkg/notification"
	"HibiscusSOS/pkg/util"
)

// Config 两个服务共用的全局配置，字段来自环境变量
type Config struct {
	Mode          string `env:"MODE"`
	InternalToken string `env:"INTERNAL_TOKEN"` // 服务间调用共享令牌
	SocketSecret  string `env:"SOCKET_SECRET"`  // WebSocket 握手令牌签名密钥

	Log  logger.LogConfig
	Mail notification.SMSConfig

	// DutyPhone 值班台号码，新单/结案短信的收件人
	DutyPhone string `env:"DUTY_PHONE"`

	// 持久侧（sos 服务）
	SOSAddr         string `env:"SOS_ADDR"`
	DBDriver        string `env:"DB_DRIVER"`
	DSN             string `env:"DSN"`
	RealtimeBaseURL string `env:"REALTIME_BASE_URL"`

	// 数据库定期备份，BackupSchedule 为空时不启用
	BackupSchedule string `env:"BACKUP_SCHEDULE"`
	BackupPath     string `env:"BACKUP_PATH"`

	// 实时侧（realtime 网关）
	RealtimeAddr string `env:"REALTIME_ADDR"`
	SOSBaseURL   string `env:"SOS_BASE_URL"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisPass    string `env:"REDIS_PASSWORD"`
	RedisDB      int    `env:"REDIS_DB"`

	// 到达判定：权威阈值只在持久侧生效，实时侧只做宽松预筛
	ArrivalThresholdMeters float64 `env:"ARRIVAL_THRESHOLD_METERS"`
	ArrivalPrefilterMeters float64 `env:"ARRIVAL_PREFILTER_METERS"`

	// 位置采样（持久化频率）与广播节流（推送频率）是两个独立旋钮
	SampleInterval     time.Duration `env:"SAMPLE_INTERVAL"`
	SampleDistanceM    float64       `env:"SAMPLE_DISTANCE_METERS"`
	LocationMinSpacing time.Duration `env:"LOCATION_MIN_SPACING"`

	// 镜像 TTL
	StateTTL  time.Duration `env:"STATE_TTL"`
	ClosedTTL time.Duration `env:"CLOSED_TTL"`

	// 跨服务调用超时
	SyncTimeout time.Duration `env:"SYNC_TIMEOUT"`
}

var GlobalConfig *Config

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	err := util.LoadEnv(env)
	if err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 加载全局配置
	GlobalConfig = &Config{
		Mode:          util.GetEnv("MODE"),
		InternalToken: util.GetEnv("INTERNAL_TOKEN"),
		SocketSecret:  util.GetEnv("SOCKET_SECRET"),
		Log: logger.LogConfig{
			Level:      util.GetEnv("LOG_LEVEL"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},
		Mail: notification.SMSConfig{
			AccessKeyId:     util.GetEnv("SMS_ACCESS_KEY_ID"),
			AccessKeySecret: util.GetEnv("SMS_ACCESS_KEY_SECRET"),
			SignName:        util.GetEnv("SMS_SIGN_NAME"),
			TemplateCode:    util.GetEnv("SMS_TEMPLATE_CODE"),
		},
		DutyPhone: util.GetEnv("DUTY_PHONE"),

		SOSAddr:         util.GetEnvDefault("SOS_ADDR", ":8080"),
		DBDriver:        util.GetEnv("DB_DRIVER"),
		DSN:             util.GetEnv("DSN"),
		RealtimeBaseURL: util.GetEnvDefault("REALTIME_BASE_URL", "http://localhost:8081"),

		BackupSchedule: util.GetEnv("BACKUP_SCHEDULE"),
		BackupPath:     util.GetEnvDefault("BACKUP_PATH", "./backups"),

		RealtimeAddr: util.GetEnvDefault("REALTIME_ADDR", ":8081"),
		SOSBaseURL:   util.GetEnvDefault("SOS_BASE_URL", "http://localhost:8080"),
		RedisAddr:    util.GetEnvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPass:    util.GetEnv("REDIS_PASSWORD"),
		RedisDB:      int(util.GetIntEnv("REDIS_DB")),

		ArrivalThresholdMeters: util.GetFloatEnvDefault("ARRIVAL_THRESHOLD_METERS", 20),
		ArrivalPrefilterMeters: util.GetFloatEnvDefault("ARRIVAL_PREFILTER_METERS", 100),

		SampleInterval:     util.GetDurationEnvDefault("SAMPLE_INTERVAL", 15*time.Second),
		SampleDistanceM:    util.GetFloatEnvDefault("SAMPLE_DISTANCE_METERS", 50),
		LocationMinSpacing: util.GetDurationEnvDefault("LOCATION_MIN_SPACING", time.Second),

		StateTTL:  util.GetDurationEnvDefault("STATE_TTL", 24*time.Hour),
		ClosedTTL: util.GetDurationEnvDefault("CLOSED_TTL", time.Hour),

		SyncTimeout: util.GetDurationEnvDefault("SYNC_TIMEOUT", 3*time.Second),
	}
	return nil
}
