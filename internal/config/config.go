package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config 告警引擎服务配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`

	// 引擎特定配置
	Engine struct {
		// Redis 缓存配置
		Cache struct {
			CompanyConfigPrefix string `yaml:"company_config_prefix"` // 租户配置缓存键前缀，如 "fleetguard:company:"
			CompanyConfigSuffix string `yaml:"company_config_suffix"` // 租户配置缓存键后缀，如 ":config"
			CompanyConfigTTL    int    `yaml:"company_config_ttl"`    // 租户配置 TTL（秒），默认 60秒
		} `yaml:"cache"`

		// 重新评估扫描配置
		Revalidation struct {
			SweepInterval int `yaml:"sweep_interval"` // 扫描间隔（秒），默认 60秒
			BatchSize     int `yaml:"batch_size"`     // 单次扫描处理的告警数量，默认 25
		} `yaml:"revalidation"`

		// 告警去重窗口（分钟），默认 10分钟
		AlertDedupeMinutes int `yaml:"alert_dedupe_minutes"`

		// 通知决策出站流（Redis Streams），分发服务从此流消费
		NotifyStream string `yaml:"notify_stream"`
	} `yaml:"engine"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load 加载配置
// 先从环境变量加载默认值，再用可选的 YAML 文件（CONFIG_FILE）覆盖
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "fleetguard")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 25)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	// 引擎配置
	cfg.Engine.Cache.CompanyConfigPrefix = getEnv("CACHE_COMPANY_PREFIX", "fleetguard:company:")
	cfg.Engine.Cache.CompanyConfigSuffix = ":config"
	cfg.Engine.Cache.CompanyConfigTTL = 60 // 60秒
	cfg.Engine.Revalidation.SweepInterval = getEnvInt("REVALIDATION_SWEEP_INTERVAL", 60)
	cfg.Engine.Revalidation.BatchSize = 25
	cfg.Engine.AlertDedupeMinutes = getEnvInt("ALERT_DEDUPE_MINUTES", 10)
	cfg.Engine.NotifyStream = getEnv("NOTIFY_STREAM", "fleetguard:notify:stream")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 可选：YAML 配置文件覆盖
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
