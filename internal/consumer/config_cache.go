package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ConfigCache 租户配置缓存（Redis 前置 + PostgreSQL 回落）
type ConfigCache struct {
	config      *config.Config
	redisClient *redis.Client
	companies   *repository.CompaniesRepository
	logger      *zap.Logger
}

// NewConfigCache 创建租户配置缓存
func NewConfigCache(
	cfg *config.Config,
	redisClient *redis.Client,
	companies *repository.CompaniesRepository,
	logger *zap.Logger,
) *ConfigCache {
	return &ConfigCache{
		config:      cfg,
		redisClient: redisClient,
		companies:   companies,
		logger:      logger,
	}
}

// cacheKey 构建缓存键
func (c *ConfigCache) cacheKey(tenantID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Engine.Cache.CompanyConfigPrefix,
		tenantID,
		c.config.Engine.Cache.CompanyConfigSuffix,
	)
}

// GetCompanyConfig 获取租户生效配置（缓存命中走 Redis，未命中回落到数据库）
// 返回的配置已经和默认配置合并，可直接使用
func (c *ConfigCache) GetCompanyConfig(ctx context.Context, tenantID string) (*config.CompanyConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	key := c.cacheKey(tenantID)

	// 1. 从 Redis 读取
	val, err := c.redisClient.Get(ctx, key).Result()
	if err == nil {
		var cfg config.CompanyConfig
		if unmarshalErr := json.Unmarshal([]byte(val), &cfg); unmarshalErr == nil {
			return &cfg, nil
		}
		// 缓存内容损坏时回落到数据库并重写缓存
		c.logger.Warn("Company config cache entry is corrupt, reloading from database",
			zap.String("tenant_id", tenantID),
			zap.String("key", key),
		)
	} else if err != redis.Nil {
		// Redis 故障时不阻断评估，直接回落到数据库
		c.logger.Warn("Failed to read company config cache",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}

	// 2. 从数据库加载并合并默认配置
	cfg, err := c.loadFromDatabase(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	// 3. 回写缓存（失败只记录，不影响返回）
	if jsonData, marshalErr := json.Marshal(cfg); marshalErr == nil {
		ttl := time.Duration(c.config.Engine.Cache.CompanyConfigTTL) * time.Second
		if setErr := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); setErr != nil {
			c.logger.Warn("Failed to write company config cache",
				zap.String("tenant_id", tenantID),
				zap.Error(setErr),
			)
		}
	}

	return cfg, nil
}

// Invalidate 主动失效租户配置缓存（配置变更后调用）
func (c *ConfigCache) Invalidate(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	if err := c.redisClient.Del(ctx, c.cacheKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate company config cache: %w", err)
	}

	return nil
}

// loadFromDatabase 从数据库加载租户配置覆盖并合并默认配置
func (c *ConfigCache) loadFromDatabase(ctx context.Context, tenantID string) (*config.CompanyConfig, error) {
	rawPatch, err := c.companies.GetCompanyConfigPatch(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company config: %w", err)
	}

	cfg, err := config.ParseCompanyConfig(rawPatch)
	if err != nil {
		// 配置覆盖损坏时退回默认配置，不让单个租户的坏数据拖垮评估
		c.logger.Error("Company config patch is invalid, falling back to defaults",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		defaults := config.DefaultCompanyConfig()
		return &defaults, nil
	}

	return &cfg, nil
}
