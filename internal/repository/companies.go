package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// CompaniesRepository 租户配置仓库（company_settings 表）
type CompaniesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompaniesRepository 创建租户配置仓库
func NewCompaniesRepository(db *sql.DB, logger *zap.Logger) *CompaniesRepository {
	return &CompaniesRepository{
		db:     db,
		logger: logger,
	}
}

// GetCompanyConfigPatch 获取租户配置覆盖（JSONB 原文）
// 匹配优先级：1) 租户特定配置，2) 系统默认配置（tenant_id = NULL）
// 两者都没有时返回空载荷（调用方回落到硬编码默认配置）
func (r *CompaniesRepository) GetCompanyConfigPatch(ctx context.Context, tenantID string) (json.RawMessage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	var settings json.RawMessage

	// 1. 优先查询租户特定配置
	query := `
		SELECT settings
		FROM company_settings
		WHERE tenant_id = $1
	`
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&settings)
	if err == nil {
		return settings, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query company settings: %w", err)
	}

	// 2. 租户没有配置时查询系统默认配置（tenant_id = NULL）
	query = `
		SELECT settings
		FROM company_settings
		WHERE tenant_id IS NULL
	`
	err = r.db.QueryRowContext(ctx, query).Scan(&settings)
	if err != nil {
		if err == sql.ErrNoRows {
			return json.RawMessage("{}"), nil
		}
		return nil, fmt.Errorf("failed to query system default company settings: %w", err)
	}

	return settings, nil
}
