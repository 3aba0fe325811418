package consumer

import (
	"context"
	"fmt"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/lifecycle"
	"fleetguard-alert/internal/models"
	"fleetguard-alert/internal/repository"

	"go.uber.org/zap"
)

// Assessor 告警重新评估接口
// 由服务层实现：对到期的 investigating 告警重新跑一轮评估，
// 并根据结果推进状态机（completed / investigating / failed）
type Assessor interface {
	// Reassess 重新评估单条告警
	Reassess(ctx context.Context, alert *models.Alert, companyCfg *config.CompanyConfig) error
}

// RevalidationSweeper 重新评估扫描器（轮询 investigating 告警）
type RevalidationSweeper struct {
	config      *config.Config
	alertsRepo  *repository.AlertsRepository
	configCache *ConfigCache
	machine     *lifecycle.Machine
	logger      *zap.Logger
}

// NewRevalidationSweeper 创建重新评估扫描器
func NewRevalidationSweeper(
	cfg *config.Config,
	alertsRepo *repository.AlertsRepository,
	configCache *ConfigCache,
	machine *lifecycle.Machine,
	logger *zap.Logger,
) *RevalidationSweeper {
	return &RevalidationSweeper{
		config:      cfg,
		alertsRepo:  alertsRepo,
		configCache: configCache,
		machine:     machine,
		logger:      logger,
	}
}

// Start 启动扫描器（轮询模式）
func (s *RevalidationSweeper) Start(ctx context.Context, assessor Assessor) error {
	s.logger.Info("Revalidation sweeper started",
		zap.Int("sweep_interval", s.config.Engine.Revalidation.SweepInterval),
		zap.Int("batch_size", s.config.Engine.Revalidation.BatchSize),
	)

	ticker := time.NewTicker(time.Duration(s.config.Engine.Revalidation.SweepInterval) * time.Second)
	defer ticker.Stop()

	// 立即执行一次
	if err := s.sweepOnce(ctx, assessor); err != nil {
		s.logger.Error("Failed to sweep investigating alerts on startup",
			zap.Error(err),
		)
	}

	// 定期轮询
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Revalidation sweeper stopped")
			return nil
		case <-ticker.C:
			if err := s.sweepOnce(ctx, assessor); err != nil {
				s.logger.Error("Failed to sweep investigating alerts",
					zap.Error(err),
				)
				// 继续执行，不中断
			}
		}
	}
}

// sweepOnce 执行一轮扫描（按租户分批）
func (s *RevalidationSweeper) sweepOnce(ctx context.Context, assessor Assessor) error {
	tenantIDs, err := s.alertsRepo.ListTenantsWithInvestigatingAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.sweepTenant(ctx, tenantID, assessor); err != nil {
			s.logger.Error("Failed to sweep tenant",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			// 继续处理下一个租户，不中断
		}
	}

	return nil
}

// sweepTenant 扫描单个租户的 investigating 告警
func (s *RevalidationSweeper) sweepTenant(ctx context.Context, tenantID string, assessor Assessor) error {
	companyCfg, err := s.configCache.GetCompanyConfig(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load company config: %w", err)
	}

	alerts, err := s.alertsRepo.ListInvestigatingAlerts(ctx, tenantID, s.config.Engine.Revalidation.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list investigating alerts: %w", err)
	}

	now := time.Now()
	due := 0
	for _, alert := range alerts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 未到重新评估时间的告警跳过
		if !s.machine.ShouldRevalidate(alert, now) {
			continue
		}
		due++

		if err := assessor.Reassess(ctx, alert, companyCfg); err != nil {
			s.logger.Error("Failed to reassess alert",
				zap.String("tenant_id", tenantID),
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
			continue
		}
	}

	if due > 0 {
		s.logger.Debug("Swept investigating alerts",
			zap.String("tenant_id", tenantID),
			zap.Int("candidates", len(alerts)),
			zap.Int("due", due),
		)
	}

	return nil
}
