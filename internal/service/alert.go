package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/consumer"
	"fleetguard-alert/internal/incident"
	"fleetguard-alert/internal/lifecycle"
	"fleetguard-alert/internal/models"
	"fleetguard-alert/internal/repository"
	"fleetguard-alert/internal/review"
	"fleetguard-alert/pkg/database"
	"fleetguard-alert/pkg/redisclient"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertService 告警引擎服务（整合各层）
type AlertService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	signalsRepo       *repository.SignalsRepository
	alertsRepo        *repository.AlertsRepository
	notificationsRepo *repository.NotificationsRepository
	incidentsRepo     *repository.IncidentsRepository
	activityRepo      *repository.ActivityRepository
	companiesRepo     *repository.CompaniesRepository
	configCache       *consumer.ConfigCache
	sweeper           *consumer.RevalidationSweeper
	engine            *Engine
	reviewWorkflow    *review.Workflow
}

// NewAlertService 创建告警引擎服务
func NewAlertService(cfg *config.Config, logger *zap.Logger) (*AlertService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisclient.NewRedisClient(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	signalsRepo := repository.NewSignalsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	notificationsRepo := repository.NewNotificationsRepository(db, logger)
	incidentsRepo := repository.NewIncidentsRepository(db, logger)
	activityRepo := repository.NewActivityRepository(db, logger)
	companiesRepo := repository.NewCompaniesRepository(db, logger)

	// 4. 创建 Consumer 层
	configCache := consumer.NewConfigCache(cfg, redisClient, companiesRepo, logger)

	// 5. 创建 Engine（内置分诊流水线；外部流水线可经 SetPipeline 替换）
	engine := NewEngine(
		cfg,
		signalsRepo,
		alertsRepo,
		notificationsRepo,
		incidentsRepo,
		configCache,
		NewTriagePipeline(logger),
		redisClient,
		logger,
	)

	// 6. 创建重新评估扫描器（maxInvestigations 按租户在评估时解析，
	//    扫描器的 ShouldRevalidate 判定与上限无关）
	sweeper := consumer.NewRevalidationSweeper(
		cfg,
		alertsRepo,
		configCache,
		lifecycle.NewMachine(0, logger),
		logger,
	)

	// 7. 人工审核工作流
	reviewWorkflow := review.NewWorkflow(alertsRepo, activityRepo, logger)

	return &AlertService{
		config:            cfg,
		db:                db,
		redisClient:       redisClient,
		logger:            logger,
		signalsRepo:       signalsRepo,
		alertsRepo:        alertsRepo,
		notificationsRepo: notificationsRepo,
		incidentsRepo:     incidentsRepo,
		activityRepo:      activityRepo,
		companiesRepo:     companiesRepo,
		configCache:       configCache,
		sweeper:           sweeper,
		engine:            engine,
		reviewWorkflow:    reviewWorkflow,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *AlertService) Start(ctx context.Context) error {
	s.logger.Info("Starting alert engine service")

	if err := s.sweeper.Start(ctx, s.engine); err != nil {
		return fmt.Errorf("failed to start revalidation sweeper: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *AlertService) Stop() error {
	s.logger.Info("Stopping alert engine service")

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// ============================================
// 对外编排入口
// ============================================

// HandleSignal 处理入站信号
func (s *AlertService) HandleSignal(ctx context.Context, tenantID string, signal *models.Signal) (*SignalOutcome, error) {
	return s.engine.HandleSignal(ctx, tenantID, signal)
}

// ProcessAlert 对 pending 告警执行首次AI评估
func (s *AlertService) ProcessAlert(ctx context.Context, tenantID, alertID string) error {
	return s.engine.ProcessAlert(ctx, tenantID, alertID)
}

// ReviewAlert 人工审核：推进 human_status 并留痕
func (s *AlertService) ReviewAlert(ctx context.Context, tenantID, alertID string, status models.HumanStatus, actorUserID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	alert, err := s.alertsRepo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return fmt.Errorf("failed to get alert: %w", err)
	}

	return s.reviewWorkflow.SetHumanStatus(ctx, alert, status, actorUserID, time.Now())
}

// CommentOnAlert 人工审核：追加评论并留痕
func (s *AlertService) CommentOnAlert(ctx context.Context, tenantID, alertID, userID, content string) (*models.AlertComment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	alert, err := s.alertsRepo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return s.reviewWorkflow.AddComment(ctx, alert, userID, content, time.Now())
}

// AcknowledgeAlert 确认告警
func (s *AlertService) AcknowledgeAlert(ctx context.Context, tenantID, alertID, userID string) error {
	return s.alertsRepo.AcknowledgeAlert(ctx, tenantID, alertID, userID)
}

// UpdateSignalState 上游源更新事件状态（部分更新）
func (s *AlertService) UpdateSignalState(ctx context.Context, tenantID, signalID string, updates map[string]interface{}) error {
	return s.signalsRepo.UpdateSignalEventState(ctx, tenantID, signalID, updates)
}

// GetAlertDecisions 告警的全部通知决策（审计视图，时间升序）
func (s *AlertService) GetAlertDecisions(ctx context.Context, tenantID, alertID string) ([]*models.NotificationDecision, error) {
	return s.notificationsRepo.GetDecisionsByAlert(ctx, tenantID, alertID)
}

// GetAlertActivity 告警的活动日志（审计视图，时间升序）
func (s *AlertService) GetAlertActivity(ctx context.Context, tenantID, alertID string) ([]*models.ActivityEntry, error) {
	return s.activityRepo.ListActivity(ctx, tenantID, alertID)
}

// GetIncident 查询事故详情
func (s *AlertService) GetIncident(ctx context.Context, tenantID, incidentID string) (*models.Incident, error) {
	return s.incidentsRepo.GetIncident(ctx, tenantID, incidentID)
}

// ResolveIncident 事故终态迁移：resolved（summary 为 nil 时保留既有摘要）
func (s *AlertService) ResolveIncident(ctx context.Context, tenantID, incidentID string, summary *string) error {
	return s.transitionIncident(ctx, tenantID, incidentID, func(inc *models.Incident, now time.Time) error {
		return incident.MarkAsResolved(inc, summary, now)
	})
}

// DismissIncident 事故终态迁移：false_positive
func (s *AlertService) DismissIncident(ctx context.Context, tenantID, incidentID string, summary *string) error {
	return s.transitionIncident(ctx, tenantID, incidentID, func(inc *models.Incident, now time.Time) error {
		return incident.MarkAsFalsePositive(inc, summary, now)
	})
}

func (s *AlertService) transitionIncident(ctx context.Context, tenantID, incidentID string, apply func(*models.Incident, time.Time) error) error {
	inc, err := s.incidentsRepo.GetIncident(ctx, tenantID, incidentID)
	if err != nil {
		return fmt.Errorf("failed to get incident: %w", err)
	}

	if err := apply(inc, time.Now()); err != nil {
		return err
	}

	return s.incidentsRepo.SaveIncidentStatus(ctx, tenantID, inc)
}

// SetPipeline 替换AI流水线实现（外部协作方接入点）
func (s *AlertService) SetPipeline(pipeline Pipeline) {
	s.engine.SetPipeline(pipeline)
}
