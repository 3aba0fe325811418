package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/consumer"
	"fleetguard-alert/internal/escalation"
	"fleetguard-alert/internal/incident"
	"fleetguard-alert/internal/lifecycle"
	"fleetguard-alert/internal/models"
	"fleetguard-alert/internal/repository"
	"fleetguard-alert/internal/rules"
	"fleetguard-alert/pkg/redisclient"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline 外部AI流水线协作方接口
// 评估载荷原样透传给状态机；monitoring_reason 非空表示流水线
// 希望继续观察（进入/停留 investigating）
type Pipeline interface {
	Evaluate(ctx context.Context, alert *models.Alert) (*models.Assessment, error)
}

// SignalOutcome 信号处理结果
type SignalOutcome struct {
	Signal     *models.Signal
	Duplicate  bool            // source_event_id 已存在，本次为幂等重放
	Rule       *config.NotifyRule
	Alert      *models.Alert   // 本次创建的告警（可能为 nil）
	Suppressed *models.Alert   // 去重窗口内已有的告警（抑制了新建）
	Decision   *models.NotificationDecision
	Incident   *models.Incident
}

// Engine 告警引擎服务层
// 职责：
// 1. 信号入站编排：落库 → 规则匹配 → 告警创建/通知决策 → 事故归并
// 2. 重新评估编排（实现 consumer.Assessor）
// 3. 同一告警读改写的进程内互斥
type Engine struct {
	config            *config.Config
	signalsRepo       *repository.SignalsRepository
	alertsRepo        *repository.AlertsRepository
	notificationsRepo *repository.NotificationsRepository
	incidentsRepo     *repository.IncidentsRepository
	configCache       *consumer.ConfigCache
	builder           *escalation.Builder
	redisClient       *redis.Client
	logger            *zap.Logger

	pipelineMu sync.RWMutex
	pipeline   Pipeline

	// 进程内按告警互斥（持久互斥由部署方的数据库行锁保证）
	locksMu    sync.Mutex
	alertLocks map[string]*alertLock
}

// alertLock 带引用计数的告警锁，最后一个持有者释放时从表中删除
type alertLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine 创建告警引擎
func NewEngine(
	cfg *config.Config,
	signalsRepo *repository.SignalsRepository,
	alertsRepo *repository.AlertsRepository,
	notificationsRepo *repository.NotificationsRepository,
	incidentsRepo *repository.IncidentsRepository,
	configCache *consumer.ConfigCache,
	pipeline Pipeline,
	redisClient *redis.Client,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		config:            cfg,
		signalsRepo:       signalsRepo,
		alertsRepo:        alertsRepo,
		notificationsRepo: notificationsRepo,
		incidentsRepo:     incidentsRepo,
		configCache:       configCache,
		builder:           escalation.NewBuilder(logger),
		pipeline:          pipeline,
		redisClient:       redisClient,
		logger:            logger,
		alertLocks:        make(map[string]*alertLock),
	}
}

// ============================================
// 信号入站
// ============================================

// HandleSignal 处理入站信号
// 业务规则：
// - tenant_id 必填，signal.tenant_id 必须匹配
// - source_event_id 幂等：已存在时直接返回，不产生任何副作用
// - 严重级别入站时重新推导（不信任上游）
func (e *Engine) HandleSignal(ctx context.Context, tenantID string, signal *models.Signal) (*SignalOutcome, error) {
	// 业务规则验证
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if signal == nil {
		return nil, fmt.Errorf("signal is required")
	}
	if signal.TenantID != tenantID {
		return nil, fmt.Errorf("signal tenant_id (%s) does not match provided tenant_id (%s)", signal.TenantID, tenantID)
	}
	if signal.SourceEventID == "" {
		return nil, fmt.Errorf("source_event_id is required")
	}

	// 幂等检查：同一外部事件只处理一次
	existing, err := e.signalsRepo.GetSignalBySourceEventID(ctx, tenantID, signal.SourceEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check signal idempotency: %w", err)
	}
	if existing != nil {
		e.logger.Debug("Duplicate signal ignored",
			zap.String("tenant_id", tenantID),
			zap.String("source_event_id", signal.SourceEventID),
		)
		return &SignalOutcome{Signal: existing, Duplicate: true}, nil
	}

	now := time.Now()
	if signal.SignalID == "" {
		signal.SignalID = uuid.New().String()
	}
	if signal.OccurredAt.IsZero() {
		signal.OccurredAt = now
	}
	signal.CreatedAt = now
	signal.UpdatedAt = now
	signal.RederiveSeverity()

	if err := e.signalsRepo.CreateSignal(ctx, tenantID, signal); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	companyCfg, err := e.configCache.GetCompanyConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company config: %w", err)
	}

	outcome := &SignalOutcome{Signal: signal}

	// 规则匹配（首条命中生效）
	rule := rules.Match(signal, companyCfg)
	outcome.Rule = rule

	// 无规则命中且非关键信号：只留痕，不产生告警/通知/事故
	if rule == nil && signal.Severity != models.SeverityCritical {
		return outcome, nil
	}

	// 告警创建（关键信号即使无规则命中也走AI流水线）
	action := models.ActionAIPipeline
	if rule != nil {
		action = rule.Action
	}

	if action == models.ActionAIPipeline || action == models.ActionBoth {
		alert, suppressed, err := e.createAlertForSignal(ctx, tenantID, signal, companyCfg, now)
		if err != nil {
			return nil, err
		}
		outcome.Alert = alert
		outcome.Suppressed = suppressed
	}

	if rule != nil && (action == models.ActionImmediateNotify || action == models.ActionBoth) {
		decision, err := e.buildImmediateDecision(ctx, tenantID, signal, rule, companyCfg, outcome, now)
		if err != nil {
			return nil, err
		}
		outcome.Decision = decision
	}

	// 事故归并
	inc, err := e.correlateIncident(ctx, tenantID, signal, outcome.Alert, companyCfg, now)
	if err != nil {
		// 归并失败不回滚信号/告警，只记录
		e.logger.Error("Failed to correlate incident",
			zap.String("tenant_id", tenantID),
			zap.String("signal_id", signal.SignalID),
			zap.Error(err),
		)
	} else {
		outcome.Incident = inc
	}

	return outcome, nil
}

// createAlertForSignal 为信号创建 pending 告警（带去重抑制）
// 返回 (新建告警, 抑制新建的既有告警)；两者互斥
func (e *Engine) createAlertForSignal(
	ctx context.Context,
	tenantID string,
	signal *models.Signal,
	companyCfg *config.CompanyConfig,
	now time.Time,
) (*models.Alert, *models.Alert, error) {
	dedupeKey := signalDedupeKey(signal)

	// 去重窗口内已有同键非终态告警：抑制新建
	recent, err := e.alertsRepo.GetRecentAlertByDedupeKey(ctx, tenantID, dedupeKey, e.config.Engine.AlertDedupeMinutes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check alert dedupe: %w", err)
	}
	if recent != nil {
		e.logger.Info("Alert creation suppressed by dedupe window",
			zap.String("tenant_id", tenantID),
			zap.String("dedupe_key", dedupeKey),
			zap.String("existing_alert_id", recent.AlertID),
		)
		return nil, recent, nil
	}

	signalID := signal.SignalID
	ackDueAt := now.Add(time.Duration(companyCfg.SLA.AckMinutes) * time.Minute)
	resolveDueAt := now.Add(time.Duration(companyCfg.SLA.ResolveMinutes) * time.Minute)

	alert := &models.Alert{
		AlertID:         uuid.New().String(),
		TenantID:        tenantID,
		SignalID:        &signalID,
		AIStatus:        models.AIStatusPending,
		Severity:        signal.Severity,
		RiskEscalation:  models.RiskMonitor,
		AlertKind:       alertKindForLabels(signal.LabelSet()),
		EscalationLevel: escalationLevelForSeverity(signal.Severity),
		HumanStatus:     models.HumanStatusPending,
		AckStatus:       models.AckStatusPending,
		AckDueAt:        &ackDueAt,
		ResolveDueAt:    &resolveDueAt,
		DedupeKey:       &dedupeKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.alertsRepo.CreateAlert(ctx, tenantID, alert); err != nil {
		return nil, nil, fmt.Errorf("failed to create alert: %w", err)
	}

	e.logger.Info("Alert created",
		zap.String("tenant_id", tenantID),
		zap.String("alert_id", alert.AlertID),
		zap.String("signal_id", signalID),
		zap.String("severity", string(alert.Severity)),
	)
	return alert, nil, nil
}

// buildImmediateDecision 立即通知路径：构建并持久化通知决策
// 告警缺失时（纯 immediate_notify 规则）就地创建一条已完成的通知型告警，
// 决策必须挂在告警下，审计链不允许孤儿决策
func (e *Engine) buildImmediateDecision(
	ctx context.Context,
	tenantID string,
	signal *models.Signal,
	rule *config.NotifyRule,
	companyCfg *config.CompanyConfig,
	outcome *SignalOutcome,
	now time.Time,
) (*models.NotificationDecision, error) {
	alert := outcome.Alert
	if alert == nil {
		alert = outcome.Suppressed
	}
	if alert == nil {
		signalID := signal.SignalID
		dedupeKey := signalDedupeKey(signal)
		alert = &models.Alert{
			AlertID:         uuid.New().String(),
			TenantID:        tenantID,
			SignalID:        &signalID,
			AIStatus:        models.AIStatusCompleted,
			Severity:        signal.Severity,
			RiskEscalation:  riskForSeverity(signal.Severity),
			AlertKind:       alertKindForLabels(signal.LabelSet()),
			EscalationLevel: escalationLevelForSeverity(signal.Severity),
			HumanStatus:     models.HumanStatusPending,
			AckStatus:       models.AckStatusPending,
			DedupeKey:       &dedupeKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.alertsRepo.CreateAlert(ctx, tenantID, alert); err != nil {
			return nil, fmt.Errorf("failed to create notification alert: %w", err)
		}
		outcome.Alert = alert
	}

	messageText := fmt.Sprintf("Safety notification: %s", signal.PrimaryLabel)
	reason := fmt.Sprintf("matched rule %s", rule.ID)

	decision := e.builder.BuildDecision(alert, companyCfg, rule, messageText, reason, now)
	if err := e.notificationsRepo.CreateDecisionWithRecipients(ctx, tenantID, decision); err != nil {
		return nil, fmt.Errorf("failed to persist notification decision: %w", err)
	}

	e.publishDecision(ctx, decision)
	return decision, nil
}

// correlateIncident 事故归并
// 同一主体同一类型同一时间桶的信号归并到同一事故；
// 已有打开事故时信号以 supporting 角色关联，否则新建事故并以 primary 关联
func (e *Engine) correlateIncident(
	ctx context.Context,
	tenantID string,
	signal *models.Signal,
	alert *models.Alert,
	companyCfg *config.CompanyConfig,
	now time.Time,
) (*models.Incident, error) {
	labels := signal.LabelSet()
	incidentType := incident.TypeForLabels(labels)

	var subjectType, subjectID *string
	if signal.VehicleID != nil {
		t := "vehicle"
		subjectType = &t
		subjectID = signal.VehicleID
	} else if signal.DriverID != nil {
		t := "driver"
		subjectType = &t
		subjectID = signal.DriverID
	}

	bucketMinutes := companyCfg.IncidentBucketMinutes
	dedupeKey := incident.GenerateDedupeKey(incidentType, subjectType, subjectID, signal.OccurredAt, bucketMinutes)

	existing, err := e.incidentsRepo.GetOpenIncidentByDedupeKey(ctx, tenantID, dedupeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query open incident: %w", err)
	}

	if existing != nil {
		if err := e.incidentsRepo.LinkSignal(ctx, tenantID, existing.IncidentID, signal.SignalID, models.IncidentRoleSupporting); err != nil {
			return nil, fmt.Errorf("failed to link signal to incident: %w", err)
		}
		if alert != nil {
			if err := e.incidentsRepo.LinkAlert(ctx, tenantID, existing.IncidentID, alert.AlertID, models.IncidentRoleSupporting); err != nil {
				return nil, fmt.Errorf("failed to link alert to incident: %w", err)
			}
		}
		e.logger.Debug("Signal folded into open incident",
			zap.String("tenant_id", tenantID),
			zap.String("incident_id", existing.IncidentID),
			zap.String("signal_id", signal.SignalID),
		)
		return existing, nil
	}

	risk := models.RiskMonitor
	if alert != nil {
		risk = alert.RiskEscalation
	}

	inc := &models.Incident{
		IncidentID:  uuid.New().String(),
		TenantID:    tenantID,
		Type:        incidentType,
		Status:      models.IncidentStatusOpen,
		Priority:    incident.PriorityForSeverity(signal.Severity, risk),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		DedupeKey:   dedupeKey,
		DetectedAt:  signal.OccurredAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.incidentsRepo.CreateIncident(ctx, tenantID, inc); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	if err := e.incidentsRepo.LinkSignal(ctx, tenantID, inc.IncidentID, signal.SignalID, models.IncidentRolePrimary); err != nil {
		return nil, fmt.Errorf("failed to link signal to incident: %w", err)
	}
	if alert != nil {
		if err := e.incidentsRepo.LinkAlert(ctx, tenantID, inc.IncidentID, alert.AlertID, models.IncidentRolePrimary); err != nil {
			return nil, fmt.Errorf("failed to link alert to incident: %w", err)
		}
	}

	e.logger.Info("Incident opened",
		zap.String("tenant_id", tenantID),
		zap.String("incident_id", inc.IncidentID),
		zap.String("incident_type", string(inc.Type)),
		zap.String("priority", string(inc.Priority)),
	)
	return inc, nil
}

// ============================================
// AI评估编排
// ============================================

// ProcessAlert 对 pending 告警执行首次AI评估
// pending → processing → {completed, investigating, failed}
func (e *Engine) ProcessAlert(ctx context.Context, tenantID, alertID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	unlock := e.lockAlert(alertID)
	defer unlock()

	alert, err := e.alertsRepo.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return fmt.Errorf("failed to get alert: %w", err)
	}

	companyCfg, err := e.configCache.GetCompanyConfig(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load company config: %w", err)
	}

	machine := lifecycle.NewMachine(lifecycle.MaxInvestigations(companyCfg), e.logger)
	now := time.Now()

	if err := machine.MarkAsProcessing(alert, now); err != nil {
		return fmt.Errorf("failed to mark alert as processing: %w", err)
	}
	if err := e.alertsRepo.SaveAlertState(ctx, tenantID, alert); err != nil {
		return fmt.Errorf("failed to save alert state: %w", err)
	}

	return e.evaluate(ctx, machine, alert, companyCfg)
}

// Reassess 重新评估 investigating 告警（实现 consumer.Assessor）
func (e *Engine) Reassess(ctx context.Context, alert *models.Alert, companyCfg *config.CompanyConfig) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}

	unlock := e.lockAlert(alert.AlertID)
	defer unlock()

	machine := lifecycle.NewMachine(lifecycle.MaxInvestigations(companyCfg), e.logger)
	return e.evaluate(ctx, machine, alert, companyCfg)
}

// evaluate 调用AI流水线并根据评估结果推进状态机
// 流水线错误 → failed；monitoring_reason 非空且未达调查上限 → investigating；
// 其余 → completed。达到调查上限时强制 completed（监控原因只记录不续期）
func (e *Engine) evaluate(ctx context.Context, machine *lifecycle.Machine, alert *models.Alert, companyCfg *config.CompanyConfig) error {
	tenantID := alert.TenantID
	now := time.Now()

	e.pipelineMu.RLock()
	pipeline := e.pipeline
	e.pipelineMu.RUnlock()

	assessment, err := pipeline.Evaluate(ctx, alert)
	if err != nil {
		if markErr := machine.MarkAsFailed(alert, err.Error(), now); markErr != nil {
			return fmt.Errorf("failed to mark alert as failed: %w", markErr)
		}
		if saveErr := e.alertsRepo.SaveAlertState(ctx, tenantID, alert); saveErr != nil {
			return fmt.Errorf("failed to save failed alert: %w", saveErr)
		}
		return fmt.Errorf("pipeline evaluation failed: %w", err)
	}
	if assessment == nil {
		return fmt.Errorf("pipeline returned nil assessment")
	}

	humanMessage := assessment.Reasoning

	if keepMonitoring(assessment, companyCfg) {
		count := 0
		if alert.AI != nil {
			count = alert.AI.InvestigationCount
		}
		nextCheck := companyCfg.CheckIntervalForCount(count + 1)

		err := machine.MarkAsInvestigating(alert, assessment, humanMessage, nextCheck, now)
		if err == nil {
			reason := "continued monitoring"
			if assessment.MonitoringReason != nil {
				reason = *assessment.MonitoringReason
			}
			machine.AddInvestigationRecord(alert, reason, now)
			if saveErr := e.alertsRepo.SaveAlertState(ctx, tenantID, alert); saveErr != nil {
				return fmt.Errorf("failed to save investigating alert: %w", saveErr)
			}
			return nil
		}
		if !errors.Is(err, lifecycle.ErrInvestigationLimit) {
			return fmt.Errorf("failed to mark alert as investigating: %w", err)
		}
		// 调查上限：强制完成
		e.logger.Info("Investigation limit reached, forcing completion",
			zap.String("tenant_id", tenantID),
			zap.String("alert_id", alert.AlertID),
		)
	}

	if err := machine.MarkAsCompleted(alert, assessment, humanMessage, nil, now); err != nil {
		return fmt.Errorf("failed to mark alert as completed: %w", err)
	}
	if err := e.alertsRepo.SaveAlertState(ctx, tenantID, alert); err != nil {
		return fmt.Errorf("failed to save completed alert: %w", err)
	}

	// 需要人工紧急响应的完成结论产出通知决策
	if alert.RiskEscalation.RequiresUrgentResponse() {
		if err := e.notifyOnCompletion(ctx, alert, companyCfg, now); err != nil {
			// 决策失败不回滚已完成的告警
			e.logger.Error("Failed to build completion notification",
				zap.String("tenant_id", tenantID),
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// notifyOnCompletion 完成结论的通知决策（走升级矩阵，无规则覆盖）
func (e *Engine) notifyOnCompletion(ctx context.Context, alert *models.Alert, companyCfg *config.CompanyConfig, now time.Time) error {
	// risk_escalation 对齐 escalation_level，矩阵键由 escalation_level 推导
	switch alert.RiskEscalation {
	case models.RiskEmergency:
		alert.EscalationLevel = 2
	case models.RiskCall:
		alert.EscalationLevel = 1
	}

	messageText := ""
	if alert.AIMessage != nil {
		messageText = *alert.AIMessage
	}
	reason := fmt.Sprintf("ai verdict requires %s response", alert.RiskEscalation)

	decision := e.builder.BuildDecision(alert, companyCfg, nil, messageText, reason, now)
	if err := e.notificationsRepo.CreateDecisionWithRecipients(ctx, alert.TenantID, decision); err != nil {
		return fmt.Errorf("failed to persist notification decision: %w", err)
	}

	e.publishDecision(ctx, decision)
	return nil
}

// publishDecision 发布决策到出站流（分发服务消费；失败只记录）
func (e *Engine) publishDecision(ctx context.Context, decision *models.NotificationDecision) {
	if !decision.ShouldNotify {
		return
	}

	if _, err := redisclient.PublishJSONToStream(ctx, e.redisClient, e.config.Engine.NotifyStream, decision); err != nil {
		e.logger.Error("Failed to publish notification decision",
			zap.String("tenant_id", decision.TenantID),
			zap.String("decision_id", decision.DecisionID),
			zap.Error(err),
		)
		return
	}

	e.logger.Info("Notification decision published",
		zap.String("tenant_id", decision.TenantID),
		zap.String("decision_id", decision.DecisionID),
		zap.String("escalation_level", string(decision.EscalationLevel)),
		zap.Int("recipient_count", len(decision.Recipients)),
	)
}

// ============================================
// 辅助函数
// ============================================

// lockAlert 获取告警的进程内互斥锁，返回解锁函数
// 引用计数归零时从表中删除条目，避免锁表随告警数无界增长
func (e *Engine) lockAlert(alertID string) func() {
	e.locksMu.Lock()
	l, ok := e.alertLocks[alertID]
	if !ok {
		l = &alertLock{}
		e.alertLocks[alertID] = l
	}
	l.refs++
	e.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.alertLocks, alertID)
		}
		e.locksMu.Unlock()
	}
}

// SetPipeline 替换评估流水线（测试与热切换用），与进行中的评估互斥
func (e *Engine) SetPipeline(pipeline Pipeline) {
	e.pipelineMu.Lock()
	e.pipeline = pipeline
	e.pipelineMu.Unlock()
}

// keepMonitoring 是否继续观察
// monitoring_reason 非空为显式信号；置信度低于阈值且判定非终局性结论时同样续期
func keepMonitoring(assessment *models.Assessment, cfg *config.CompanyConfig) bool {
	if assessment.MonitoringReason != nil && *assessment.MonitoringReason != "" {
		return true
	}
	if assessment.Confidence >= cfg.Monitoring.ConfidenceThreshold {
		return false
	}
	switch assessment.Verdict {
	case models.VerdictSuspiciousActivity, models.VerdictInconclusive:
		return true
	}
	return false
}

// signalDedupeKey 信号级告警去重键：主标签 + 主体（vehicle 优先于 driver）
func signalDedupeKey(signal *models.Signal) string {
	parts := []string{strings.ToLower(strings.TrimSpace(signal.PrimaryLabel))}
	if signal.VehicleID != nil {
		parts = append(parts, "vehicle", *signal.VehicleID)
	} else if signal.DriverID != nil {
		parts = append(parts, "driver", *signal.DriverID)
	}
	return strings.Join(parts, ":")
}

// alertKindForLabels 由标签集合推导告警类别
func alertKindForLabels(labels []string) models.AlertKind {
	for _, label := range labels {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "panic_button":
			return models.AlertKindPanic
		case "camera_obstruction":
			return models.AlertKindTampering
		case "device_disconnected":
			return models.AlertKindConnectivity
		}
	}
	if len(labels) == 0 {
		return models.AlertKindUnknown
	}
	return models.AlertKindSafety
}

// escalationLevelForSeverity 严重级别到初始升级级别：critical→2，warning→1，其余→0
func escalationLevelForSeverity(severity models.Severity) int {
	switch severity {
	case models.SeverityCritical:
		return 2
	case models.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// riskForSeverity 严重级别到风险升级动作的保守映射（立即通知路径用）
func riskForSeverity(severity models.Severity) models.RiskEscalation {
	switch severity {
	case models.SeverityCritical:
		return models.RiskEmergency
	case models.SeverityWarning:
		return models.RiskWarn
	default:
		return models.RiskMonitor
	}
}
