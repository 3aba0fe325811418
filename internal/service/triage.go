package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// TriagePipeline 内置的规则分诊流水线（Pipeline 的默认实现）
// 外部AI流水线不可用或未接入时，用确定性启发式产出评估结果：
// 同一告警同一调查轮次的评估结果完全可复现
type TriagePipeline struct {
	logger *zap.Logger
}

// NewTriagePipeline 创建规则分诊流水线
func NewTriagePipeline(logger *zap.Logger) *TriagePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriagePipeline{logger: logger}
}

// Evaluate 按严重级别与调查轮次推导评估结果
// 置信度随调查轮次递增（每轮 +0.15，上限 0.95）；
// 低置信度的 warning 告警给出 monitoring_reason 以续期观察
func (p *TriagePipeline) Evaluate(ctx context.Context, alert *models.Alert) (*models.Assessment, error) {
	if alert == nil {
		return nil, fmt.Errorf("alert is required")
	}

	count := 0
	if alert.AI != nil {
		count = alert.AI.InvestigationCount
	}

	confidence := baseConfidence(alert.Severity) + 0.15*float64(count)
	if confidence > 0.95 {
		confidence = 0.95
	}

	assessment := &models.Assessment{
		Confidence: confidence,
		Likelihood: likelihoodForConfidence(confidence),
	}

	switch alert.Severity {
	case models.SeverityCritical:
		assessment.Verdict = models.VerdictProbableEmergency
		assessment.RiskEscalation = models.RiskCall
		if alert.EscalationLevel >= 2 {
			assessment.Verdict = models.VerdictConfirmedEmergency
			assessment.RiskEscalation = models.RiskEmergency
		}
		assessment.Reasoning = "critical behavior labels indicate a probable emergency"
	case models.SeverityWarning:
		assessment.RiskEscalation = models.RiskWarn
		if confidence < 0.7 {
			assessment.Verdict = models.VerdictSuspiciousActivity
			reason := "confidence below threshold, awaiting further telemetry"
			assessment.MonitoringReason = &reason
			assessment.Reasoning = "warning-level behavior needs continued observation"
		} else {
			assessment.Verdict = models.VerdictNeedsHumanReview
			assessment.Reasoning = "sustained warning-level behavior, human review recommended"
		}
	default:
		assessment.Verdict = models.VerdictBenign
		assessment.RiskEscalation = models.RiskMonitor
		assessment.Reasoning = "informational signal, no action required"
	}

	if alert.DedupeKey != nil {
		assessment.DedupeKey = *alert.DedupeKey
	}

	raw, err := json.Marshal(map[string]interface{}{
		"verdict":         assessment.Verdict,
		"likelihood":      assessment.Likelihood,
		"confidence":      assessment.Confidence,
		"reasoning":       assessment.Reasoning,
		"risk_escalation": assessment.RiskEscalation,
		"dedupe_key":      assessment.DedupeKey,
		"evaluated_at":    time.Now().UTC().Format(time.RFC3339),
		"engine":          "builtin-triage",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assessment payload: %w", err)
	}
	assessment.Raw = raw

	p.logger.Debug("Builtin triage evaluated alert",
		zap.String("alert_id", alert.AlertID),
		zap.String("verdict", string(assessment.Verdict)),
		zap.Float64("confidence", assessment.Confidence),
		zap.Int("investigation_count", count),
	)
	return assessment, nil
}

func baseConfidence(severity models.Severity) float64 {
	switch severity {
	case models.SeverityCritical:
		return 0.85
	case models.SeverityWarning:
		return 0.55
	default:
		return 0.35
	}
}

func likelihoodForConfidence(confidence float64) models.Likelihood {
	switch {
	case confidence >= 0.75:
		return models.LikelihoodHigh
	case confidence >= 0.5:
		return models.LikelihoodMedium
	default:
		return models.LikelihoodLow
	}
}
