package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fleetguard-alert/internal/models"

	"go.uber.org/zap"
)

// IncidentsRepository 事故仓库（incidents + incident_signals / incident_alerts 关联表）
type IncidentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentsRepository 创建事故仓库
func NewIncidentsRepository(db *sql.DB, logger *zap.Logger) *IncidentsRepository {
	return &IncidentsRepository{
		db:     db,
		logger: logger,
	}
}

const incidentColumns = `
	incident_id,
	tenant_id,
	incident_type,
	status,
	priority,
	subject_type,
	subject_id,
	dedupe_key,
	ai_summary,
	detected_at,
	resolved_at,
	created_at,
	updated_at
`

// CreateIncident 创建事故（需验证 tenant_id）
func (r *IncidentsRepository) CreateIncident(ctx context.Context, tenantID string, incident *models.Incident) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if incident == nil {
		return fmt.Errorf("incident is required")
	}
	if incident.TenantID != tenantID {
		return fmt.Errorf("incident.tenant_id must match tenant_id parameter")
	}

	query := fmt.Sprintf(`
		INSERT INTO incidents (%s) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`, incidentColumns)

	_, err := r.db.ExecContext(ctx, query,
		incident.IncidentID,
		incident.TenantID,
		incident.Type,
		incident.Status,
		incident.Priority,
		incident.SubjectType,
		incident.SubjectID,
		incident.DedupeKey,
		incident.AISummary,
		incident.DetectedAt,
		incident.ResolvedAt,
		incident.CreatedAt,
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

// GetIncident 根据 incident_id 获取事故（需验证 tenant_id）
func (r *IncidentsRepository) GetIncident(ctx context.Context, tenantID, incidentID string) (*models.Incident, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM incidents
		WHERE incident_id = $1
		  AND tenant_id = $2
	`, incidentColumns)

	incident, err := scanIncident(r.db.QueryRowContext(ctx, query, incidentID, tenantID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident not found: incident_id=%s, tenant_id=%s", incidentID, tenantID)
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return incident, nil
}

// GetOpenIncidentByDedupeKey 按去重键查询未到终态的事故（归并判断用）
// 未找到返回 nil, nil
func (r *IncidentsRepository) GetOpenIncidentByDedupeKey(ctx context.Context, tenantID, dedupeKey string) (*models.Incident, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if dedupeKey == "" {
		return nil, fmt.Errorf("dedupe_key is required")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM incidents
		WHERE tenant_id = $1
		  AND dedupe_key = $2
		  AND status NOT IN ('resolved', 'false_positive')
		ORDER BY created_at DESC
		LIMIT 1
	`, incidentColumns)

	incident, err := scanIncident(r.db.QueryRowContext(ctx, query, tenantID, dedupeKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query incident by dedupe_key: %w", err)
	}
	return incident, nil
}

// SaveIncidentStatus 持久化状态迁移结果（status/ai_summary/resolved_at）
func (r *IncidentsRepository) SaveIncidentStatus(ctx context.Context, tenantID string, incident *models.Incident) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if incident == nil {
		return fmt.Errorf("incident is required")
	}

	query := `
		UPDATE incidents
		SET status = $1,
		    ai_summary = $2,
		    resolved_at = $3,
		    updated_at = $4
		WHERE incident_id = $5
		  AND tenant_id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		incident.Status,
		incident.AISummary,
		incident.ResolvedAt,
		incident.UpdatedAt,
		incident.IncidentID,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to save incident status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("incident not found: incident_id=%s, tenant_id=%s", incident.IncidentID, tenantID)
	}

	return nil
}

// LinkSignal 关联信号到事故（多对多，带角色）
func (r *IncidentsRepository) LinkSignal(ctx context.Context, tenantID, incidentID, signalID string, role models.IncidentRole) error {
	return r.link(ctx, tenantID, "incident_signals", "signal_id", incidentID, signalID, role)
}

// LinkAlert 关联告警到事故（多对多，带角色）
func (r *IncidentsRepository) LinkAlert(ctx context.Context, tenantID, incidentID, alertID string, role models.IncidentRole) error {
	return r.link(ctx, tenantID, "incident_alerts", "alert_id", incidentID, alertID, role)
}

func (r *IncidentsRepository) link(ctx context.Context, tenantID, table, targetColumn, incidentID, targetID string, role models.IncidentRole) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if targetID == "" {
		return fmt.Errorf("%s is required", targetColumn)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (incident_id, %s, role, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT DO NOTHING
	`, table, targetColumn)

	_, err := r.db.ExecContext(ctx, query, incidentID, targetID, role)
	if err != nil {
		return fmt.Errorf("failed to link %s to incident: %w", targetColumn, err)
	}
	return nil
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var incident models.Incident
	var subjectType, subjectID, aiSummary sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&incident.IncidentID,
		&incident.TenantID,
		&incident.Type,
		&incident.Status,
		&incident.Priority,
		&subjectType,
		&subjectID,
		&incident.DedupeKey,
		&aiSummary,
		&incident.DetectedAt,
		&resolvedAt,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if subjectType.Valid {
		incident.SubjectType = &subjectType.String
	}
	if subjectID.Valid {
		incident.SubjectID = &subjectID.String
	}
	if aiSummary.Valid {
		incident.AISummary = &aiSummary.String
	}
	if resolvedAt.Valid {
		incident.ResolvedAt = &resolvedAt.Time
	}

	return &incident, nil
}
