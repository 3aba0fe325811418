package models

import "time"

// NotificationDecision 通知决策（对应 notification_decisions 表）
// 不可变审计记录：同一告警的新决策永远是新记录，绝不更新旧记录
type NotificationDecision struct {
	DecisionID      string        `json:"decision_id" db:"decision_id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	AlertID         string        `json:"alert_id" db:"alert_id"`
	ShouldNotify    bool          `json:"should_notify" db:"should_notify"`
	EscalationLevel DecisionLevel `json:"escalation_level" db:"escalation_level"`
	MessageText     string        `json:"message_text" db:"message_text"`
	Reason          string        `json:"reason" db:"reason"`
	Channels        []string      `json:"channels" db:"channels"` // JSONB
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`

	// 有序接收人列表（priority 升序，同优先级保持插入顺序）
	Recipients []NotificationRecipient `json:"recipients" db:"-"`
}

// NotificationRecipient 通知接收人（对应 notification_recipients 表）
// 随决策一次性创建后只读
type NotificationRecipient struct {
	RecipientID   string `json:"recipient_id" db:"recipient_id"`
	DecisionID    string `json:"decision_id" db:"decision_id"`
	RecipientType string `json:"recipient_type" db:"recipient_type"` // user, contact, escalation_contact
	Phone         string `json:"phone" db:"phone"`
	WhatsApp      string `json:"whatsapp" db:"whatsapp"`
	Priority      int    `json:"priority" db:"priority"` // 数字越小越先联系
	Position      int    `json:"position" db:"position"` // 插入顺序（同优先级的稳定排序依据）
}
