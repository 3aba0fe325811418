package rules

import (
	"fmt"
	"strings"

	"fleetguard-alert/internal/config"
	"fleetguard-alert/internal/models"
)

// Match 规则匹配器：判断信号是否命中租户的声明式通知规则
// 纯函数，无副作用
//
// 匹配语义：
//   - 配置禁用或规则列表为空 → 永远返回 nil
//   - 规则 conditions 为 AND 语义：全部标签都出现在信号标签集合中才命中
//   - 按声明顺序评估，首条完全命中的规则获胜（无优先级字段，顺序即优先级）
func Match(signal *models.Signal, cfg *config.CompanyConfig) *config.NotifyRule {
	if signal == nil || cfg == nil {
		return nil
	}
	if !cfg.SafetyStreamNotify.Enabled {
		return nil
	}

	ruleList := EffectiveRules(cfg)
	if len(ruleList) == 0 {
		return nil
	}

	labelSet := normalizeLabelSet(signal.LabelSet(), cfg.CanonicalLabels)

	for i := range ruleList {
		rule := &ruleList[i]
		if len(rule.Conditions) == 0 {
			continue
		}
		if matchesAll(rule.Conditions, labelSet) {
			return rule
		}
	}
	return nil
}

// EffectiveRules 返回生效的规则列表
// 兼容废弃的 labels 扁平列表：每个标签迁移为单条件规则，id 为
// "migrated-<小写标签>"，保持原始顺序
func EffectiveRules(cfg *config.CompanyConfig) []config.NotifyRule {
	notify := cfg.SafetyStreamNotify
	if len(notify.Rules) > 0 {
		return notify.Rules
	}

	if len(notify.Labels) == 0 {
		return nil
	}

	migrated := make([]config.NotifyRule, 0, len(notify.Labels))
	for _, label := range notify.Labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		migrated = append(migrated, config.NotifyRule{
			ID:         fmt.Sprintf("migrated-%s", strings.ToLower(label)),
			Conditions: []string{label},
			Action:     models.ActionImmediateNotify,
		})
	}
	return migrated
}

// normalizeLabelSet 归一化标签集合
// 与租户的规范标签列表做大小写不敏感匹配，命中则采用规范写法；
// 未识别的标签原样透传
func normalizeLabelSet(labels []string, canonical []string) map[string]struct{} {
	canonicalByKey := make(map[string]string, len(canonical))
	for _, c := range canonical {
		canonicalByKey[strings.ToLower(strings.TrimSpace(c))] = c
	}

	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			continue
		}
		if _, ok := canonicalByKey[key]; ok {
			set[key] = struct{}{}
			continue
		}
		// 未识别标签：透传（仍按小写键匹配）
		set[key] = struct{}{}
	}
	return set
}

// matchesAll AND 语义：所有条件标签必须全部出现
func matchesAll(conditions []string, labelSet map[string]struct{}) bool {
	for _, cond := range conditions {
		key := strings.ToLower(strings.TrimSpace(cond))
		if key == "" {
			continue
		}
		if _, ok := labelSet[key]; !ok {
			return false
		}
	}
	return true
}
