package uistate

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EntryKind eventData 条目分类。
type EntryKind int

const (
	EntrySkip    EntryKind = iota // 缺少 messageType, 视为无更新
	EntryTask                     // 可渲染任务
	EntryPlan                     // 计划 (整体替换)
	EntryThought                  // 思考文本 (覆盖)
)

// ClassifyEntry 按 messageType 分类条目。纯函数, 无状态。
func ClassifyEntry(messageType string) EntryKind {
	switch strings.TrimSpace(messageType) {
	case "":
		return EntrySkip
	case MessageTypePlan:
		return EntryPlan
	case MessageTypePlanThought, MessageTypeToolThought:
		return EntryThought
	default:
		return EntryTask
	}
}

// 文本提取优先级。
var (
	summaryTextKeys = []string{"taskSummary", "response", "text", "content"}
	thoughtTextKeys = []string{"thought", "planThought", "toolThought", "text"}
)

// payloadText 按 keys 优先级从载荷中提取首个非空字符串; 载荷本身是字符串时直接返回。
func payloadText(raw json.RawMessage, keys []string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return ""
	}
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parsePlan 解析计划载荷; 无有效内容时返回 nil (不替换现有计划)。
func parsePlan(raw json.RawMessage) *Plan {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var payload struct {
		Title      string   `json:"title"`
		Stages     []string `json:"stages"`
		Steps      []string `json:"steps"`
		StepStatus []string `json:"stepStatus"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if payload.Title == "" && len(payload.Stages) == 0 && len(payload.Steps) == 0 {
		return nil
	}
	return &Plan{
		Title:      payload.Title,
		Stages:     payload.Stages,
		Steps:      payload.Steps,
		StepStatus: payload.StepStatus,
		Raw:        append(json.RawMessage(nil), raw...),
	}
}
