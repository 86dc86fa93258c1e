// Package uistate 维护单轮对话 (Turn) 的累积状态与 UI 快照。
//
//   - Merge        纯函数: 将一帧折叠进 Turn
//   - Extract      任务列表 + 当前计划 (深拷贝)
//   - WorkspaceGate 工作区面板的粘滞显示判定
//   - Snapshot     不可变快照, 经 bus 推送给展示层
package uistate

import (
	"encoding/json"
	"time"
)

// ========================================
// 状态常量
// ========================================

// TurnStatus 轮次状态。
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnStreaming TurnStatus = "streaming"
	TurnFinished  TurnStatus = "finished"
)

// Notice 轮次结束时需展示给操作者的提示。
type Notice string

const (
	NoticeNone             Notice = ""
	NoticeQuotaExhausted   Notice = "quota_exhausted"
	NoticeStreamOpenFailed Notice = "stream_open_failed"
	NoticeStreamFailed     Notice = "stream_failed"
	NoticeStreamIncomplete Notice = "stream_incomplete"
	NoticeAgentFailed      Notice = "agent_failed"
	NoticeStopped          Notice = "stopped"
)

// 固定消息类型。
const (
	MessageTypePlan        = "plan"
	MessageTypePlanThought = "plan_thought"
	MessageTypeToolThought = "tool_thought"
	MessageTypeFile        = "file"
)

// ========================================
// 数据模型
// ========================================

// Task 一个可渲染单元 (工具调用 / 文件产物 / 总结)。
type Task struct {
	ID          string          `json:"id"`
	TurnID      string          `json:"turnId,omitempty"`
	MessageType string          `json:"messageType"`
	Time        time.Time       `json:"messageTime"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Text        string          `json:"text,omitempty"`
	Final       bool            `json:"isFinal"`
}

// Plan 结构化多步计划, 新计划整体替换旧计划。
type Plan struct {
	Title      string          `json:"title,omitempty"`
	Stages     []string        `json:"stages,omitempty"`
	Steps      []string        `json:"steps,omitempty"`
	StepStatus []string        `json:"stepStatus,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Turn 一次查询及其逐步成形的回答。
type Turn struct {
	SubmissionID   string     `json:"submissionId"`
	SessionID      string     `json:"sessionId"`
	TurnID         string     `json:"reqId,omitempty"` // 服务端分配, 首个携带 reqId 的帧之前为空
	Query          string     `json:"query"`
	Thought        string     `json:"thought,omitempty"`
	Response       string     `json:"response,omitempty"`
	ResponseFinal  bool       `json:"responseFinal,omitempty"` // responseAll 已覆盖, 不再由任务重算
	Status         TurnStatus `json:"status"`
	Finished       bool       `json:"finished"`
	ForceStop      bool       `json:"forceStop,omitempty"`
	Errored        bool       `json:"errored,omitempty"`
	QuotaExhausted bool       `json:"quotaExhausted,omitempty"`
	Notice         Notice     `json:"notice,omitempty"`
	Tasks          []Task     `json:"tasks"`
	Plan           *Plan      `json:"plan,omitempty"`
	FrameCount     int        `json:"frameCount,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
}

// NewTurn 创建 pending 状态的轮次。
func NewTurn(sessionID, submissionID, query string, now time.Time) Turn {
	return Turn{
		SubmissionID: submissionID,
		SessionID:    sessionID,
		Query:        query,
		Status:       TurnPending,
		Tasks:        []Task{},
		StartedAt:    now,
	}
}

// Key 轮次的稳定标识: 有 reqId 用 reqId, 否则用本地提交 ID。
func (t Turn) Key() string {
	if t.TurnID != "" {
		return t.TurnID
	}
	return t.SubmissionID
}

// Finish 标记轮次结束 (幂等)。
func (t *Turn) Finish(now time.Time) {
	if t.Finished {
		return
	}
	t.Finished = true
	t.Status = TurnFinished
	t.FinishedAt = &now
}

// Fail 标记出错结束并附带提示; 已结束的轮次不变。
func (t *Turn) Fail(notice Notice, now time.Time) {
	if t.Finished {
		return
	}
	t.Errored = true
	t.Notice = notice
	t.Finish(now)
}

// Stop 操作者强制停止。
func (t *Turn) Stop(now time.Time) {
	if t.Finished {
		return
	}
	t.ForceStop = true
	t.Notice = NoticeStopped
	t.Finish(now)
}
