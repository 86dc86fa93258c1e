// merge.go: Delta Merger: 帧 → 轮次状态的纯折叠。
package uistate

import (
	"fmt"
	"strings"

	"github.com/multi-agent/agent-console/internal/stream"
)

// Merger 持有响应文本重算所需的 summary 类型集合。零值可用 (默认集合)。
type Merger struct {
	summary TypeSet
}

// NewMerger 创建 Merger。
func NewMerger(summary TypeSet) Merger {
	return Merger{summary: summary}
}

// Merge 使用默认 summary 集合折叠一帧。
func Merge(turn Turn, f stream.Frame) Turn {
	return Merger{}.Merge(turn, f)
}

// Merge 将一帧折叠进轮次状态, 返回新状态; 输入 turn 不被修改。
//
// 规则:
//   - 心跳、已结束轮次: 原样返回
//   - 额度耗尽: 立即结束并标记提示, 不处理该帧载荷
//   - 数据帧: 任务按 ID upsert; 计划整体替换; 思考仅被非空新值覆盖
//   - 终结帧 responseAll 覆盖累计响应文本 (权威)
//   - 缺失/空字段不清除已有状态
func (m Merger) Merge(turn Turn, f stream.Frame) Turn {
	if f.IsHeartbeat() || turn.Finished {
		return turn
	}
	out := CloneTurn(turn)
	out.FrameCount++
	now := f.ReceivedAt

	if f.Status == stream.StatusQuotaExhausted {
		out.QuotaExhausted = true
		out.Notice = NoticeQuotaExhausted
		out.Finish(now)
		return out
	}

	if out.TurnID == "" && f.ReqID != "" {
		out.TurnID = f.ReqID
	}
	out.Status = TurnStreaming

	// eventData 无法解析时整帧载荷视为无更新。
	if events, err := f.Events(); err == nil {
		for _, e := range events {
			m.applyEntry(&out, e)
		}
	}

	if !out.ResponseFinal {
		if text := m.summaryText(out.Tasks); text != "" {
			out.Response = text
		}
	}
	if f.HasFullResponse() {
		out.Response = f.ResponseAll
		out.ResponseFinal = true
	}
	if f.Status == stream.StatusFailed {
		out.Errored = true
		out.Notice = NoticeAgentFailed
	}
	if f.IsTerminal() {
		out.Finish(now)
	}
	return out
}

func (m Merger) applyEntry(turn *Turn, e stream.EventData) {
	switch ClassifyEntry(e.MessageType) {
	case EntryPlan:
		if plan := parsePlan(e.ResultMap); plan != nil {
			turn.Plan = plan
		}
	case EntryThought:
		if text := payloadText(e.ResultMap, thoughtTextKeys); strings.TrimSpace(text) != "" {
			turn.Thought = text
		}
	case EntryTask:
		upsertTask(turn, Task{
			TurnID:      turn.Key(),
			MessageType: strings.TrimSpace(e.MessageType),
			Time:        e.Timestamp(),
			Payload:     cloneRaw(e.ResultMap),
			Text:        payloadText(e.ResultMap, summaryTextKeys),
			Final:       e.IsFinal,
		}, e.ExplicitID())
	}
}

// upsertTask 显式 ID 命中则原位替换, 否则追加。
// 无显式 ID 的任务以 (轮次, 追加位置) 为标识, 因此总是追加。
func upsertTask(turn *Turn, task Task, explicitID string) {
	if explicitID != "" {
		task.ID = explicitID
		for i := range turn.Tasks {
			if turn.Tasks[i].ID == explicitID {
				if task.Time.IsZero() {
					task.Time = turn.Tasks[i].Time
				}
				turn.Tasks[i] = task
				return
			}
		}
	} else {
		task.ID = PositionalTaskID(turn.Key(), len(turn.Tasks))
	}
	turn.Tasks = append(turn.Tasks, task)
}

// PositionalTaskID 无显式 ID 时的任务标识。
func PositionalTaskID(turnKey string, position int) string {
	return fmt.Sprintf("%s#%d", turnKey, position)
}

func (m Merger) summaryText(tasks []Task) string {
	summary := m.summary
	if len(summary) == 0 {
		summary = NewTypeSet(DefaultSummaryTypes...)
	}
	var parts []string
	for _, task := range tasks {
		if summary.Contains(task.MessageType) && strings.TrimSpace(task.Text) != "" {
			parts = append(parts, task.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
