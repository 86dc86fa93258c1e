// clone.go: Turn / Snapshot 深拷贝工具函数。
package uistate

import "encoding/json"

// CloneTurn 深拷贝轮次, 包括任务载荷、计划与时间指针。
func CloneTurn(src Turn) Turn {
	out := src
	out.Tasks = cloneTasks(src.Tasks)
	out.Plan = clonePlan(src.Plan)
	if src.FinishedAt != nil {
		v := *src.FinishedAt
		out.FinishedAt = &v
	}
	return out
}

// cloneTasks deep-copies tasks including raw payloads. 总是返回非 nil 切片。
func cloneTasks(src []Task) []Task {
	out := make([]Task, len(src))
	copy(out, src)
	for i := range out {
		out[i].Payload = cloneRaw(out[i].Payload)
	}
	return out
}

func clonePlan(src *Plan) *Plan {
	if src == nil {
		return nil
	}
	out := &Plan{
		Title:      src.Title,
		Stages:     cloneStrings(src.Stages),
		Steps:      cloneStrings(src.Steps),
		StepStatus: cloneStrings(src.StepStatus),
		Raw:        cloneRaw(src.Raw),
	}
	return out
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func cloneRaw(src json.RawMessage) json.RawMessage {
	if src == nil {
		return nil
	}
	return append(json.RawMessage(nil), src...)
}

func cloneTurnSnapshot(src TurnSnapshot) TurnSnapshot {
	out := src
	out.Turn = CloneTurn(src.Turn)
	out.WorkspaceTasks = cloneTasks(src.WorkspaceTasks)
	return out
}
