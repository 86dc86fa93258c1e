// snapshot.go: 推送给展示层的不可变快照。
package uistate

import (
	"encoding/json"
	"time"
)

// TurnSnapshot 单轮次的 UI 视图。
type TurnSnapshot struct {
	Turn           Turn   `json:"turn"`
	WorkspaceOpen  bool   `json:"workspaceOpen"`
	WorkspaceTasks []Task `json:"workspaceTasks"` // 历史恢复时为文件任务, 否则同 Turn.Tasks
	Restored       bool   `json:"restored,omitempty"`
}

// SessionSnapshot 整个会话的 UI 视图。Seq 单调递增, 供订阅方丢弃过期快照。
type SessionSnapshot struct {
	SessionID          string         `json:"sessionId"`
	Title              string         `json:"title,omitempty"`
	Turns              []TurnSnapshot `json:"turns"`
	ActiveSubmissionID string         `json:"activeSubmissionId,omitempty"`
	Generation         uint64         `json:"generation"`
	Seq                uint64         `json:"seq"`
	At                 time.Time      `json:"at"`
}

// NewTurnSnapshot 由轮次与门控状态构造快照 (深拷贝)。
func NewTurnSnapshot(turn Turn, workspaceOpen bool) TurnSnapshot {
	tasks, _ := Extract(turn)
	return TurnSnapshot{
		Turn:           CloneTurn(turn),
		WorkspaceOpen:  workspaceOpen,
		WorkspaceTasks: tasks,
	}
}

// Clone 深拷贝会话快照。
func (s SessionSnapshot) Clone() SessionSnapshot {
	out := s
	out.Turns = make([]TurnSnapshot, len(s.Turns))
	for i := range s.Turns {
		out.Turns[i] = cloneTurnSnapshot(s.Turns[i])
	}
	return out
}

// Active 返回当前活动轮次快照。
func (s SessionSnapshot) Active() (TurnSnapshot, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Turn.SubmissionID == s.ActiveSubmissionID {
			return s.Turns[i], true
		}
	}
	return TurnSnapshot{}, false
}

// FileInfo 文件任务所需的最小文件描述。
type FileInfo struct {
	Name string    `json:"fileName"`
	URL  string    `json:"url,omitempty"`
	Size int64     `json:"size,omitempty"`
	Time time.Time `json:"-"`
}

// NewFileTasks 由文件列表生成文件类型任务 (历史恢复时填充工作区)。
func NewFileTasks(turnID string, files []FileInfo) []Task {
	out := make([]Task, 0, len(files))
	for i, f := range files {
		payload, _ := json.Marshal(f)
		out = append(out, Task{
			ID:          PositionalTaskID(turnID+"/file", i),
			TurnID:      turnID,
			MessageType: MessageTypeFile,
			Time:        f.Time,
			Payload:     payload,
			Text:        f.Name,
			Final:       true,
		})
	}
	return out
}
