// workspace.go: 工作区面板显示判定。
package uistate

import "strings"

// DefaultSummaryTypes 默认的"终结/总结"消息类型, 不触发工作区。
var DefaultSummaryTypes = []string{"result", "task_summary"}

// TypeSet 封闭的消息类型集合, 由配置声明, 不从数据推断。
type TypeSet map[string]struct{}

// NewTypeSet 构造集合; 空白项被忽略。
func NewTypeSet(types ...string) TypeSet {
	set := make(TypeSet, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Contains 是否包含该类型。
func (s TypeSet) Contains(messageType string) bool {
	_, ok := s[messageType]
	return ok
}

// ShouldShowWorkspace 至少一个任务的类型不在 summary 集合内时为 true。
func ShouldShowWorkspace(tasks []Task, summary TypeSet) bool {
	return countDetailTasks(tasks, summary) > 0
}

func countDetailTasks(tasks []Task, summary TypeSet) int {
	n := 0
	for _, task := range tasks {
		if !summary.Contains(task.MessageType) {
			n++
		}
	}
	return n
}

// WorkspaceGate 单轮次的粘滞开关: 打开后只能由操作者关闭。
// 关闭后, 仅当出现新的明细任务时才会再次打开。
// 非并发安全, 由持有轮次状态的一方串行调用。
type WorkspaceGate struct {
	summary TypeSet
	open    bool
	seen    int // 关闭时已有的明细任务数
}

// NewWorkspaceGate 创建门控。summary 为空时使用 DefaultSummaryTypes。
func NewWorkspaceGate(summary TypeSet) *WorkspaceGate {
	if len(summary) == 0 {
		summary = NewTypeSet(DefaultSummaryTypes...)
	}
	return &WorkspaceGate{summary: summary}
}

// Observe 在任务列表变化后调用, 返回当前是否打开。
func (g *WorkspaceGate) Observe(tasks []Task) bool {
	if g.open {
		return true
	}
	if countDetailTasks(tasks, g.summary) > g.seen {
		g.open = true
	}
	return g.open
}

// Close 操作者关闭工作区。
func (g *WorkspaceGate) Close(tasks []Task) {
	g.open = false
	g.seen = countDetailTasks(tasks, g.summary)
}

// Open 强制打开 (历史恢复且存在文件时)。
func (g *WorkspaceGate) Open() { g.open = true }

// IsOpen 当前状态。
func (g *WorkspaceGate) IsOpen() bool { return g.open }
