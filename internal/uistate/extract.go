// extract.go: Task Extractor。
package uistate

// Extract 返回按到达顺序排列的任务列表与当前计划 (均为深拷贝)。
// 顺序即 upsert 顺序, 从不按类型或时间重排。
func Extract(turn Turn) ([]Task, *Plan) {
	return cloneTasks(turn.Tasks), clonePlan(turn.Plan)
}
