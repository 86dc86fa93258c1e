// Package files 按轮次 ID (reqId) 列出 Agent 产出的文件。
//
// 仅在历史恢复时使用: 有文件则自动打开工作区, 并以文件任务填充。
package files

import (
	"context"
	"time"

	"github.com/multi-agent/agent-console/internal/uistate"
)

// File 一个产物文件。
type File struct {
	Name        string    `json:"fileName"`
	URL         string    `json:"url,omitempty"`
	Size        int64     `json:"size"`
	Description string    `json:"description,omitempty"`
	ModTime     time.Time `json:"modTime"`
}

// Lister 文件列表协作方。
type Lister interface {
	List(ctx context.Context, turnID string) ([]File, error)
}

// ToFileInfos 转换为 uistate 文件描述。
func ToFileInfos(list []File) []uistate.FileInfo {
	out := make([]uistate.FileInfo, 0, len(list))
	for _, f := range list {
		out = append(out, uistate.FileInfo{Name: f.Name, URL: f.URL, Size: f.Size, Time: f.ModTime})
	}
	return out
}
