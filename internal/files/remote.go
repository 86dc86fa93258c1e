// remote.go: 远程文件服务: POST {base}/get_file_list。
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

const remotePageSize = 100

// RemoteLister 调用远程文件服务获取文件列表。
type RemoteLister struct {
	baseURL string
	client  *http.Client
}

// NewRemoteLister 创建远程列表客户端。
func NewRemoteLister(baseURL string, timeout time.Duration) *RemoteLister {
	return &RemoteLister{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type remoteListRequest struct {
	RequestID string `json:"requestId"`
	Page      int    `json:"page"`
	PageSize  int    `json:"pageSize"`
}

type remoteFile struct {
	FileName    string `json:"fileName"`
	DomainURL   string `json:"domainUrl"`
	OssURL      string `json:"ossUrl"`
	FileSize    int64  `json:"fileSize"`
	Description string `json:"description"`
	CreateTime  int64  `json:"createTime"` // 毫秒
}

type remoteListResponse struct {
	Results   []remoteFile `json:"results"`
	TotalSize int          `json:"totalSize"`
}

// List 获取文件列表 (单页, 至多 remotePageSize 个)。
func (l *RemoteLister) List(ctx context.Context, turnID string) ([]File, error) {
	const op = "RemoteLister.List"
	if strings.TrimSpace(turnID) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, op, "reqId is required")
	}
	body, _ := json.Marshal(remoteListRequest{RequestID: turnID, Page: 1, PageSize: remotePageSize})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/get_file_list", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperrors.WithCode(err, op, apperrors.CodeTransport, "post get_file_list")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return []File{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Newf(op, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out remoteListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(err, op, "decode response")
	}
	list := make([]File, 0, len(out.Results))
	for _, f := range out.Results {
		file := File{
			Name:        f.FileName,
			URL:         f.DomainURL,
			Size:        f.FileSize,
			Description: f.Description,
		}
		if file.URL == "" {
			file.URL = f.OssURL
		}
		if f.CreateTime > 0 {
			file.ModTime = time.UnixMilli(f.CreateTime)
		}
		list = append(list, file)
	}
	return list, nil
}
