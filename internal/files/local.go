// local.go: 本地目录文件存储: {root}/{reqId}/*。
package files

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
	"github.com/multi-agent/agent-console/pkg/logger"
)

// LocalStore 以本地目录保存每个轮次的文件。
type LocalStore struct {
	root    string
	baseURL string // 文件下载 URL 前缀, 如 "/api/files"
}

// NewLocalStore 创建本地存储。
func NewLocalStore(root, baseURL string) *LocalStore {
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir 返回轮次目录; reqId 含路径分隔符或 ".." 时拒绝。
func (s *LocalStore) Dir(turnID string) (string, error) {
	if turnID == "" || turnID == "." || turnID == ".." ||
		strings.ContainsAny(turnID, `/\`) || strings.Contains(turnID, "..") {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "LocalStore.Dir", "invalid reqId %q", turnID)
	}
	return filepath.Join(s.root, turnID), nil
}

// List 列出轮次目录下的普通文件 (按名称排序); 目录不存在返回空列表。
func (s *LocalStore) List(_ context.Context, turnID string) ([]File, error) {
	dir, err := s.Dir(turnID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []File{}, nil
		}
		return nil, apperrors.Wrap(err, "LocalStore.List", "read dir")
	}
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		f := File{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()}
		if s.baseURL != "" {
			f.URL = s.baseURL + "/" + url.PathEscape(turnID) + "/" + url.PathEscape(e.Name())
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Open 返回文件绝对路径; 文件名同样拒绝路径穿越。
func (s *LocalStore) Open(turnID, name string) (string, error) {
	dir, err := s.Dir(turnID)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || name == ".." {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "LocalStore.Open", "invalid file name %q", name)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", apperrors.Wrapf(apperrors.ErrNotFound, "LocalStore.Open", "file %s not found", name)
		}
		return "", apperrors.Wrap(err, "LocalStore.Open", "stat file")
	}
	return path, nil
}

// Remove 删除轮次目录 (会话删除时调用); 目录不存在视为成功。
func (s *LocalStore) Remove(turnID string) error {
	dir, err := s.Dir(turnID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.Wrap(err, "LocalStore.Remove", "remove dir")
	}
	logger.Info("files: removed turn directory", logger.FieldTurnID, turnID, logger.FieldPath, dir)
	return nil
}
