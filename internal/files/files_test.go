package files

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

func TestLocalStoreList(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root, "/api/files")
	ctx := context.Background()

	list, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, list, "missing dir lists as empty")

	dir := filepath.Join(root, "r1")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a report.md"), []byte("a"), 0o644))

	list, err = s.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a report.md", list[0].Name)
	assert.Equal(t, "/api/files/r1/a%20report.md", list[0].URL)
	assert.Equal(t, int64(2), list[1].Size)

	require.NoError(t, s.Remove("r1"))
	list, err = s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, s.Remove("r1"), "removing a missing dir is not an error")
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := NewLocalStore(t.TempDir(), "")
	for _, id := range []string{"", ".", "..", "../etc", "a/b", `a\b`, "x..y"} {
		_, err := s.List(context.Background(), id)
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput), "reqId %q", id)
	}
	_, err := s.Open("r1", "../secret")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestLocalStoreOpen(t *testing.T) {
	root := t.TempDir()
	s := NewLocalStore(root, "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "r1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "r1", "out.csv"), []byte("x"), 0o644))

	path, err := s.Open("r1", "out.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "r1", "out.csv"), path)

	_, err = s.Open("r1", "none.csv")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRemoteLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_file_list" {
			http.NotFound(w, r)
			return
		}
		var req remoteListRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.RequestID == "boom" {
			http.Error(w, "internal", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(remoteListResponse{
			Results: []remoteFile{
				{FileName: "report.html", DomainURL: "http://cdn/report.html", FileSize: 10, CreateTime: 1700000000000},
				{FileName: "raw.json", OssURL: "oss://raw.json"},
			},
			TotalSize: 2,
		})
	}))
	defer srv.Close()

	l := NewRemoteLister(srv.URL+"/", time.Second)
	list, err := l.List(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "http://cdn/report.html", list[0].URL)
	assert.Equal(t, time.UnixMilli(1700000000000), list[0].ModTime)
	assert.Equal(t, "oss://raw.json", list[1].URL)

	_, err = l.List(context.Background(), "boom")
	assert.Error(t, err)
	_, err = l.List(context.Background(), "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// countingLister 统计下游调用次数, 可阻塞以制造并发。
type countingLister struct {
	calls atomic.Int32
	gate  chan struct{}
	files []File
}

func (l *countingLister) List(ctx context.Context, _ string) ([]File, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.files, nil
}

func TestCachedListerCachesAndDedupes(t *testing.T) {
	next := &countingLister{gate: make(chan struct{}), files: []File{{Name: "a"}}}
	c := NewCachedLister(next, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := c.List(context.Background(), "r1")
			assert.NoError(t, err)
			assert.Len(t, list, 1)
		}()
	}
	// 等待第一个调用进入下游后放行
	require.Eventually(t, func() bool { return next.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()
	assert.Equal(t, int32(1), next.calls.Load())

	list, _ := c.List(context.Background(), "r1")
	list[0].Name = "mutated"
	again, _ := c.List(context.Background(), "r1")
	assert.Equal(t, "a", again[0].Name)
	assert.Equal(t, int32(1), next.calls.Load(), "served from cache")

	c.Invalidate("r1")
	_, _ = c.List(context.Background(), "r1")
	assert.Equal(t, int32(2), next.calls.Load())
}

// ctxLister 在 gate 放行前阻塞; ctx 被取消时返回 ctx.Err()。
type ctxLister struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (l *ctxLister) List(ctx context.Context, _ string) ([]File, error) {
	l.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.gate:
		return []File{{Name: "a"}}, nil
	}
}

func TestCachedListerFirstCallerCancelDoesNotFailOthers(t *testing.T) {
	next := &ctxLister{gate: make(chan struct{})}
	c := NewCachedLister(next, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.List(firstCtx, "r1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		list []File
		err  error
	}
	second := make(chan result, 1)
	go func() {
		list, err := c.List(context.Background(), "r1")
		second <- result{list, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(next.gate)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Len(t, res.list, 1)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedListerWithoutTTL(t *testing.T) {
	next := &countingLister{files: []File{}}
	c := NewCachedLister(next, 0)
	_, _ = c.List(context.Background(), "r1")
	_, _ = c.List(context.Background(), "r1")
	assert.Equal(t, int32(2), next.calls.Load())
	c.Invalidate("r1")
}

func TestToFileInfos(t *testing.T) {
	infos := ToFileInfos([]File{{Name: "a", URL: "u", Size: 3}})
	require.Len(t, infos, 1)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, int64(3), infos[0].Size)
}
