// sse.go: SSE 传输: POST JSON, 按 "data:" 行切帧。
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

const sseMaxFrameBytes = 4 * 1024 * 1024

// SSETransport 通过 HTTP POST + text/event-stream 接收帧。
type SSETransport struct {
	URL     string
	Client  *http.Client
	Headers map[string]string
}

// NewSSETransport 创建 SSE 传输。connectTimeout 仅约束建连与响应头, 不约束流本身。
func NewSSETransport(url string, connectTimeout time.Duration) *SSETransport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &SSETransport{
		URL: url,
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
				ResponseHeaderTimeout: connectTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Name 传输名。
func (t *SSETransport) Name() string { return "sse" }

// Connect 发送请求并返回帧读取器。非 2xx 响应视为连接失败。
func (t *SSETransport) Connect(ctx context.Context, req Request) (FrameReader, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "SSETransport.Connect", "marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(err, "SSETransport.Connect", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.Headers {
		httpReq.Header.Set(k, v)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, "SSETransport.Connect", "post stream request")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, apperrors.Newf("SSETransport.Connect", "unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), sseMaxFrameBytes)
	return &sseReader{body: resp.Body, scanner: scanner}, nil
}

type sseReader struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	closeOnce sync.Once
}

// Next 读取下一个事件的 data 内容; 多行 data 以 "\n" 拼接。
func (r *sseReader) Next() ([]byte, error) {
	var buf bytes.Buffer
	hasData := false
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				return buf.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // 注释 / keepalive
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue // event / id / retry 不参与帧内容
		}
		if hasData {
			buf.WriteByte('\n')
		}
		buf.WriteString(value)
		hasData = true
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("sse scan: %w", err)
	}
	if hasData {
		return buf.Bytes(), nil
	}
	return nil, io.EOF
}

func (r *sseReader) Close() error {
	var err error
	r.closeOnce.Do(func() { err = r.body.Close() })
	return err
}
