// ws.go: WebSocket 传输: 建连后发送一次请求, 每条文本消息为一帧。
package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/multi-agent/agent-console/pkg/errors"
)

// WSTransport gorilla/websocket 传输。
type WSTransport struct {
	URL         string
	Header      http.Header
	dialer      websocket.Dialer
	readTimeout time.Duration
}

// NewWSTransport 创建 WebSocket 传输。readTimeout>0 时每帧刷新读超时 (pong 亦刷新)。
func NewWSTransport(url string, connectTimeout, readTimeout time.Duration) *WSTransport {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &WSTransport{
		URL: url,
		dialer: websocket.Dialer{
			HandshakeTimeout: connectTimeout,
			NetDialContext:   (&net.Dialer{Timeout: connectTimeout}).DialContext,
			ReadBufferSize:   64 * 1024,
		},
		readTimeout: readTimeout,
	}
}

// Name 传输名。
func (t *WSTransport) Name() string { return "ws" }

// Connect 拨号并发送请求体。
func (t *WSTransport) Connect(ctx context.Context, req Request) (FrameReader, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, apperrors.Wrapf(err, "WSTransport.Connect", "dial %s (status %d)", t.URL, resp.StatusCode)
		}
		return nil, apperrors.Wrapf(err, "WSTransport.Connect", "dial %s", t.URL)
	}
	conn.SetReadLimit(sseMaxFrameBytes)
	if t.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		})
	}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, apperrors.Wrap(err, "WSTransport.Connect", "send request")
	}
	return &wsReader{conn: conn, readTimeout: t.readTimeout}, nil
}

type wsReader struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
}

func (r *wsReader) Next() ([]byte, error) {
	for {
		mt, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, err
		}
		if r.readTimeout > 0 {
			_ = r.conn.SetReadDeadline(time.Now().Add(r.readTimeout))
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (r *wsReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = r.conn.Close()
	})
	return err
}
