package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSETransportSplitsEvents(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q", accept)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: message\nid: 1\ndata: heartbeat\n\n")
		fmt.Fprint(w, "data: {\"packageType\":\"data\",\n")
		fmt.Fprint(w, "data: \"reqId\":\"r1\"}\n\n")
		fmt.Fprint(w, "data: {\"finished\":true,\"responseAll\":\"ok\"}") // 无结尾空行
	}))
	defer srv.Close()

	tr := NewSSETransport(srv.URL, time.Second)
	reader, err := tr.Connect(context.Background(), Request{SessionID: "s1", TurnSubmissionID: "sub1", Query: "hello"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer reader.Close()

	var frames []Frame
	for {
		raw, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("DecodeFrame(%q): %v", raw, err)
		}
		frames = append(frames, f)
	}

	if got.Query != "hello" || got.SessionID != "s1" || got.TurnSubmissionID != "sub1" {
		t.Errorf("request body = %+v", got)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if !frames[0].IsHeartbeat() {
		t.Error("frame 0 should be heartbeat")
	}
	if frames[1].ReqID != "r1" {
		t.Errorf("multi-line data frame reqId = %q", frames[1].ReqID)
	}
	if !frames[2].HasFullResponse() {
		t.Error("trailing frame without blank line should still be delivered")
	}
}

func TestSSETransportRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSSETransport(srv.URL, time.Second).Connect(context.Background(), Request{Query: "q"})
	if err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestClientOverSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"packageType\":\"data\",\"reqId\":\"r9\"}\n\n")
		fmt.Fprint(w, "data: {\"packageType\":\"data\",\"finished\":true,\"responseAll\":\"bye\"}\n\n")
	}))
	defer srv.Close()

	rec := &recorder{}
	s, err := NewClient(NewSSETransport(srv.URL, time.Second)).
		Open(context.Background(), Request{Query: "q"}, rec.handler())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)
	if len(rec.frames) != 2 || rec.closes != 1 || len(rec.errs) != 0 {
		t.Fatalf("frames=%d closes=%d errs=%v", len(rec.frames), rec.closes, rec.errs)
	}
}
