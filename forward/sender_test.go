package forward_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
)

func newTestEvent() *event.Event {
	return event.New("github", "push", []byte(`{"ref":"refs/heads/main"}`),
		map[string]string{"X-Github-Event": "push"}, true)
}

func TestSenderHappyPath(t *testing.T) {
	var receivedHeaders http.Header
	var receivedBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedHeaders = r.Header
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			t.Error(err)
		}
		receivedBody = string(bodyBytes)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := forward.NewSender(5*time.Second, "Event Relay Hub")
	evt := newTestEvent()

	result := sender.Send(context.Background(), evt, srv.URL)

	if !result.Success || result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected delivered 202, got %+v", result)
	}
	if result.Error != "" || result.Reason != "" {
		t.Fatalf("unexpected failure fields: %+v", result)
	}
	if receivedBody != string(evt.RawPayload) {
		t.Fatalf("body: got %q, want the raw payload", receivedBody)
	}

	want := map[string]string{
		"Content-Type":     "application/json",
		"X-Forwarded-From": "Event Relay Hub",
		"X-Event-Source":   "github",
		"X-Event-Type":     "push",
		"X-Event-Id":       evt.ID.String(),
	}
	for k, v := range want {
		if got := receivedHeaders.Get(k); got != v {
			t.Fatalf("header %s: got %q, want %q", k, got, v)
		}
	}
}

func TestSenderSuccessStatuses(t *testing.T) {
	for code, ok := range map[int]bool{200: true, 201: true, 202: true, 204: true, 203: false, 400: false, 503: false} {
		if forward.IsSuccessStatus(code) != ok {
			t.Errorf("IsSuccessStatus(%d) != %v", code, ok)
		}
	}
}

func TestSenderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer srv.Close()

	result := forward.NewSender(5*time.Second, "hub").Send(context.Background(), newTestEvent(), srv.URL)

	if result.Success || result.StatusCode != 500 {
		t.Fatalf("expected failed 500, got %+v", result)
	}
	if result.Reason != forward.ReasonHTTPStatus {
		t.Fatalf("expected reason %s, got %s", forward.ReasonHTTPStatus, result.Reason)
	}
	if !strings.HasPrefix(result.Error, "HTTP 500: ") {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.Error) > forward.MaxErrorLength {
		t.Fatalf("error not truncated: %d bytes", len(result.Error))
	}
}

func TestSenderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Very short timeout.
	result := forward.NewSender(50*time.Millisecond, "hub").Send(context.Background(), newTestEvent(), srv.URL)

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on timeout, got %d", result.StatusCode)
	}
	if result.Error != "Request timeout" || result.Reason != forward.ReasonTimeout {
		t.Fatalf("expected timeout, got %+v", result)
	}
}

func TestSenderConnectionRefused(t *testing.T) {
	// port 1 should refuse connections
	result := forward.NewSender(5*time.Second, "hub").Send(context.Background(), newTestEvent(), "http://127.0.0.1:1")

	if result.StatusCode != 0 {
		t.Fatalf("expected status 0 on connection refused, got %d", result.StatusCode)
	}
	if result.Error == "" || result.Reason != forward.ReasonNetworkError {
		t.Fatalf("expected network error, got %+v", result)
	}
}
