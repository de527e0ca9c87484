package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/relayhub"
	"github.com/xraph/relayhub/api"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/observability"
	"github.com/xraph/relayhub/ratelimit"
	"github.com/xraph/relayhub/store/memory"
)

type testEnv struct {
	srv   *httptest.Server
	hub   *relayhub.Hub
	store *memory.Store
}

// newEnv creates a Handler backed by a memory store and returns the test server.
func newEnv(t *testing.T, cfg api.Config, opts ...relayhub.Option) *testEnv {
	t.Helper()

	s := memory.New()
	hub, err := relayhub.New(append([]relayhub.Option{relayhub.WithStore(s)}, opts...)...)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	srv := httptest.NewServer(api.NewHandler(hub, cfg, nil))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: s}
}

func do(t *testing.T, method, url string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	return do(t, method, url, r, map[string]string{"Content-Type": "application/json"})
}

func post(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	return do(t, http.MethodPost, url, strings.NewReader(body), headers)
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

// --- Intake ---

func TestWebhook_IngestAndFetch(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := post(t, env.srv.URL+"/webhook/custom", `{"event":"order.created","id":7}`, nil)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Fatal("expected a request ID header")
	}
	var created map[string]any
	decodeBody(t, resp, &created)
	if created["event_type"] != "order.created" || created["signature_valid"] != false {
		t.Fatalf("unexpected ingest response: %v", created)
	}
	evtID, _ := created["event_id"].(string)

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/events/"+evtID, nil)
	expectStatus(t, resp, http.StatusOK)
	var evt map[string]any
	decodeBody(t, resp, &evt)
	payload, _ := evt["payload"].(map[string]any)
	if payload == nil || payload["id"] != float64(7) {
		t.Fatalf("expected inline JSON payload, got %v", evt["payload"])
	}
	if evt["source"] != "custom" {
		t.Fatalf("expected source custom, got %v", evt["source"])
	}
}

func TestWebhook_RequestIDPropagated(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := do(t, http.MethodGet, env.srv.URL+"/api/stats", nil, map[string]string{api.RequestIDHeader: "req-123"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := resp.Header.Get(api.RequestIDHeader); got != "req-123" {
		t.Fatalf("expected request ID req-123, got %q", got)
	}
}

func TestWebhook_Errors(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := post(t, env.srv.URL+"/webhook/custom", `{not json`, nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = post(t, env.srv.URL+"/webhook/gitlab", `{}`, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, env.srv.URL+"/api/signatures/github", map[string]any{
		"enabled": true,
		"secret":  "gh-secret",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = post(t, env.srv.URL+"/webhook/github", `{"zen":"hi"}`, map[string]string{
		"X-Hub-Signature-256": "sha256=00",
	})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	env := newEnv(t, api.Config{MaxBodyBytes: 16})

	resp := post(t, env.srv.URL+"/webhook/custom", `{"event":"this body is too long"}`, nil)
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()
}

func TestWebhook_RateLimited(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	env := newEnv(t, api.Config{
		Limiter:  ratelimit.NewLocal(1, time.Minute),
		Metrics:  metrics,
		Gatherer: reg,
	}, relayhub.WithMetrics(metrics))

	resp := post(t, env.srv.URL+"/webhook/custom", `{"event":"a"}`, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = post(t, env.srv.URL+"/webhook/custom", `{"event":"b"}`, nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()

	resp = do(t, http.MethodGet, env.srv.URL+"/metrics", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "relayhub_rate_limited_total 1") {
		t.Fatalf("expected rate limit counter in metrics output, got:\n%s", b)
	}
}

// --- Events ---

func TestEvents_ListFilterAndDelete(t *testing.T) {
	env := newEnv(t, api.Config{})

	for _, body := range []string{`{"event":"a"}`, `{"event":"b"}`, `{"type":"charge.failed"}`} {
		source := "custom"
		if strings.Contains(body, "charge") {
			source = "stripe"
		}
		resp := post(t, env.srv.URL+"/webhook/"+source, body, nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/events?source=custom&page_size=1&days=7", nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Total    int64            `json:"total"`
		PageSize int              `json:"page_size"`
		Items    []map[string]any `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 2 || len(list.Items) != 1 || list.PageSize != 1 {
		t.Fatalf("unexpected page: total=%d items=%d size=%d", list.Total, len(list.Items), list.PageSize)
	}

	evtID, _ := list.Items[0]["id"].(string)
	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/events/"+evtID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/events/"+evtID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/events/not-an-id", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestEvents_ReplayWithoutTarget(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := post(t, env.srv.URL+"/webhook/custom", `{"event":"a"}`, nil)
	var created map[string]any
	decodeBody(t, resp, &created)

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/events/"+created["event_id"].(string)+"/replay", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Signatures ---

func TestSignatures_ListHidesSecrets(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := doJSON(t, http.MethodPut, env.srv.URL+"/api/signatures/stripe", map[string]any{
		"enabled": true,
		"secret":  "whsec_hidden",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/signatures", nil)
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if bytes.Contains(raw, []byte("whsec_hidden")) {
		t.Fatal("secret leaked in template listing")
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 built-in templates, got %d", len(list))
	}
	for _, tmpl := range list {
		if _, ok := tmpl["secret"]; ok {
			t.Fatalf("template exposes secret field: %v", tmpl)
		}
		if tmpl["source"] == "stripe" && tmpl["has_secret"] != true {
			t.Fatalf("expected stripe has_secret=true, got %v", tmpl)
		}
	}
}

func TestSignatures_RegisterTestAndIngest(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/signatures", map[string]any{
		"source":           "gitlab",
		"enabled":          true,
		"secret":           "gl-secret",
		"signature_header": "X-Gitlab-Signature",
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/signatures", map[string]any{"source": "gitlab"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	body := `{"event":"merge_request"}`
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/signatures/gitlab/test", map[string]any{"payload": body})
	expectStatus(t, resp, http.StatusOK)
	var hdr map[string]string
	decodeBody(t, resp, &hdr)
	if hdr["header_name"] != "X-Gitlab-Signature" || hdr["header_value"] == "" {
		t.Fatalf("unexpected test header: %v", hdr)
	}

	resp = post(t, env.srv.URL+"/webhook/gitlab", body, map[string]string{hdr["header_name"]: hdr["header_value"]})
	expectStatus(t, resp, http.StatusOK)
	var created map[string]any
	decodeBody(t, resp, &created)
	if created["signature_valid"] != true || created["event_type"] != "merge_request" {
		t.Fatalf("unexpected ingest response: %v", created)
	}
}

func TestSignatures_TestRequiresReadyTemplate(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/signatures/github/test", map[string]any{"payload": map[string]any{"a": 1}})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, env.srv.URL+"/api/signatures/bitbucket", map[string]any{"enabled": true})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// --- DLQ ---

func TestDLQ_ListReplayDeleteClear(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(downstream.Close)

	env := newEnv(t, api.Config{},
		relayhub.WithForwardURL(downstream.URL),
		relayhub.WithReplayWindows(0, 0),
	)

	for _, body := range []string{`{"event":"a"}`, `{"event":"b"}`} {
		resp := post(t, env.srv.URL+"/webhook/custom", body, nil)
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/api/dlq?search=HTTP%20500", nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Total int64            `json:"total"`
		Items []map[string]any `json:"items"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 2 {
		t.Fatalf("expected 2 DLQ entries, got %d", list.Total)
	}
	first, _ := list.Items[0]["id"].(string)
	second, _ := list.Items[1]["id"].(string)

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/dlq/"+first+"/replay", nil)
	expectStatus(t, resp, http.StatusOK)
	var single map[string]any
	decodeBody(t, resp, &single)
	if single["success"] != false || single["outcome"] != "failed" {
		t.Fatalf("expected failed replay, got %v", single)
	}

	status.Store(http.StatusOK)
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/api/dlq/replay/batch", map[string]any{
		"ids": []string{first, first, "bogus"},
	})
	expectStatus(t, resp, http.StatusOK)
	var batch struct {
		SuccessIDs []string          `json:"success_ids"`
		Failed     map[string]string `json:"failed"`
	}
	decodeBody(t, resp, &batch)
	if len(batch.SuccessIDs) != 1 || batch.SuccessIDs[0] != first {
		t.Fatalf("expected %s replayed, got %v", first, batch.SuccessIDs)
	}
	if batch.Failed["bogus"] == "" || batch.Failed[first] == "" {
		t.Fatalf("expected duplicate and invalid failures, got %v", batch.Failed)
	}

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/dlq/"+second, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/dlq/"+second, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, env.srv.URL+"/api/dlq", nil)
	expectStatus(t, resp, http.StatusOK)
	var cleared map[string]int64
	decodeBody(t, resp, &cleared)
	if cleared["deleted"] != 0 {
		t.Fatalf("expected empty DLQ, deleted %d", cleared["deleted"])
	}
}

// --- Operations ---

func TestStatsAndHealth(t *testing.T) {
	env := newEnv(t, api.Config{})

	resp := post(t, env.srv.URL+"/webhook/custom", `{"event":"a"}`, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var st map[string]any
	decodeBody(t, resp, &st)
	if st["total"] != float64(1) || st["signature_success_rate"] != float64(0) {
		t.Fatalf("unexpected stats: %v", st)
	}

	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/health", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if err := env.store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	resp = doJSON(t, http.MethodGet, env.srv.URL+"/api/health", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy, got %v", health)
	}
}

// vanishedEvents hides every event, as if each was deleted right after its
// DLQ entry was read.
type vanishedEvents struct {
	*memory.Store
}

func (vanishedEvents) GetEvent(context.Context, id.ID) (*event.Event, error) {
	return nil, event.ErrNotFound
}

func TestDLQ_ReplayOrphanedEntry(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(downstream.Close)

	s := memory.New()
	evt := event.New("custom", "order.created", []byte(`{}`), nil, false)
	if err := s.AppendEvent(context.Background(), evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	fwd := forward.New(s, s, forward.Config{Timeout: time.Second}, nil)
	if ok, err := fwd.Deliver(context.Background(), evt, downstream.URL); err != nil || ok {
		t.Fatalf("expected failed delivery, got ok=%v err=%v", ok, err)
	}
	entry, err := s.GetDLQByEvent(context.Background(), evt.ID)
	if err != nil {
		t.Fatalf("dlq entry: %v", err)
	}

	hub, err := relayhub.New(relayhub.WithStore(vanishedEvents{s}))
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	srv := httptest.NewServer(api.NewHandler(hub, api.Config{}, nil))
	t.Cleanup(srv.Close)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/dlq/"+entry.ID.String()+"/replay", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	if _, err := s.GetDLQ(context.Background(), entry.ID); err == nil {
		t.Fatal("expected the orphaned entry to be removed")
	}
}
