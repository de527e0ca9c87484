package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/store"
	"github.com/xraph/relayhub/template"
)

func ctx() context.Context { return context.Background() }

func seedEvent(t *testing.T, s *Store, source, eventType string, payload string) *event.Event {
	t.Helper()
	evt := event.New(source, eventType, []byte(payload), map[string]string{"Content-Type": "application/json"}, true)
	require.NoError(t, s.AppendEvent(ctx(), evt))
	return evt
}

func failure(evt *event.Event, target, reason, msg string) *forward.Log {
	code := 500
	return &forward.Log{
		ID:           id.NewForwardLogID(),
		EventID:      evt.ID,
		TargetURL:    target,
		StatusCode:   &code,
		ErrorMessage: msg,
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	}
}

func success(evt *event.Event, target string) *forward.Log {
	code := 200
	return &forward.Log{
		ID:         id.NewForwardLogID(),
		EventID:    evt.ID,
		TargetURL:  target,
		StatusCode: &code,
		Success:    true,
		CreatedAt:  time.Now().UTC(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	require.NoError(t, s.Migrate(ctx()))
	require.NoError(t, s.Ping(ctx()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(ctx()), store.ErrClosed)
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func TestEventGetReturnsCopy(t *testing.T) {
	s := New()
	evt := seedEvent(t, s, "github", "push", `{"a":1}`)

	got, err := s.GetEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.Source, got.Source)
	assert.Equal(t, `{"a":1}`, string(got.RawPayload))

	got.RawPayload[0] = 'X'
	again, err := s.GetEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again.RawPayload))

	_, err = s.GetEvent(ctx(), id.NewEventID())
	assert.ErrorIs(t, err, event.ErrNotFound)
}

func TestListEventsNewestFirstWithFilters(t *testing.T) {
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []id.ID
	for i, src := range []string{"github", "stripe", "github", "custom"} {
		evt := event.New(src, "push", []byte("{}"), nil, i%2 == 0)
		evt.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendEvent(ctx(), evt))
		ids = append(ids, evt.ID)
	}

	page, err := s.ListEvents(ctx(), event.ListOpts{})
	require.NoError(t, err)
	require.EqualValues(t, 4, page.Total)
	assert.Equal(t, ids[3], page.Items[0].ID)
	assert.Equal(t, ids[0], page.Items[3].ID)

	page, err = s.ListEvents(ctx(), event.ListOpts{Source: "github"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	valid := false
	page, err = s.ListEvents(ctx(), event.ListOpts{SignatureValid: &valid})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	from := base.Add(90 * time.Second)
	page, err = s.ListEvents(ctx(), event.ListOpts{From: &from})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	page, err = s.ListEvents(ctx(), event.ListOpts{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	page, err = s.ListEvents(ctx(), event.ListOpts{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestDeleteEventCascades(t *testing.T) {
	s := New()
	evt := seedEvent(t, s, "github", "push", "{}")
	require.NoError(t, s.RecordAttempt(ctx(), failure(evt, "https://t", forward.ReasonHTTPStatus, "HTTP 500: boom")))

	require.NoError(t, s.DeleteEvent(ctx(), evt.ID))

	_, err := s.GetDLQByEvent(ctx(), evt.ID)
	assert.ErrorIs(t, err, dlq.ErrNotFound)
	logs, err := s.ListLogs(ctx(), evt.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, s.DeleteEvent(ctx(), evt.ID), event.ErrNotFound)
}

func TestPurgeEvents(t *testing.T) {
	s := New()
	old := event.New("github", "push", []byte("{}"), nil, true)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx(), old))
	fresh := seedEvent(t, s, "github", "push", "{}")

	n, err := s.PurgeEvents(ctx(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetEvent(ctx(), old.ID)
	assert.ErrorIs(t, err, event.ErrNotFound)
	_, err = s.GetEvent(ctx(), fresh.ID)
	assert.NoError(t, err)
}

func TestEventStats(t *testing.T) {
	s := New()
	seedEvent(t, s, "github", "push", "{}")
	seedEvent(t, s, "github", "push", "{}")
	seedEvent(t, s, "stripe", "invoice.paid", "{}")
	old := event.New("custom", "ping", []byte("{}"), nil, false)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.AppendEvent(ctx(), old))

	st, err := s.EventStats(ctx(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 4, st.Total)
	assert.EqualValues(t, 3, st.Recent)
	assert.EqualValues(t, 3, st.SignatureValid)
	assert.EqualValues(t, 2, st.BySource["github"])
	assert.EqualValues(t, 2, st.ByEventType["push"])
	assert.EqualValues(t, 1, st.ByEventType["ping"])
}

// ──────────────────────────────────────────────────
// forward.Store
// ──────────────────────────────────────────────────

func TestRecordAttemptCreatesAndIncrementsDLQ(t *testing.T) {
	s := New()
	evt := seedEvent(t, s, "github", "push", "{}")

	require.NoError(t, s.RecordAttempt(ctx(), failure(evt, "https://a", forward.ReasonHTTPStatus, "HTTP 500: one")))
	entry, err := s.GetDLQByEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.RetryCount)

	require.NoError(t, s.RecordAttempt(ctx(), failure(evt, "https://b", forward.ReasonTimeout, "Request timeout")))
	entry, err = s.GetDLQByEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.RetryCount)
	assert.Equal(t, "https://b", entry.TargetURL)
	assert.Equal(t, forward.ReasonTimeout, entry.Reason)
	assert.Equal(t, "Request timeout", entry.LastError)

	n, err := s.CountDLQ(ctx())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.False(t, got.Forwarded)
}

func TestRecordAttemptSuccessClearsDLQ(t *testing.T) {
	s := New()
	evt := seedEvent(t, s, "github", "push", "{}")
	require.NoError(t, s.RecordAttempt(ctx(), failure(evt, "https://a", forward.ReasonHTTPStatus, "HTTP 500")))

	require.NoError(t, s.RecordAttempt(ctx(), success(evt, "https://a")))

	_, err := s.GetDLQByEvent(ctx(), evt.ID)
	assert.ErrorIs(t, err, dlq.ErrNotFound)
	got, err := s.GetEvent(ctx(), evt.ID)
	require.NoError(t, err)
	assert.True(t, got.Forwarded)

	logs, err := s.ListLogs(ctx(), evt.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Success, "newest log first")
}

func TestRecordAttemptMissingEvent(t *testing.T) {
	s := New()
	evt := event.New("github", "push", nil, nil, true)

	err := s.RecordAttempt(ctx(), success(evt, "https://a"))
	assert.True(t, errors.Is(err, event.ErrNotFound))
}

func TestLatestAttemptAndSuccessPerTarget(t *testing.T) {
	s := New()
	evt := seedEvent(t, s, "github", "push", "{}")

	l, err := s.LatestAttempt(ctx(), evt.ID, "https://a")
	require.NoError(t, err)
	assert.Nil(t, l)

	ok := success(evt, "https://a")
	require.NoError(t, s.RecordAttempt(ctx(), ok))
	fail := failure(evt, "https://a", forward.ReasonHTTPStatus, "HTTP 502")
	require.NoError(t, s.RecordAttempt(ctx(), fail))
	require.NoError(t, s.RecordAttempt(ctx(), success(evt, "https://b")))

	l, err = s.LatestAttempt(ctx(), evt.ID, "https://a")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, fail.ID, l.ID)

	l, err = s.LatestSuccess(ctx(), evt.ID, "https://a")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, ok.ID, l.ID)
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

func TestListDLQFiltersAndSearch(t *testing.T) {
	s := New()
	gh := seedEvent(t, s, "github", "push", `{"ref":"refs/heads/main"}`)
	st := seedEvent(t, s, "stripe", "invoice.paid", `{"type":"invoice.paid"}`)
	require.NoError(t, s.RecordAttempt(ctx(), failure(gh, "https://a", forward.ReasonHTTPStatus, "HTTP 500: internal")))
	require.NoError(t, s.RecordAttempt(ctx(), failure(st, "https://a", forward.ReasonTimeout, "Request timeout")))
	require.NoError(t, s.RecordAttempt(ctx(), failure(st, "https://a", forward.ReasonTimeout, "Request timeout")))

	page, err := s.ListDLQ(ctx(), dlq.ListOpts{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, st.ID, page.Rows[0].Entry.EventID, "most recently updated first")

	page, err = s.ListDLQ(ctx(), dlq.ListOpts{Source: "github"})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, gh.ID, page.Rows[0].Event.ID)

	page, err = s.ListDLQ(ctx(), dlq.ListOpts{Search: "REFS/HEADS"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	page, err = s.ListDLQ(ctx(), dlq.ListOpts{Search: "timeout"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	page, err = s.ListDLQ(ctx(), dlq.ListOpts{MinRetry: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)

	page, err = s.ListDLQ(ctx(), dlq.ListOpts{MaxRetry: 2})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	assert.Equal(t, gh.ID, page.Rows[0].Entry.EventID)
}

func TestDLQDeleteAndClear(t *testing.T) {
	s := New()
	a := seedEvent(t, s, "github", "push", "{}")
	b := seedEvent(t, s, "github", "push", "{}")
	require.NoError(t, s.RecordAttempt(ctx(), failure(a, "https://a", forward.ReasonHTTPStatus, "HTTP 500")))
	require.NoError(t, s.RecordAttempt(ctx(), failure(b, "https://a", forward.ReasonHTTPStatus, "HTTP 500")))

	entry, err := s.GetDLQByEvent(ctx(), a.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteDLQ(ctx(), entry.ID))
	assert.ErrorIs(t, s.DeleteDLQ(ctx(), entry.ID), dlq.ErrNotFound)

	_, err = s.GetDLQ(ctx(), entry.ID)
	assert.ErrorIs(t, err, dlq.ErrNotFound)

	n, err := s.ClearDLQ(ctx())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.CountDLQ(ctx())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ──────────────────────────────────────────────────
// template.Store
// ──────────────────────────────────────────────────

func TestTemplateStore(t *testing.T) {
	s := New()

	for _, tmpl := range template.Defaults() {
		inserted, err := s.InsertTemplateIfAbsent(ctx(), tmpl)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := s.InsertTemplateIfAbsent(ctx(), template.Defaults()[0])
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := s.ListTemplates(ctx())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "custom", list[0].Source)
	assert.Equal(t, "stripe", list[2].Source)

	gh, err := s.GetTemplate(ctx(), "github")
	require.NoError(t, err)
	gh.Enabled = true
	gh.Secret = "s3cret"
	require.NoError(t, s.UpdateTemplate(ctx(), gh))

	gh, err = s.GetTemplate(ctx(), "github")
	require.NoError(t, err)
	assert.True(t, gh.Enabled)
	assert.Equal(t, "s3cret", gh.Secret)

	_, err = s.GetTemplate(ctx(), "gitlab")
	assert.ErrorIs(t, err, template.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTemplate(ctx(), &template.Template{Source: "gitlab"}), template.ErrNotFound)
}
