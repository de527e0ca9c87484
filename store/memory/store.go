// Package memory provides an in-memory Store for tests and single-process
// development. A single mutex serializes writers, so every RecordAttempt is
// atomic to readers.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/relayhub/dlq"
	"github.com/xraph/relayhub/event"
	"github.com/xraph/relayhub/forward"
	"github.com/xraph/relayhub/id"
	"github.com/xraph/relayhub/internal/entity"
	"github.com/xraph/relayhub/store"
	"github.com/xraph/relayhub/template"
)

// compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	events     map[string]*event.Event       // keyed by event ID
	logs       map[string][]*forward.Log     // keyed by event ID, append order
	dlqEntries map[string]*dlq.Entry         // keyed by DLQ ID
	dlqByEvent map[string]string             // event ID -> DLQ ID
	templates  map[string]*template.Template // keyed by source

	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		events:     make(map[string]*event.Event),
		logs:       make(map[string][]*forward.Log),
		dlqEntries: make(map[string]*dlq.Entry),
		dlqByEvent: make(map[string]string),
		templates:  make(map[string]*template.Template),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// AppendEvent persists a new event.
func (s *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[evt.ID.String()] = copyEvent(evt)
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	return copyEvent(evt), nil
}

// ListEvents returns one page of matching events, newest first.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) (*event.Page, error) {
	opts = opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if opts.Matches(evt) {
			matched = append(matched, evt)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Before(matched[j]) })

	pageItems := applyPagination(matched, opts.Offset(), opts.PageSize)
	items := make([]*event.Event, 0, len(pageItems))
	for _, evt := range pageItems {
		items = append(items, copyEvent(evt))
	}
	return &event.Page{Total: int64(len(matched)), Items: items}, nil
}

// MarkForwarded sets the forwarded flag.
func (s *Store) MarkForwarded(_ context.Context, evtID id.ID, forwarded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return event.ErrNotFound
	}
	evt.Forwarded = forwarded
	evt.Touch()
	return nil
}

// DeleteEvent removes an event with its logs and DLQ entry.
func (s *Store) DeleteEvent(_ context.Context, evtID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := evtID.String()
	if _, ok := s.events[key]; !ok {
		return event.ErrNotFound
	}
	s.deleteEventLocked(key)
	return nil
}

// PurgeEvents removes every event created before the cutoff, with cascade.
func (s *Store) PurgeEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, evt := range s.events {
		if evt.CreatedAt.Before(before) {
			s.deleteEventLocked(key)
			count++
		}
	}
	return count, nil
}

func (s *Store) deleteEventLocked(key string) {
	delete(s.events, key)
	delete(s.logs, key)
	if dlqID, ok := s.dlqByEvent[key]; ok {
		delete(s.dlqEntries, dlqID)
		delete(s.dlqByEvent, key)
	}
}

// EventStats returns aggregate counts.
func (s *Store) EventStats(_ context.Context, since time.Time) (*event.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &event.Stats{
		BySource:    make(map[string]int64),
		ByEventType: make(map[string]int64),
	}
	byType := make(map[string]int64)
	for _, evt := range s.events {
		st.Total++
		st.BySource[evt.Source]++
		if evt.EventType != "" {
			byType[evt.EventType]++
		}
		if !evt.CreatedAt.Before(since) {
			st.Recent++
		}
		if evt.SignatureValid {
			st.SignatureValid++
		}
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if byType[types[i]] != byType[types[j]] {
			return byType[types[i]] > byType[types[j]]
		}
		return types[i] < types[j]
	})
	for i, t := range types {
		if i == event.TopEventTypes {
			break
		}
		st.ByEventType[t] = byType[t]
	}
	return st, nil
}

// ──────────────────────────────────────────────────
// forward.Store
// ──────────────────────────────────────────────────

// RecordAttempt appends the log and applies the forwarded flag and DLQ
// change under one lock.
func (s *Store) RecordAttempt(_ context.Context, log *forward.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := log.EventID.String()
	evt, ok := s.events[key]
	if !ok {
		return event.ErrNotFound
	}

	cp := *log
	s.logs[key] = append(s.logs[key], &cp)
	evt.Forwarded = log.Success
	evt.Touch()

	dlqID, exists := s.dlqByEvent[key]
	switch {
	case log.Success && exists:
		delete(s.dlqEntries, dlqID)
		delete(s.dlqByEvent, key)

	case !log.Success && exists:
		entry := s.dlqEntries[dlqID]
		entry.TargetURL = log.TargetURL
		entry.Reason = log.Reason
		entry.LastError = log.ErrorMessage
		entry.RetryCount++
		entry.UpdatedAt = log.CreatedAt

	case !log.Success:
		entry := &dlq.Entry{
			Entity:     entity.Entity{CreatedAt: log.CreatedAt, UpdatedAt: log.CreatedAt},
			ID:         id.NewDLQID(),
			EventID:    log.EventID,
			TargetURL:  log.TargetURL,
			Reason:     log.Reason,
			LastError:  log.ErrorMessage,
			RetryCount: 1,
		}
		s.dlqEntries[entry.ID.String()] = entry
		s.dlqByEvent[key] = entry.ID.String()
	}
	return nil
}

// LatestAttempt returns the most recent log for the pair, or nil.
func (s *Store) LatestAttempt(_ context.Context, evtID id.ID, targetURL string) (*forward.Log, error) {
	return s.latest(evtID, targetURL, false), nil
}

// LatestSuccess returns the most recent successful log for the pair, or nil.
func (s *Store) LatestSuccess(_ context.Context, evtID id.ID, targetURL string) (*forward.Log, error) {
	return s.latest(evtID, targetURL, true), nil
}

func (s *Store) latest(evtID id.ID, targetURL string, successOnly bool) *forward.Log {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[evtID.String()]
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if l.TargetURL != targetURL || (successOnly && !l.Success) {
			continue
		}
		cp := *l
		return &cp
	}
	return nil
}

// ListLogs returns every log for an event, newest first.
func (s *Store) ListLogs(_ context.Context, evtID id.ID) ([]*forward.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[evtID.String()]
	out := make([]*forward.Log, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		cp := *logs[i]
		out = append(out, &cp)
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

// GetDLQ returns an entry by ID.
func (s *Store) GetDLQ(_ context.Context, dlqID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// GetDLQByEvent returns the live entry for an event.
func (s *Store) GetDLQByEvent(_ context.Context, evtID id.ID) (*dlq.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dlqID, ok := s.dlqByEvent[evtID.String()]
	if !ok {
		return nil, dlq.ErrNotFound
	}
	cp := *s.dlqEntries[dlqID]
	return &cp, nil
}

// ListDLQ returns one page of entries joined with their parent events, most
// recently updated first.
func (s *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) (*dlq.Page, error) {
	opts = opts.Normalize()
	search := strings.ToLower(opts.Search)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]dlq.Row, 0, len(s.dlqEntries))
	for _, entry := range s.dlqEntries {
		parent := s.events[entry.EventID.String()]
		if !matchDLQ(entry, parent, opts, search) {
			continue
		}
		row := dlq.Row{Entry: entry}
		if parent != nil {
			row.Event = copyEvent(parent)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].Entry, rows[j].Entry
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return b.ID.Less(a.ID)
	})

	paged := applyPagination(rows, opts.Offset(), opts.PageSize)
	for i := range paged {
		cp := *paged[i].Entry
		paged[i].Entry = &cp
	}
	return &dlq.Page{Total: int64(len(rows)), Rows: paged}, nil
}

// DeleteDLQ removes an entry.
func (s *Store) DeleteDLQ(_ context.Context, dlqID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.dlqEntries[dlqID.String()]
	if !ok {
		return dlq.ErrNotFound
	}
	delete(s.dlqEntries, dlqID.String())
	delete(s.dlqByEvent, entry.EventID.String())
	return nil
}

// ClearDLQ removes every entry.
func (s *Store) ClearDLQ(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.dlqEntries))
	s.dlqEntries = make(map[string]*dlq.Entry)
	s.dlqByEvent = make(map[string]string)
	return n, nil
}

// CountDLQ returns the number of live entries.
func (s *Store) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.dlqEntries)), nil
}

// ──────────────────────────────────────────────────
// template.Store
// ──────────────────────────────────────────────────

// InsertTemplateIfAbsent inserts t unless its source already has a row.
func (s *Store) InsertTemplateIfAbsent(_ context.Context, t *template.Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[t.Source]; ok {
		return false, nil
	}
	cp := *t
	s.templates[t.Source] = &cp
	return true, nil
}

// GetTemplate returns the template for source.
func (s *Store) GetTemplate(_ context.Context, source string) (*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[source]
	if !ok {
		return nil, template.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTemplates returns all templates ordered by source.
func (s *Store) ListTemplates(_ context.Context) ([]*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*template.Template, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// UpdateTemplate overwrites an existing template.
func (s *Store) UpdateTemplate(_ context.Context, t *template.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[t.Source]
	if !ok {
		return template.ErrNotFound
	}
	existing.Enabled = t.Enabled
	existing.Secret = t.Secret
	existing.SignatureHeader = t.SignatureHeader
	existing.DisplayName = t.DisplayName
	existing.Description = t.Description
	existing.UpdatedAt = t.UpdatedAt
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyEvent(evt *event.Event) *event.Event {
	cp := *evt
	if evt.RawHeaders != nil {
		cp.RawHeaders = make(map[string]string, len(evt.RawHeaders))
		for k, v := range evt.RawHeaders {
			cp.RawHeaders[k] = v
		}
	}
	cp.RawPayload = append([]byte(nil), evt.RawPayload...)
	return &cp
}

func matchDLQ(entry *dlq.Entry, parent *event.Event, opts dlq.ListOpts, search string) bool {
	source, eventType, payload := dlq.UnknownSource, dlq.UnknownSource, ""
	if parent != nil {
		source, eventType, payload = parent.Source, parent.EventType, string(parent.RawPayload)
	}

	if opts.Source != "" && source != opts.Source {
		return false
	}
	if opts.EventType != "" && eventType != opts.EventType {
		return false
	}
	if entry.RetryCount < opts.MinRetry {
		return false
	}
	if opts.MaxRetry > 0 && entry.RetryCount >= opts.MaxRetry {
		return false
	}
	if search == "" {
		return true
	}
	for _, field := range []string{entry.Reason, entry.LastError, source, eventType, payload} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func applyPagination[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
