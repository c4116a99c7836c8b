package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/outbox"
	"example.com/workoutsync/internal/persistence/sqlite"
	"example.com/workoutsync/internal/status"
)

type fakeStatus struct{ current status.Status }

func (f fakeStatus) Current() status.Status { return f.current }

type countingTrigger struct{ triggers, foregrounds int }

func (c *countingTrigger) Trigger()    { c.triggers++ }
func (c *countingTrigger) Foreground() { c.foregrounds++ }

func newTestHandler(t *testing.T) (http.Handler, *sqlite.Store, *countingTrigger) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	service := domain.NewService(store, outbox.NewQueue(store, outbox.WithClock(now)),
		domain.WithClock(now),
		domain.WithQueueInspector(store),
	)
	counter := &countingTrigger{}
	handler := NewHandler(service, fakeStatus{current: status.Status{State: status.StateSyncing, Pending: 2}}, counter, counter)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return mux, store, counter
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, rr.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, store, _ := newTestHandler(t)

	rr := do(t, h, http.MethodPost, "/v1/sessions", CreateSessionRequest{ID: "S1", UserID: "u1", WorkoutName: "Leg Day"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodPost, "/v1/sessions/S1/sets", map[string]interface{}{
		"exercise_name": "Squat", "set_index": 0, "reps": 10, "weight": 100,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var set domain.SetRecord
	decode(t, rr, &set)
	if set.Reps == nil || *set.Reps != 10 {
		t.Fatalf("unexpected reps %v", set.Reps)
	}

	rr = do(t, h, http.MethodPatch, "/v1/sets/"+set.ID+"?mode=buffered", map[string]interface{}{"reps": 12})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions/S1/sets", nil)
	var sets ListSetsResponse
	decode(t, rr, &sets)
	if len(sets.Items) != 1 || *sets.Items[0].Reps != 12 {
		t.Fatalf("unexpected sets %+v", sets.Items)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions/S1/details", nil)
	var details domain.SessionDetails
	decode(t, rr, &details)
	if details.WorkoutName != "Leg Day" {
		t.Fatalf("unexpected details %+v", details)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions/active?user_id=u1", nil)
	var active ActiveSessionResponse
	decode(t, rr, &active)
	if active.Session == nil || active.Session.ID != "S1" {
		t.Fatalf("expected S1 to be active, got %+v", active.Session)
	}

	rr = do(t, h, http.MethodPost, "/v1/sessions/S1/end", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var ended domain.Session
	decode(t, rr, &ended)
	if ended.EndedAt == nil {
		t.Fatalf("expected ended_at to be set")
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions/S1/sync-status", nil)
	var syncStatus SessionSyncStatusResponse
	decode(t, rr, &syncStatus)
	if syncStatus.PendingSets != 1 || !syncStatus.PendingEnd || !syncStatus.Pending {
		t.Fatalf("unexpected sync status %+v", syncStatus)
	}

	items, err := store.ListItems(context.Background())
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected session, set and end items, got %d", len(items))
	}
}

func TestListSessionsPaginates(t *testing.T) {
	h, _, _ := newTestHandler(t)
	for _, id := range []string{"a", "b", "c"} {
		rr := do(t, h, http.MethodPost, "/v1/sessions", CreateSessionRequest{ID: id, UserID: "u1"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %s: %d", id, rr.Code)
		}
	}

	rr := do(t, h, http.MethodGet, "/v1/sessions?user_id=u1&limit=2", nil)
	var page ListSessionsResponse
	decode(t, rr, &page)
	if len(page.Items) != 2 || page.Items[0].ID != "c" || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions?user_id=u1&limit=2&cursor="+page.NextCursor, nil)
	decode(t, rr, &page)
	if len(page.Items) != 1 || page.Items[0].ID != "a" {
		t.Fatalf("unexpected second page %+v", page)
	}

	rr = do(t, h, http.MethodGet, "/v1/sessions?user_id=u1&cursor=!!!", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor got %d", rr.Code)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	if rr := do(t, h, http.MethodPost, "/v1/sessions", CreateSessionRequest{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/sessions/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPatch, "/v1/sets/missing", map[string]int{"reps": 1}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPatch, "/v1/sets/x?mode=later", map[string]int{"reps": 1}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/sessions/missing/sets", map[string]interface{}{"exercise_name": "Row"}); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/v1/sessions/S1", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}

func TestStatusSyncAndForeground(t *testing.T) {
	h, _, counter := newTestHandler(t)

	rr := do(t, h, http.MethodGet, "/v1/status", nil)
	var st status.Status
	decode(t, rr, &st)
	if st.State != status.StateSyncing || st.Pending != 2 {
		t.Fatalf("unexpected status %+v", st)
	}

	if rr := do(t, h, http.MethodPost, "/v1/sync", nil); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/foreground", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
	if counter.triggers != 1 || counter.foregrounds != 1 {
		t.Fatalf("unexpected counts %+v", counter)
	}
}
