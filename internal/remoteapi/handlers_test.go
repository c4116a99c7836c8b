package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/workoutsync/internal/auth"
	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/remote/httpremote"
)

type memoryStore struct {
	sessions map[string]domain.Session
	sets     map[string]domain.SetRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]domain.Session), sets: make(map[string]domain.SetRecord)}
}

func (m *memoryStore) BatchUpsertSessions(_ context.Context, sessions []domain.Session) error {
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return nil
}

func (m *memoryStore) BatchUpsertSets(_ context.Context, sets []domain.SetRecord) error {
	for _, s := range sets {
		m.sets[s.ID] = s
	}
	return nil
}

func (m *memoryStore) EndSession(_ context.Context, id string, endedAt time.Time) error {
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("end %s: %w", id, domain.ErrSessionNotFound)
	}
	s.EndedAt = &endedAt
	m.sessions[id] = s
	return nil
}

func (m *memoryStore) FetchSnapshot(_ context.Context, userID string) (domain.Snapshot, error) {
	snap := domain.Snapshot{SetsBySession: map[string][]domain.SetRecord{}, WorkoutNames: map[string]string{}}
	for _, s := range m.sessions {
		if s.UserID == userID {
			snap.Sessions = append(snap.Sessions, s)
		}
	}
	for _, s := range m.sets {
		snap.SetsBySession[s.SessionID] = append(snap.SetsBySession[s.SessionID], s)
	}
	return snap, nil
}

var testAuth = auth.Config{Secret: "remote-secret", Issuer: "test"}

func newServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(store).RegisterRoutes(mux)
	srv := httptest.NewServer(auth.NewMiddleware(testAuth).Wrap(mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteRoundTripThroughClient(t *testing.T) {
	store := newMemoryStore()
	srv := newServer(t, store)
	client := httpremote.NewClient(srv.URL, httpremote.WithTokenSource(httpremote.SignedToken(testAuth, "device", "u-1")))
	ctx := context.Background()

	started := time.Date(2025, time.March, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, client.BatchUpsertSessions(ctx, []domain.Session{{ID: "s-1", UserID: "u-1", StartedAt: started, UpdatedAt: started}}))
	require.NoError(t, client.BatchUpsertSets(ctx, []domain.SetRecord{{ID: "a", SessionID: "s-1", ExerciseName: "Squat"}}))
	require.NoError(t, client.EndSession(ctx, "s-1", started.Add(time.Hour)))

	snapshot, err := client.FetchSnapshot(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, snapshot.Sessions, 1)
	require.NotNil(t, snapshot.Sessions[0].EndedAt)
	require.Len(t, snapshot.SetsBySession["s-1"], 1)

	err = client.EndSession(ctx, "missing", started)
	var statusErr *httpremote.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestRemoteRejectsForeignSessions(t *testing.T) {
	srv := newServer(t, newMemoryStore())
	client := httpremote.NewClient(srv.URL, httpremote.WithTokenSource(httpremote.SignedToken(testAuth, "device", "u-1")))

	started := time.Date(2025, time.March, 1, 7, 0, 0, 0, time.UTC)
	err := client.BatchUpsertSessions(context.Background(), []domain.Session{{ID: "s-1", UserID: "u-2", StartedAt: started}})
	var statusErr *httpremote.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Status)

	_, err = client.FetchSnapshot(context.Background(), "u-2")
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Status)
}

func TestRemoteRequiresWriteScope(t *testing.T) {
	srv := newServer(t, newMemoryStore())
	token, err := auth.Sign(testAuth, "device", "u-1", []string{auth.ScopeSyncRead}, time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(httpremote.SetsRequest{Sets: []domain.SetRecord{{ID: "a", SessionID: "s", ExerciseName: "Row"}}})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/sync/sets", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRemoteValidatesPayloads(t *testing.T) {
	h := NewHandler(newMemoryStore())
	claims := &auth.Claims{Subject: "d", UserID: "u-1", Scopes: map[string]struct{}{auth.ScopeSyncWrite: {}}}

	body, _ := json.Marshal(httpremote.SetsRequest{Sets: []domain.SetRecord{{ID: "a", SessionID: "s"}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/sync/sets", bytes.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rr := httptest.NewRecorder()
	h.upsertSets(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/sync/sessions/s-1/end", bytes.NewReader([]byte(`{}`)))
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rr = httptest.NewRecorder()
	h.endSession(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/sync/sessions/s-1/restart", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), claims))
	rr = httptest.NewRecorder()
	h.endSession(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	resp := httptest.NewRecorder()
	healthz(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
