package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/events"
)

func syncMessage(topic, eventType, payload string, offset int64) kafka.Message {
	return kafka.Message{
		Topic:     topic,
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Key:       []byte("s-1"),
		Value:     []byte(payload),
		Headers:   []kafka.Header{{Key: events.HeaderEventType, Value: []byte(eventType)}},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := `{"id":"s-1","user_id":"u-1"}`
	reader := &stubReader{
		messages: []kafka.Message{syncMessage(events.TopicSessions, events.TypeSessionUpserted, payload, 10)},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeSessionUpserted, handler.last.EventType)
	require.Equal(t, "s-1", handler.last.Key)
	require.JSONEq(t, payload, string(handler.last.Payload))
}

func TestProcessorRetriesThenDropsFailingEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{syncMessage(events.TopicSets, events.TypeSetUpserted, `{"id":"a"}`, 20)},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("boom")}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)), WithRetry(3, 0))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorRecoversOnRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{syncMessage(events.TopicSessions, events.TypeSessionEnded, `{"session_id":"s-1"}`, 30)},
		after:    contextCanceled,
	}
	handler := &stubHandler{err: errors.New("session not there yet"), failFor: 1}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)), WithRetry(3, time.Millisecond))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, 2, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorSkipsUndecodableMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	noHeader := syncMessage(events.TopicSets, "", `{}`, 1)
	noHeader.Headers = nil
	reader := &stubReader{
		messages: []kafka.Message{noHeader, syncMessage(events.TopicSets, events.TypeSetUpserted, `not-json`, 2)},
		after:    contextCanceled,
	}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(log.New(testWriter{t}, "", 0)))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
}

type recordingApplier struct {
	sessions []domain.Session
	sets     []domain.SetRecord
	ended    map[string]time.Time
	err      error
}

func (a *recordingApplier) BatchUpsertSessions(_ context.Context, sessions []domain.Session) error {
	a.sessions = append(a.sessions, sessions...)
	return a.err
}

func (a *recordingApplier) BatchUpsertSets(_ context.Context, sets []domain.SetRecord) error {
	a.sets = append(a.sets, sets...)
	return a.err
}

func (a *recordingApplier) EndSession(_ context.Context, id string, endedAt time.Time) error {
	if a.ended == nil {
		a.ended = make(map[string]time.Time)
	}
	a.ended[id] = endedAt
	return a.err
}

func TestApplyHandlerRoutesEvents(t *testing.T) {
	ctx := context.Background()
	applier := &recordingApplier{}
	handler := NewApplyHandler(applier)

	require.NoError(t, handler.Handle(ctx, Message{EventType: events.TypeSessionUpserted, Payload: []byte(`{"id":"s-1","user_id":"u"}`)}))
	require.NoError(t, handler.Handle(ctx, Message{EventType: events.TypeSetUpserted, Payload: []byte(`{"id":"a","session_id":"s-1","exercise_name":"Curl","set_index":2}`)}))
	require.NoError(t, handler.Handle(ctx, Message{EventType: events.TypeSessionEnded, Payload: []byte(`{"session_id":"s-1","ended_at":"2025-03-01T08:00:00Z"}`)}))

	require.Len(t, applier.sessions, 1)
	require.Equal(t, "Curl", applier.sets[0].ExerciseName)
	require.Equal(t, 2, applier.sets[0].SetIndex)
	require.Equal(t, time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC), applier.ended["s-1"])
}

func TestApplyHandlerRejectsUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	handler := NewApplyHandler(&recordingApplier{})

	require.ErrorIs(t, handler.Handle(ctx, Message{EventType: "exercise.enriched", Payload: []byte(`{}`)}), ErrUnsupportedEvent)
	require.ErrorIs(t, handler.Handle(ctx, Message{EventType: events.TypeSetUpserted, Payload: []byte(`{}`)}), ErrUnsupportedEvent)
	require.ErrorIs(t, handler.Handle(ctx, Message{EventType: events.TypeSessionEnded, Payload: []byte(`{"session_id":"s"}`)}), ErrUnsupportedEvent)

	failing := NewApplyHandler(&recordingApplier{err: fmt.Errorf("wrap: %w", domain.ErrSessionNotFound)})
	err := failing.Handle(ctx, Message{EventType: events.TypeSessionEnded, Payload: []byte(`{"session_id":"s","ended_at":"2025-03-01T08:00:00Z"}`)})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.NotErrorIs(t, err, ErrUnsupportedEvent)
}

// sessionStore rejects an end for a session it has not stored, as the
// Postgres repository does.
type sessionStore struct {
	recordingApplier
	known map[string]bool
	order []string
}

func (s *sessionStore) BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error {
	if s.known == nil {
		s.known = make(map[string]bool)
	}
	for _, session := range sessions {
		s.known[session.ID] = true
		s.order = append(s.order, "upsert:"+session.ID)
	}
	return s.recordingApplier.BatchUpsertSessions(ctx, sessions)
}

func (s *sessionStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	if !s.known[id] {
		return fmt.Errorf("end %s: %w", id, domain.ErrSessionNotFound)
	}
	s.order = append(s.order, "end:"+id)
	return s.recordingApplier.EndSession(ctx, id, endedAt)
}

func TestSessionsTopicAppliesEndAfterUpsert(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			syncMessage(events.TopicSessions, events.TypeSessionUpserted, `{"id":"s-1","user_id":"u-1"}`, 40),
			syncMessage(events.TopicSessions, events.TypeSessionEnded, `{"session_id":"s-1","ended_at":"2025-03-01T08:00:00Z"}`, 41),
		},
		after: contextCanceled,
	}
	store := &sessionStore{}
	dropped := eventsCounter.WithLabelValues(events.TypeSessionEnded, outcomeDropped)
	droppedBefore := testutil.ToFloat64(dropped)
	applied := eventsCounter.WithLabelValues(events.TypeSessionEnded, outcomeApplied)
	appliedBefore := testutil.ToFloat64(applied)

	// A single attempt: the end must succeed on arrival.
	processor := NewProcessor(reader, NewApplyHandler(store), WithLogger(log.New(testWriter{t}, "", 0)), WithRetry(1, 0))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Equal(t, []string{"upsert:s-1", "end:s-1"}, store.order)
	require.Equal(t, 2, reader.commitCalls)
	require.Equal(t, droppedBefore, testutil.ToFloat64(dropped))
	require.Equal(t, appliedBefore+1, testutil.ToFloat64(applied))
}

func TestEndBeforeUpsertIsRetriedThenDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			syncMessage(events.TopicSessions, events.TypeSessionEnded, `{"session_id":"s-9","ended_at":"2025-03-01T08:00:00Z"}`, 50),
		},
		after: contextCanceled,
	}
	store := &sessionStore{}
	retries := applyRetriesCounter.WithLabelValues(events.TypeSessionEnded)
	retriesBefore := testutil.ToFloat64(retries)
	dropped := eventsCounter.WithLabelValues(events.TypeSessionEnded, outcomeDropped)
	droppedBefore := testutil.ToFloat64(dropped)

	processor := NewProcessor(reader, NewApplyHandler(store), WithLogger(log.New(testWriter{t}, "", 0)), WithRetry(3, 0))
	require.ErrorIs(t, processor.Run(ctx), context.Canceled)

	require.Empty(t, store.order)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, retriesBefore+2, testutil.ToFloat64(retries))
	require.Equal(t, droppedBefore+1, testutil.ToFloat64(dropped))
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type stubHandler struct {
	calls   int
	err     error
	failFor int
	last    Message
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	if h.err != nil && (h.failFor == 0 || h.calls <= h.failFor) {
		return h.err
	}
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
