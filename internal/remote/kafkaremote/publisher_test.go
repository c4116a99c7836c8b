package kafkaremote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/events"
)

type stubWriter struct {
	topics []string
	msgs   [][]kafka.Message
	err    error
}

func (w *stubWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	w.topics = append(w.topics, topic)
	w.msgs = append(w.msgs, msgs)
	return w.err
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestBatchUpsertSetsIsOneWrite(t *testing.T) {
	writer := &stubWriter{}
	pub := NewPublisher(writer)

	sets := []domain.SetRecord{
		{ID: "a", SessionID: "s-1", ExerciseName: "Row", SetIndex: 0},
		{ID: "b", SessionID: "s-1", ExerciseName: "Row", SetIndex: 1},
	}
	require.NoError(t, pub.BatchUpsertSets(context.Background(), sets))

	require.Equal(t, []string{events.TopicSets}, writer.topics)
	require.Len(t, writer.msgs[0], 2)
	msg := writer.msgs[0][1]
	require.Equal(t, "s-1", string(msg.Key))
	require.Equal(t, events.TypeSetUpserted, header(msg, events.HeaderEventType))

	var decoded domain.SetRecord
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, "b", decoded.ID)
}

func TestBatchUpsertSessionsAndEnd(t *testing.T) {
	writer := &stubWriter{}
	pub := NewPublisher(writer)
	ctx := context.Background()

	started := time.Date(2025, time.March, 1, 7, 0, 0, 0, time.UTC)
	require.NoError(t, pub.BatchUpsertSessions(ctx, []domain.Session{{ID: "s-1", UserID: "u", StartedAt: started, UpdatedAt: started}}))
	require.NoError(t, pub.EndSession(ctx, "s-1", started.Add(time.Hour)))

	require.Equal(t, []string{events.TopicSessions, events.TopicSessions}, writer.topics)
	upsert := writer.msgs[0][0]
	end := writer.msgs[1][0]
	require.Equal(t, string(upsert.Key), string(end.Key))
	require.Equal(t, "s-1", string(end.Key))
	require.Equal(t, events.TypeSessionEnded, header(end, events.HeaderEventType))

	var payload events.SessionEnded
	require.NoError(t, json.Unmarshal(end.Value, &payload))
	require.Equal(t, "s-1", payload.SessionID)
	require.True(t, started.Add(time.Hour).Equal(payload.EndedAt))
}

func TestPublisherSurfacesWriteErrors(t *testing.T) {
	writer := &stubWriter{err: errors.New("broker down")}
	pub := NewPublisher(writer)

	err := pub.BatchUpsertSessions(context.Background(), []domain.Session{{ID: "s-1"}})
	require.ErrorContains(t, err, "broker down")

	require.NoError(t, pub.BatchUpsertSets(context.Background(), nil))
	require.Len(t, writer.topics, 1)
}
