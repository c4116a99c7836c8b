// Package kafkaremote delivers sync batches as Kafka events for the remote
// consumer to apply.
package kafkaremote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Publisher implements the remote contract on top of Kafka. A batch is one
// WriteMessages call, which either succeeds or fails as a whole.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer messageWriter) *Publisher {
	return &Publisher{
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BatchUpsertSessions publishes one session.upserted event per session.
func (p *Publisher) BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error {
	msgs := make([]kafka.Message, 0, len(sessions))
	for _, s := range sessions {
		msg, err := p.message(s.ID, events.TypeSessionUpserted, s)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, events.TopicSessions, msgs)
}

// BatchUpsertSets publishes one set.upserted event per set, keyed by session.
func (p *Publisher) BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error {
	msgs := make([]kafka.Message, 0, len(sets))
	for _, s := range sets {
		msg, err := p.message(s.SessionID, events.TypeSetUpserted, s)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, events.TopicSets, msgs)
}

// EndSession publishes a session.ended event on the sessions topic, behind any
// upsert of the same session.
func (p *Publisher) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	msg, err := p.message(sessionID, events.TypeSessionEnded, events.SessionEnded{SessionID: sessionID, EndedAt: endedAt})
	if err != nil {
		return err
	}
	return p.write(ctx, events.TopicSessions, []kafka.Message{msg})
}

func (p *Publisher) message(key, eventType string, payload interface{}) (kafka.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: events.HeaderEventType, Value: []byte(eventType)}},
	}, nil
}

func (p *Publisher) write(ctx context.Context, topic string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, topic, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}
