// Package events defines the sync events carried over Kafka between devices
// and the remote store.
package events

import "time"

// Kafka topics. Session upserts and ends share TopicSessions and are keyed by
// session id, so an end is always consumed after the upserts published before it.
const (
	TopicSessions = "workout_sessions"
	TopicSets     = "workout_sets"
)

// Event types carried in the event_type header.
const (
	TypeSessionUpserted = "session.upserted"
	TypeSetUpserted     = "set.upserted"
	TypeSessionEnded    = "session.ended"
)

// HeaderEventType names the header holding the event type.
const HeaderEventType = "event_type"

// Topics lists every sync topic.
var Topics = []string{TopicSessions, TopicSets}

// SessionEnded is the payload of a session.ended event. Upsert events carry the
// session or set record itself.
type SessionEnded struct {
	SessionID string    `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
}
