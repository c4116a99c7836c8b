// Package outbox is the durable, coalescing intent log of changes that still
// have to reach the remote service.
package outbox

import (
	"encoding/json"
	"errors"
	"time"
)

// Type identifies the remote operation a queue item stands for.
type Type string

const (
	TypeUpsertSession Type = "upsert_session"
	TypeUpsertSet     Type = "upsert_set"
	TypeEndSession    Type = "end_session"
)

// Types lists item types in the order the sync processor must apply them.
var Types = []Type{TypeUpsertSession, TypeUpsertSet, TypeEndSession}

// Known reports whether t is one of Types.
func (t Type) Known() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// ErrDeadLetterNotFound is returned when a dead letter id is unknown.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// IdempotencyKey maps an operation and entity id to the queue item id.
//
// Enqueueing is an upsert on this key, so any number of pending edits to the
// same entity collapse into one item holding the latest state. Two different
// operations on the same entity (an upsert and an end for one session) use
// different keys and are kept side by side.
func IdempotencyKey(kind Type, entityID string) string {
	switch kind {
	case TypeUpsertSession:
		return "session_" + entityID
	case TypeUpsertSet:
		return "set_" + entityID
	case TypeEndSession:
		return "end_" + entityID
	default:
		return string(kind) + "_" + entityID
	}
}

// Item is one pending remote operation.
type Item struct {
	ID         string
	Type       Type
	SessionID  string
	Payload    json.RawMessage
	CreatedAt  time.Time
	RetryCount int
	// Revision increases every time the item is re-enqueued. The sync processor
	// only deletes or updates the revision it actually sent.
	Revision  int64
	LastError string
}

// DeadLetter is an item that was given up on, kept for inspection and replay.
type DeadLetter struct {
	Item
	Reason   string
	FailedAt time.Time
}
