package domain

import "time"

// Session is one workout, either in progress or completed.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	WorkoutID *string    `json:"workout_id,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Active reports whether the session has not been ended.
func (s Session) Active() bool {
	return s.EndedAt == nil
}

// SetRecord is one working set logged inside a session.
type SetRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ExerciseName string    `json:"exercise_name"`
	SetIndex     int       `json:"set_index"`
	Reps         *int      `json:"reps,omitempty"`
	Weight       *float64  `json:"weight,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Done         bool      `json:"done"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SetPatch carries a partial update to a set. Nil fields are left unchanged.
type SetPatch struct {
	Reps   *int     `json:"reps,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
	Notes  *string  `json:"notes,omitempty"`
	Done   *bool    `json:"done,omitempty"`
}

// Apply copies the populated patch fields onto the record.
func (p SetPatch) Apply(rec *SetRecord) {
	if p.Reps != nil {
		v := *p.Reps
		rec.Reps = &v
	}
	if p.Weight != nil {
		v := *p.Weight
		rec.Weight = &v
	}
	if p.Notes != nil {
		v := *p.Notes
		rec.Notes = &v
	}
	if p.Done != nil {
		rec.Done = *p.Done
	}
}

// SessionDetails is denormalised context cached next to a session. It is not
// authoritative and may be missing.
type SessionDetails struct {
	WorkoutName       string   `json:"workout_name,omitempty"`
	TemplateExercises []string `json:"template_exercises,omitempty"`
}

// SessionSyncStatus answers whether a session still has local changes waiting
// for the remote store.
type SessionSyncStatus struct {
	SessionID   string `json:"session_id"`
	PendingSets int    `json:"pending_sets"`
	PendingEnd  bool   `json:"pending_end"`
}

// Pending reports whether anything for the session is still queued.
func (s SessionSyncStatus) Pending() bool {
	return s.PendingSets > 0 || s.PendingEnd
}

// Cursor models the session pagination token.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// Snapshot is a user's remote state as returned by a direct remote query.
type Snapshot struct {
	Sessions      []Session              `json:"sessions"`
	SetsBySession map[string][]SetRecord `json:"sets_by_session"`
	WorkoutNames  map[string]string      `json:"workout_names"`
}
