// Package status derives the user-visible sync state and fans it out to subscribers.
package status

import (
	"context"
	"log"
	"sync"
	"time"
)

// State is the coarse sync state shown to the user.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateSaved   State = "saved"
)

// Status is the derived sync state together with the queue length it came from.
type Status struct {
	State   State `json:"state"`
	Pending int   `json:"pending"`
}

// Derive computes the status from connectivity and the number of queued items.
func Derive(online bool, pending int) Status {
	switch {
	case !online:
		return Status{State: StateOffline, Pending: pending}
	case pending > 0:
		return Status{State: StateSyncing, Pending: pending}
	default:
		return Status{State: StateSaved, Pending: pending}
	}
}

// Failure describes a queue item that was moved to the dead-letter table.
type Failure struct {
	ItemID    string    `json:"item_id"`
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

// QueueCounter reports how many items are waiting to be synced.
type QueueCounter interface {
	CountItems(ctx context.Context) (int, error)
}

// Option configures optional behaviour for the Broadcaster.
type Option func(*Broadcaster)

// WithLogger overrides the logger used to report refresh failures.
func WithLogger(logger *log.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// Broadcaster owns the current status and the subscriber lists. It is created
// once by the application root and shared by reference.
type Broadcaster struct {
	counter QueueCounter
	online  func() bool
	logger  *log.Logger

	// refreshMu orders recompute with enqueueing, never with delivery.
	refreshMu sync.Mutex

	mu          sync.Mutex
	current     Status
	nextID      int
	subscribers map[int]func(Status)
	failureSubs map[int]func(Failure)

	// pending holds derived statuses in the order they were computed. Only
	// the goroutine that set delivering drains it.
	pending    []delivery
	delivering bool
}

type delivery struct {
	status     Status
	recipients []int
}

// New constructs a Broadcaster. online is queried on every refresh.
func New(counter QueueCounter, online func() bool, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		counter:     counter,
		online:      online,
		logger:      log.New(log.Writer(), "[status] ", log.LstdFlags),
		current:     Derive(online(), 0),
		subscribers: make(map[int]func(Status)),
		failureSubs: make(map[int]func(Failure)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Current returns the last derived status.
func (b *Broadcaster) Current() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers fn and calls it with the current status. The call is
// made before Subscribe returns unless another goroutine is mid-delivery, in
// which case that goroutine delivers it in order. The returned function
// removes the subscription.
func (b *Broadcaster) Subscribe(fn func(Status)) func() {
	b.refreshMu.Lock()
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	b.pending = append(b.pending, delivery{status: b.current, recipients: []int{id}})
	b.mu.Unlock()
	b.refreshMu.Unlock()

	b.drain()
	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// SubscribeFailures registers fn for dead-letter events.
func (b *Broadcaster) SubscribeFailures(fn func(Failure)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.failureSubs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.failureSubs, id)
		b.mu.Unlock()
	}
}

// Refresh recomputes the status from the queue and connectivity. Subscribers
// are only called when the status changed. Subscribers may call back into the
// Broadcaster, directly or through a write that triggers Notify.
func (b *Broadcaster) Refresh(ctx context.Context) (Status, error) {
	b.refreshMu.Lock()
	pending, err := b.counter.CountItems(ctx)
	if err != nil {
		b.refreshMu.Unlock()
		return b.Current(), err
	}
	next := Derive(b.online(), pending)

	b.mu.Lock()
	if next != b.current {
		b.current = next
		recipients := make([]int, 0, len(b.subscribers))
		for id := range b.subscribers {
			recipients = append(recipients, id)
		}
		b.pending = append(b.pending, delivery{status: next, recipients: recipients})
	}
	b.mu.Unlock()
	b.refreshMu.Unlock()

	b.drain()
	return next, nil
}

// drain delivers queued statuses in order with no lock held during callbacks.
// A nested or concurrent call returns at once and leaves its deliveries to the
// goroutine already draining.
func (b *Broadcaster) drain() {
	b.mu.Lock()
	if b.delivering {
		b.mu.Unlock()
		return
	}
	b.delivering = true
	defer func() {
		b.mu.Lock()
		b.delivering = false
		b.mu.Unlock()
	}()

	for len(b.pending) > 0 {
		d := b.pending[0]
		b.pending = b.pending[1:]
		fns := make([]func(Status), 0, len(d.recipients))
		for _, id := range d.recipients {
			if fn, ok := b.subscribers[id]; ok {
				fns = append(fns, fn)
			}
		}
		b.mu.Unlock()

		for _, fn := range fns {
			fn(d.status)
		}
		b.mu.Lock()
	}
	b.mu.Unlock()
}

// Notify refreshes the status after a queue change. Errors are logged.
func (b *Broadcaster) Notify(ctx context.Context) {
	if _, err := b.Refresh(ctx); err != nil {
		b.logger.Printf("refresh status: %v", err)
	}
}

// PublishFailure delivers a dead-letter event to every failure subscriber.
func (b *Broadcaster) PublishFailure(f Failure) {
	b.mu.Lock()
	subs := make([]func(Failure), 0, len(b.failureSubs))
	for _, fn := range b.failureSubs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(f)
	}
}
