// Package syncer drains the outbox queue to the remote service.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"example.com/workoutsync/internal/connectivity"
	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/observability"
	"example.com/workoutsync/internal/outbox"
	"example.com/workoutsync/internal/status"
)

// ErrOffline is returned by RunCycle when there is no connectivity.
var ErrOffline = errors.New("offline")

// QueueStore captures the queue operations used by the processor. Deletes and
// retry updates only apply to the revision that was read.
type QueueStore interface {
	ListItems(ctx context.Context) ([]outbox.Item, error)
	DeleteItem(ctx context.Context, id string, revision int64) (bool, error)
	UpdateRetry(ctx context.Context, id string, revision int64, retryCount int, lastError string) (bool, error)
	MoveToDeadLetter(ctx context.Context, item outbox.Item, reason string, failedAt time.Time) (bool, error)
}

// Observer is told about queue changes and items that were given up on.
type Observer interface {
	Notify(ctx context.Context)
	PublishFailure(f status.Failure)
}

type noopObserver struct{}

func (noopObserver) Notify(context.Context) {}
func (noopObserver) PublishFailure(status.Failure) {}

// CycleReport summarises one sync cycle.
type CycleReport struct {
	Delivered    int `json:"delivered"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	// Skipped counts delivered items that were re-enqueued while in flight and
	// therefore stay queued.
	Skipped int `json:"skipped"`
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithBatchSize overrides the number of items per remote call.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// WithInterval overrides the timer-driven cycle period.
func WithInterval(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBackoff overrides the first backoff delay and its ceiling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(p *Processor) {
		if base > 0 {
			p.baseBackoff = base
		}
		if ceiling > 0 {
			p.maxBackoff = ceiling
		}
	}
}

// WithObserver registers the status broadcaster.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		p.observer = o
	}
}

// WithLogger overrides the logger used by the processing loop.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// Processor runs sync cycles on a timer and on connectivity events.
type Processor struct {
	store    QueueStore
	remote   Remote
	signal   connectivity.Signal
	observer Observer
	logger   *log.Logger
	now      func() time.Time

	batchSize   int
	maxRetries  int
	interval    time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration

	cycleMu  sync.Mutex
	mu       sync.Mutex
	failures int

	trigger          chan struct{}
	shutdownComplete chan struct{}
}

// NewProcessor constructs a Processor.
func NewProcessor(store QueueStore, remote Remote, signal connectivity.Signal, opts ...Option) *Processor {
	p := &Processor{
		store:            store,
		remote:           remote,
		signal:           signal,
		observer:         noopObserver{},
		logger:           log.New(log.Writer(), "[syncer] ", log.LstdFlags),
		now:              func() time.Time { return time.Now().UTC() },
		batchSize:        25,
		maxRetries:       5,
		interval:         30 * time.Second,
		baseBackoff:      2 * time.Second,
		maxBackoff:       5 * time.Minute,
		trigger:          make(chan struct{}, 1),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs a cycle immediately and then whenever the timer fires, a trigger
// arrives, connectivity is restored, or the application becomes visible. It
// should be called in a goroutine.
func (p *Processor) Start(ctx context.Context) {
	defer close(p.shutdownComplete)

	for {
		if _, err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, context.Canceled) {
			p.logger.Printf("sync cycle failed, next attempt in %s: %v", p.NextDelay(), err)
		}
		if !p.wait(ctx) {
			return
		}
	}
}

// Wait waits until the processing loop stops.
func (p *Processor) Wait() {
	<-p.shutdownComplete
}

// Trigger requests an immediate out-of-band cycle.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Backoff returns the current backoff delay. It is zero after a successful cycle.
func (p *Processor) Backoff() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoffLocked()
}

// NextDelay returns the delay before the next timer-driven cycle.
func (p *Processor) NextDelay() time.Duration {
	if b := p.Backoff(); b > p.interval {
		return b
	}
	return p.interval
}

func (p *Processor) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.NextDelay())
	defer timer.Stop()

	events := p.signal.Events()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-p.trigger:
			return true
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev {
			case connectivity.EventCameOnline:
				p.resetBackoff()
				return true
			case connectivity.EventBecameVisible:
				return true
			default:
				p.observer.Notify(ctx)
			}
		}
	}
}

// RunCycle drains the queue once. Partitions are processed in dependency
// order and the first failed batch aborts the rest of the cycle. Items of an
// unknown type are dead-lettered once the known partitions are drained.
func (p *Processor) RunCycle(ctx context.Context) (CycleReport, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	var report CycleReport
	if !p.signal.Online() {
		cyclesCounter.WithLabelValues(outcomeOffline).Inc()
		p.observer.Notify(ctx)
		return report, ErrOffline
	}

	items, err := p.store.ListItems(ctx)
	if err != nil {
		cyclesCounter.WithLabelValues(outcomeError).Inc()
		return report, fmt.Errorf("list queue: %w", err)
	}
	queueDepthGauge.Set(float64(len(items)))

	partitions := partition(items)
	for _, kind := range outbox.Types {
		part := partitions[kind]
		for start := 0; start < len(part); start += p.batchSize {
			end := start + p.batchSize
			if end > len(part) {
				end = len(part)
			}
			if err := p.processBatch(ctx, kind, part[start:end], &report); err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				p.recordFailure()
				cyclesCounter.WithLabelValues(outcomeFailed).Inc()
				p.observer.Notify(ctx)
				return report, err
			}
		}
	}

	p.dropUnknown(ctx, partitions, &report)

	p.resetBackoff()
	cyclesCounter.WithLabelValues(outcomeSuccess).Inc()
	p.observer.Notify(ctx)
	return report, nil
}

func (p *Processor) processBatch(ctx context.Context, kind outbox.Type, batch []outbox.Item, report *CycleReport) error {
	sendable := make([]outbox.Item, 0, len(batch))
	for _, item := range batch {
		if err := validatePayload(item); err != nil {
			p.deadLetter(ctx, item, err.Error(), report)
			continue
		}
		sendable = append(sendable, item)
	}
	if len(sendable) == 0 {
		return nil
	}

	start := time.Now()
	confirmed, err := p.send(ctx, kind, sendable)
	batchDuration.Observe(time.Since(start).Seconds())

	if confirmed > 0 {
		if confirmErr := p.confirm(ctx, kind, sendable[:confirmed], report); confirmErr != nil {
			return confirmErr
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// Ends are sent one call at a time; only the call that failed is
		// charged and the ones after it were never attempted.
		failed := sendable[confirmed:]
		if kind == outbox.TypeEndSession {
			failed = failed[:1]
		}
		failedCounter.WithLabelValues(string(kind)).Add(float64(len(failed)))
		if storeErr := p.recordBatchFailure(ctx, failed, err, report); storeErr != nil {
			p.logger.Printf("record %s batch failure: %v", kind, storeErr)
		}
		return fmt.Errorf("%s batch of %d: %w", kind, len(sendable), err)
	}
	return nil
}

// confirm removes delivered items from the queue. An item re-enqueued while
// its send was in flight has a newer revision and stays.
func (p *Processor) confirm(ctx context.Context, kind outbox.Type, delivered []outbox.Item, report *CycleReport) error {
	for _, item := range delivered {
		deleted, err := p.store.DeleteItem(ctx, item.ID, item.Revision)
		if err != nil {
			return fmt.Errorf("delete %s: %w", item.ID, err)
		}
		if deleted {
			report.Delivered++
		} else {
			report.Skipped++
		}
	}
	deliveredCounter.WithLabelValues(string(kind)).Add(float64(len(delivered)))
	observability.RecordSynced(p.now())
	p.observer.Notify(ctx)
	return nil
}

// dropUnknown dead-letters items whose type no partition handles.
func (p *Processor) dropUnknown(ctx context.Context, partitions map[outbox.Type][]outbox.Item, report *CycleReport) {
	kinds := make([]outbox.Type, 0)
	for kind := range partitions {
		if !kind.Known() {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		for _, item := range partitions[kind] {
			p.deadLetter(ctx, item, validatePayload(item).Error(), report)
		}
	}
}

// send delivers a batch and reports how many leading items the remote
// accepted. Batch upserts are all or nothing.
func (p *Processor) send(ctx context.Context, kind outbox.Type, batch []outbox.Item) (int, error) {
	switch kind {
	case outbox.TypeUpsertSession:
		sessions := make([]domain.Session, 0, len(batch))
		for _, item := range batch {
			var s domain.Session
			if err := json.Unmarshal(item.Payload, &s); err != nil {
				return 0, err
			}
			sessions = append(sessions, s)
		}
		if err := p.remote.BatchUpsertSessions(ctx, sessions); err != nil {
			return 0, err
		}
		return len(batch), nil
	case outbox.TypeUpsertSet:
		sets := make([]domain.SetRecord, 0, len(batch))
		for _, item := range batch {
			var s domain.SetRecord
			if err := json.Unmarshal(item.Payload, &s); err != nil {
				return 0, err
			}
			sets = append(sets, s)
		}
		if err := p.remote.BatchUpsertSets(ctx, sets); err != nil {
			return 0, err
		}
		return len(batch), nil
	case outbox.TypeEndSession:
		for i, item := range batch {
			var s domain.Session
			if err := json.Unmarshal(item.Payload, &s); err != nil {
				return i, err
			}
			if err := p.remote.EndSession(ctx, s.ID, *s.EndedAt); err != nil {
				return i, err
			}
		}
		return len(batch), nil
	default:
		return 0, fmt.Errorf("unknown item type %q", kind)
	}
}

func (p *Processor) recordBatchFailure(ctx context.Context, batch []outbox.Item, cause error, report *CycleReport) error {
	var errs error
	for _, item := range batch {
		item.RetryCount++
		if item.RetryCount >= p.maxRetries {
			p.deadLetter(ctx, item, cause.Error(), report)
			continue
		}
		if _, err := p.store.UpdateRetry(ctx, item.ID, item.Revision, item.RetryCount, cause.Error()); err != nil {
			errs = errors.Join(errs, fmt.Errorf("update retry %s: %w", item.ID, err))
			continue
		}
		report.Failed++
	}
	return errs
}

func (p *Processor) deadLetter(ctx context.Context, item outbox.Item, reason string, report *CycleReport) {
	failedAt := p.now()
	moved, err := p.store.MoveToDeadLetter(ctx, item, reason, failedAt)
	if err != nil {
		p.logger.Printf("dead-letter %s: %v", item.ID, err)
		return
	}
	if !moved {
		return
	}
	report.DeadLettered++
	deadLetteredCounter.WithLabelValues(string(item.Type)).Inc()
	p.logger.Printf("gave up on %s after %d attempts: %s", item.ID, item.RetryCount, reason)
	p.observer.PublishFailure(status.Failure{
		ItemID:    item.ID,
		Type:      string(item.Type),
		SessionID: item.SessionID,
		Reason:    reason,
		FailedAt:  failedAt,
	})
}

func (p *Processor) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	backoffGauge.Set(p.backoffLocked().Seconds())
}

func (p *Processor) resetBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	backoffGauge.Set(0)
}

// backoffLocked calculates exponential backoff capped at maxBackoff.
func (p *Processor) backoffLocked() time.Duration {
	if p.failures == 0 {
		return 0
	}
	shift := p.failures - 1
	if shift > 30 {
		shift = 30
	}
	delay := time.Duration(1<<uint(shift)) * p.baseBackoff
	if delay <= 0 || delay > p.maxBackoff {
		delay = p.maxBackoff
	}
	return delay
}

// partition groups items by type, oldest first within each type.
func partition(items []outbox.Item) map[outbox.Type][]outbox.Item {
	parts := make(map[outbox.Type][]outbox.Item, len(outbox.Types))
	for _, item := range items {
		parts[item.Type] = append(parts[item.Type], item)
	}
	for _, part := range parts {
		sort.SliceStable(part, func(i, j int) bool {
			return part[i].CreatedAt.Before(part[j].CreatedAt)
		})
	}
	return parts
}

// validatePayload rejects items the remote could never accept.
func validatePayload(item outbox.Item) error {
	switch item.Type {
	case outbox.TypeUpsertSession:
		var s domain.Session
		if err := json.Unmarshal(item.Payload, &s); err != nil {
			return fmt.Errorf("undecodable session payload: %w", err)
		}
		if s.ID == "" {
			return errors.New("session payload without id")
		}
	case outbox.TypeUpsertSet:
		var s domain.SetRecord
		if err := json.Unmarshal(item.Payload, &s); err != nil {
			return fmt.Errorf("undecodable set payload: %w", err)
		}
		if s.ID == "" {
			return errors.New("set payload without id")
		}
	case outbox.TypeEndSession:
		var s domain.Session
		if err := json.Unmarshal(item.Payload, &s); err != nil {
			return fmt.Errorf("undecodable end payload: %w", err)
		}
		if s.ID == "" || s.EndedAt == nil {
			return errors.New("end payload without id or ended_at")
		}
	default:
		return fmt.Errorf("unknown item type %q", item.Type)
	}
	return nil
}
