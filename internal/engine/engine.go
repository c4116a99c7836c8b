// Package engine wires the local store, domain API, outbox, sync processor and
// status broadcaster into one running sync engine.
package engine

import (
	"context"
	"fmt"
	"log"

	"example.com/workoutsync/internal/connectivity"
	"example.com/workoutsync/internal/domain"
	"example.com/workoutsync/internal/outbox"
	"example.com/workoutsync/internal/persistence/sqlite"
	"example.com/workoutsync/internal/status"
	"example.com/workoutsync/internal/syncer"
)

// Option configures optional behaviour for the Engine.
type Option func(*settings)

type settings struct {
	logger      *log.Logger
	syncOptions []syncer.Option
	domainOpts  []domain.Option
}

// WithLogger overrides the base logger. Components log with their own prefix.
func WithLogger(logger *log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithSyncOptions passes options through to the sync processor.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *settings) {
		s.syncOptions = append(s.syncOptions, opts...)
	}
}

// WithDomainOptions passes options through to the domain service.
func WithDomainOptions(opts ...domain.Option) Option {
	return func(s *settings) {
		s.domainOpts = append(s.domainOpts, opts...)
	}
}

// Engine owns every long-lived component of a device.
type Engine struct {
	Store       *sqlite.Store
	Service     *domain.Service
	Status      *status.Broadcaster
	Processor   *syncer.Processor
	DeadLetters *outbox.DeadLetterManager

	remote syncer.Remote
	signal connectivity.Signal
	logger *log.Logger
}

// New wires an Engine on top of an open store.
func New(store *sqlite.Store, remote syncer.Remote, signal connectivity.Signal, opts ...Option) *Engine {
	s := settings{logger: log.New(log.Writer(), "", log.LstdFlags)}
	for _, opt := range opts {
		opt(&s)
	}
	prefixed := func(prefix string) *log.Logger {
		return log.New(s.logger.Writer(), prefix, s.logger.Flags())
	}

	e := &Engine{
		Store:  store,
		remote: remote,
		signal: signal,
		logger: prefixed("[engine] "),
	}
	e.Status = status.New(store, signal.Online, status.WithLogger(prefixed("[status] ")))

	queue := outbox.NewQueue(store)
	domainOpts := append([]domain.Option{
		domain.WithNotifier(e.Status),
		domain.WithQueueInspector(store),
		domain.WithLogger(prefixed("[domain] ")),
	}, s.domainOpts...)
	e.Service = domain.NewService(store, queue, domainOpts...)

	syncOpts := append([]syncer.Option{
		syncer.WithObserver(e.Status),
		syncer.WithLogger(prefixed("[syncer] ")),
	}, s.syncOptions...)
	e.Processor = syncer.NewProcessor(store, remote, signal, syncOpts...)

	e.DeadLetters = outbox.NewDeadLetterManager(store, outbox.WithDeadLetterNotifier(requeueNotifier{e}))
	return e
}

// Start refreshes the status and launches the sync loop in the background.
func (e *Engine) Start(ctx context.Context) {
	e.Status.Notify(ctx)
	go e.Processor.Start(ctx)
}

// Wait blocks until the sync loop started by Start has stopped.
func (e *Engine) Wait() {
	e.Processor.Wait()
}

// SyncNow runs one sync cycle immediately.
func (e *Engine) SyncNow(ctx context.Context) (syncer.CycleReport, error) {
	return e.Processor.RunCycle(ctx)
}

// Bootstrap merges the user's remote sessions into the local store when the
// remote can be queried directly. It returns the number of sessions inserted.
func (e *Engine) Bootstrap(ctx context.Context, userID string) (int, error) {
	fetcher, ok := e.remote.(syncer.Fetcher)
	if !ok {
		return 0, nil
	}
	if !e.signal.Online() {
		return 0, syncer.ErrOffline
	}

	snapshot, err := fetcher.FetchSnapshot(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("fetch remote snapshot: %w", err)
	}
	inserted, err := e.Service.MergeRemoteSessions(ctx, snapshot.Sessions, snapshot.SetsBySession, snapshot.WorkoutNames)
	if err != nil {
		return inserted, fmt.Errorf("merge remote sessions: %w", err)
	}
	if inserted > 0 {
		e.logger.Printf("merged %d remote sessions for %s", inserted, userID)
	}
	return inserted, nil
}

// Close releases the local store.
func (e *Engine) Close() error {
	return e.Store.Close()
}

type requeueNotifier struct {
	e *Engine
}

func (n requeueNotifier) Notify(ctx context.Context) {
	n.e.Status.Notify(ctx)
	n.e.Processor.Trigger()
}
