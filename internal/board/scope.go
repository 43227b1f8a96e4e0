package board

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/optimistic"
	"github.com/erauner12/taskboard-sync/internal/partition"
	"github.com/erauner12/taskboard-sync/internal/reconcile"
	"github.com/erauner12/taskboard-sync/internal/reconnect"
	"github.com/erauner12/taskboard-sync/internal/stream"
	"github.com/erauner12/taskboard-sync/internal/syncx"
)

// ErrReadOnly is returned by mutations on a scope without a Writer
var ErrReadOnly = errors.New("scope is read-only")

// Writer is the write half of the REST collaborator
type Writer[T model.Entity] interface {
	Create(ctx context.Context, payload any) (T, error)
	Update(ctx context.Context, id string, payload any) (T, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a Scope
type Options[T model.Entity] struct {
	Collection string
	ScopeID    string
	Partitions []string

	PageSize             int
	OrderBy              model.OrderBy
	Compare              func(a, b T) int
	MaxConcurrentFetches int

	// StreamURL is the patch stream endpoint; empty runs without a stream
	StreamURL string
	Header    func(ctx context.Context) (http.Header, error)
	Reconnect reconnect.Policy

	Frames    reconcile.FrameScheduler
	PreFilter reconcile.PreFilter

	Logger *zerolog.Logger
}

// Scope keeps one collection of one project in sync: a paginated store fed
// by REST pages, a patch stream applied once per frame and an optimistic
// overlay for local writes.
type Scope[T model.Entity] struct {
	opts   Options[T]
	writer Writer[T]
	logger zerolog.Logger

	store      *partition.Store[T]
	reconciler *reconcile.Reconciler
	overlay    *optimistic.Overlay[T]
	transport  *stream.Transport

	mu      sync.Mutex
	mounted bool
	epoch   uint64
	sub     *stream.Subscription
}

// NewScope wires a scope. When lister also implements Writer the scope
// accepts mutations.
func NewScope[T model.Entity](lister partition.Lister[T], opts Options[T]) *Scope[T] {
	logger := log.Logger.With().
		Str("component", "board").
		Str("collection", opts.Collection).
		Str("scopeId", opts.ScopeID).
		Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	store := partition.NewStore(lister, partition.Options[T]{
		Collection:           opts.Collection,
		ScopeID:              opts.ScopeID,
		Partitions:           opts.Partitions,
		PageSize:             opts.PageSize,
		OrderBy:              opts.OrderBy,
		Compare:              opts.Compare,
		MaxConcurrentFetches: opts.MaxConcurrentFetches,
		Logger:               &logger,
	})

	s := &Scope[T]{
		opts:   opts,
		logger: logger,
		store:  store,
		reconciler: reconcile.New(store, reconcile.Options{
			Frames:    opts.Frames,
			PreFilter: opts.PreFilter,
			Logger:    &logger,
		}),
		overlay: optimistic.New[T](store, optimistic.Options{Logger: &logger}),
	}
	if w, ok := lister.(Writer[T]); ok {
		s.writer = w
	}
	if opts.StreamURL != "" {
		s.transport = stream.New(stream.Options{
			Scheduler: reconnect.NewScheduler(opts.Reconnect),
			Header:    opts.Header,
			Logger:    &logger,
		})
	}
	return s
}

// Mount connects the stream and loads the first page of every partition.
// A partial load failure is returned but leaves the scope mounted; failed
// partitions carry their error in View.Err.
func (s *Scope[T]) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = true
	s.epoch++
	epoch := s.epoch
	if s.transport != nil {
		s.sub = s.transport.Subscribe(stream.Handler{
			OnMessage: func(msg syncx.Message) { s.onMessage(epoch, msg) },
		})
		s.transport.Open(s.opts.StreamURL, true)
	}
	s.mu.Unlock()

	s.logger.Info().Strs("partitions", s.opts.Partitions).Msg("scope mounted")
	return s.store.LoadInitial(ctx)
}

// Unmount closes the stream, drops queued patches and discards all state.
// In-flight fetches and mutations settle into nothing.
func (s *Scope[T]) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted {
		return
	}
	s.mounted = false
	if s.transport != nil {
		s.sub.Close()
		s.sub = nil
		s.transport.Open(s.opts.StreamURL, false)
	}
	s.reconciler.Reset()
	s.store.Discard()
	s.logger.Info().Msg("scope unmounted")
}

// Close unmounts and releases the transport; the scope cannot be reused
func (s *Scope[T]) Close() {
	s.Unmount()
	if s.transport != nil {
		s.transport.Close()
	}
}

// onMessage queues a patch unless the mount that subscribed has ended.
// Holding s.mu orders every Push before or after Unmount's Reset.
func (s *Scope[T]) onMessage(epoch uint64, msg syncx.Message) {
	if msg.Kind != syncx.KindPatch {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mounted || s.epoch != epoch {
		s.logger.Debug().Int("ops", len(msg.Operations)).Msg("dropping patch after unmount")
		return
	}
	s.reconciler.Push(msg.Operations)
}

// View returns one partition for rendering
func (s *Scope[T]) View(key string) (partition.View[T], bool) {
	return s.store.View(key)
}

// Views returns every partition keyed by partition
func (s *Scope[T]) Views() map[string]partition.View[T] {
	return s.store.Views()
}

// Partitions returns the partition keys in display order
func (s *Scope[T]) Partitions() []string {
	return s.store.Partitions()
}

// LoadMore fetches the next page of one partition
func (s *Scope[T]) LoadMore(ctx context.Context, key string) error {
	return s.store.LoadMore(ctx, key)
}

// Subscribe signals after every state transition
func (s *Scope[T]) Subscribe() (<-chan struct{}, func()) {
	return s.store.Subscribe()
}

// Stream exposes the raw transport status; zero when the scope has no stream
func (s *Scope[T]) Stream() stream.Status {
	if s.transport == nil {
		return stream.Status{}
	}
	return s.transport.Status()
}

// PatchErr is the last failed patch batch, nil after a successful one
func (s *Scope[T]) PatchErr() error {
	return s.reconciler.Err()
}

// Store exposes the underlying partition store
func (s *Scope[T]) Store() *partition.Store[T] {
	return s.store
}

// Create inserts draft under a temp id, posts payload and swaps in the
// server's entity. key serializes duplicate submissions; empty means one
// create at a time.
func (s *Scope[T]) Create(ctx context.Context, key string, draft func(tempID string) T, payload any) (T, error) {
	if s.writer == nil {
		var zero T
		return zero, ErrReadOnly
	}
	return s.overlay.Apply(ctx, optimistic.Mutation[T]{
		Key:   key,
		Kind:  optimistic.Create,
		Draft: draft,
		Commit: func(ctx context.Context) (T, error) {
			return s.writer.Create(ctx, payload)
		},
	})
}

// Update merges fields locally, puts them and takes the server's entity
func (s *Scope[T]) Update(ctx context.Context, id string, fields map[string]any) (T, error) {
	if s.writer == nil {
		var zero T
		return zero, ErrReadOnly
	}
	return s.overlay.Apply(ctx, optimistic.Mutation[T]{
		Kind:   optimistic.Update,
		ID:     id,
		Fields: fields,
		Commit: func(ctx context.Context) (T, error) {
			return s.writer.Update(ctx, id, fields)
		},
	})
}

// Delete removes the entity locally and on the server
func (s *Scope[T]) Delete(ctx context.Context, id string) error {
	if s.writer == nil {
		return ErrReadOnly
	}
	_, err := s.overlay.Apply(ctx, optimistic.Mutation[T]{
		Kind: optimistic.Delete,
		ID:   id,
		Commit: func(ctx context.Context) (T, error) {
			var zero T
			return zero, s.writer.Delete(ctx, id)
		},
	})
	return err
}
