package partition

import (
	"cmp"
	"maps"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/model"
)

// Options configures a Store
type Options[T model.Entity] struct {
	// Collection is the patch path prefix ("tasks" for "/tasks/<id>")
	Collection string

	// ScopeID is passed to the Lister (a project id)
	ScopeID string

	// Partitions are the partition keys to paginate, in display order
	Partitions []string

	PageSize int
	OrderBy  model.OrderBy

	// Compare sorts View items; nil sorts by id
	Compare func(a, b T) int

	// MaxConcurrentFetches bounds LoadInitial parallelism; 0 means one per partition
	MaxConcurrentFetches int

	Logger *zerolog.Logger
}

// Store holds the snapshot of one collection in one scope plus a pagination
// window per partition. All writes go through the store mutex; readers get
// immutable copies, so the maps handed out are never mutated afterwards.
type Store[T model.Entity] struct {
	lister Lister[T]
	opts   Options[T]
	logger zerolog.Logger

	mu         sync.Mutex
	snapshot   map[string]T
	states     map[string]State
	revisions  map[string]uint64
	local      map[string]struct{}
	version    uint64
	generation uint64
	subs       map[int]chan struct{}
	nextSub    int
}

// NewStore creates an empty store. Nothing is fetched until LoadInitial.
func NewStore[T model.Entity](lister Lister[T], opts Options[T]) *Store[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.OrderBy == "" {
		opts.OrderBy = model.DefaultOrderBy
	}
	opts.Partitions = slices.Clone(opts.Partitions)

	logger := log.Logger.With().Str("component", "partition").Str("collection", opts.Collection).Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Store[T]{
		lister: lister,
		opts:   opts,
		logger: logger,
		subs:   make(map[int]chan struct{}),
	}
	s.resetLocked()
	return s
}

func (s *Store[T]) resetLocked() {
	s.snapshot = map[string]T{}
	s.states = make(map[string]State, len(s.opts.Partitions))
	for _, key := range s.opts.Partitions {
		s.states[key] = State{}
	}
	s.revisions = map[string]uint64{}
	s.local = map[string]struct{}{}
}

// Collection returns the patch path prefix this store accepts
func (s *Store[T]) Collection() string {
	return s.opts.Collection
}

// Partitions returns the configured partition keys in display order
func (s *Store[T]) Partitions() []string {
	return slices.Clone(s.opts.Partitions)
}

// Snapshot returns the current entity map. Callers must not modify it.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Get looks up one entity by id
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snapshot[id]
	return v, ok
}

// State returns the pagination window for a partition
func (s *Store[T]) State(key string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	return st, ok
}

// Version increments once per committed transition
func (s *Store[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Revision counts stream-originated writes to one entity id.
// Used to detect stream activity while a local mutation is in flight.
func (s *Store[T]) Revision(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions[id]
}

// View returns the materialized items and window of one partition
func (s *Store[T]) View(key string) (View[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return View[T]{}, false
	}
	return s.viewLocked(key, st), true
}

// Views returns every configured partition keyed by partition
func (s *Store[T]) Views() map[string]View[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]View[T], len(s.states))
	for key, st := range s.states {
		out[key] = s.viewLocked(key, st)
	}
	return out
}

func (s *Store[T]) viewLocked(key string, st State) View[T] {
	items := make([]T, 0, st.Offset)
	for _, item := range s.snapshot {
		if item.PartitionKey() == key {
			items = append(items, item)
		}
	}
	if s.opts.Compare != nil {
		slices.SortFunc(items, s.opts.Compare)
	} else {
		slices.SortFunc(items, func(a, b T) int {
			return cmp.Compare(a.EntityID(), b.EntityID())
		})
	}
	return View[T]{
		Key:           key,
		Items:         items,
		Total:         st.Total,
		HasMore:       st.HasMore,
		IsLoading:     st.IsLoading,
		IsLoadingMore: st.IsLoadingMore,
		Err:           st.Err,
	}
}

// Subscribe returns a channel that receives after every transition.
// Signals coalesce: a slow reader sees one pending signal, not one per change.
func (s *Store[T]) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Update runs fn in a transaction. If fn returns an error nothing is
// committed; otherwise all writes land as one transition.
func (s *Store[T]) Update(fn func(tx *Txn[T]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	s.commitLocked(tx)
	return nil
}

// Discard drops all entities and windows and invalidates in-flight fetches.
// Subscribers are notified once.
func (s *Store[T]) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.resetLocked()
	s.version++
	s.notifyLocked()
	s.logger.Debug().Msg("store discarded")
}

func (s *Store[T]) begin() *Txn[T] {
	return &Txn[T]{snapshot: s.snapshot, states: s.states, revisions: s.revisions, local: s.local}
}

func (s *Store[T]) commitLocked(tx *Txn[T]) {
	if !tx.dirty {
		return
	}
	s.snapshot = tx.snapshot
	s.states = tx.states
	s.local = tx.local
	if len(tx.streamTouched) > 0 {
		revs := maps.Clone(s.revisions)
		for id := range tx.streamTouched {
			revs[id]++
		}
		s.revisions = revs
	}
	s.version++
	s.notifyLocked()
}

// setStateLocked replaces one partition's window as its own transition
func (s *Store[T]) setStateLocked(key string, fn func(st *State)) {
	st, ok := s.states[key]
	if !ok {
		return
	}
	fn(&st)
	states := maps.Clone(s.states)
	states[key] = st
	s.states = states
	s.version++
	s.notifyLocked()
}

func (s *Store[T]) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
