package optimistic

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/partition"
)

// TempIDPrefix marks ids that exist only locally until the server confirms
const TempIDPrefix = "temp-"

// Kind is the type of local write
type Kind int

const (
	Create Kind = iota + 1
	Update
	Delete
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Store is the part of partition.Store the overlay writes through
type Store[T model.Entity] interface {
	Update(fn func(tx *partition.Txn[T]) error) error
}

// Mutation describes one local write and how to submit it
type Mutation[T model.Entity] struct {
	// Key identifies the action for the in-flight guard.
	// Defaults to "<kind>:<id>", or "create" for creates.
	Key string

	Kind Kind

	// ID targets Update and Delete
	ID string

	// Draft builds the speculative entity for Create under a temp id
	Draft func(tempID string) T

	// Fields are merged into the current entity for Update (wire names)
	Fields map[string]any

	// Commit performs the server write and returns the canonical entity
	Commit func(ctx context.Context) (T, error)
}

func (m Mutation[T]) guardKey() string {
	if m.Key != "" {
		return m.Key
	}
	if m.Kind == Create {
		return Create.String()
	}
	return m.Kind.String() + ":" + m.ID
}

// Context is what Begin captured; Confirm and Rollback settle against it
type Context[T model.Entity] struct {
	Kind           Kind
	ID             string
	TempID         string
	CorrelationID  string
	Prior          T
	HadPrior       bool
	PriorPartition string

	key string
	rev uint64
}

// Options configures an Overlay
type Options struct {
	// NewTempID overrides temp id generation
	NewTempID func() string
	Logger    *zerolog.Logger
}

// Overlay applies local writes to the store ahead of the server and settles
// them when the server answers. If the stream writes an entity while a
// mutation on it is in flight, the stream's value is kept.
type Overlay[T model.Entity] struct {
	store     Store[T]
	newTempID func() string
	logger    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an overlay writing through store
func New[T model.Entity](store Store[T], opts Options) *Overlay[T] {
	newTempID := opts.NewTempID
	if newTempID == nil {
		newTempID = func() string { return TempIDPrefix + uuid.NewString() }
	}
	logger := log.Logger.With().Str("component", "optimistic").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Overlay[T]{
		store:     store,
		newTempID: newTempID,
		logger:    logger,
		inflight:  map[string]struct{}{},
	}
}

// InFlight reports whether an action key is being submitted
func (o *Overlay[T]) InFlight(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[key]
	return ok
}

// Apply runs a mutation end to end: speculative write, server commit, then
// confirm or rollback. A duplicate submission of an in-flight action returns
// the zero value and a nil error.
func (o *Overlay[T]) Apply(ctx context.Context, m Mutation[T]) (T, error) {
	var zero T

	mc, err := o.Begin(m)
	if errors.Is(err, ErrInFlight) {
		o.logger.Debug().Str("action", m.guardKey()).Msg("ignoring duplicate submission")
		return zero, nil
	}
	if err != nil {
		return zero, err
	}

	server, err := m.Commit(ctx)
	if err != nil {
		o.Rollback(mc)
		return zero, &MutationError{Kind: m.Kind, ID: mc.target(), CorrelationID: mc.CorrelationID, Err: err}
	}
	o.Confirm(mc, server)
	return server, nil
}

// Begin acquires the action's guard and applies the speculative write.
// Every successful Begin must be followed by Confirm or Rollback.
func (o *Overlay[T]) Begin(m Mutation[T]) (*Context[T], error) {
	key := m.guardKey()
	if !o.acquire(key) {
		return nil, ErrInFlight
	}

	mc := &Context[T]{
		Kind:          m.Kind,
		ID:            m.ID,
		CorrelationID: uuid.NewString(),
		key:           key,
	}
	logger := o.logger.With().Str("correlationId", mc.CorrelationID).Str("kind", m.Kind.String()).Logger()

	err := o.store.Update(func(tx *partition.Txn[T]) error {
		switch m.Kind {
		case Create:
			if m.Draft == nil {
				return errors.New("create mutation without draft")
			}
			draft := m.Draft(o.newTempID())
			mc.TempID = draft.EntityID()
			tx.PutLocal(draft)

		case Update:
			mc.rev = tx.Revision(m.ID)
			prior, ok := tx.Get(m.ID)
			if !ok {
				// outside the loaded window: nothing to show speculatively
				return nil
			}
			mc.Prior, mc.HadPrior, mc.PriorPartition = prior, true, prior.PartitionKey()
			merged, err := model.MergeFields(prior, m.Fields)
			if err != nil {
				return err
			}
			tx.Put(merged)

		case Delete:
			mc.rev = tx.Revision(m.ID)
			prior, ok := tx.Get(m.ID)
			if !ok {
				return nil
			}
			mc.Prior, mc.HadPrior, mc.PriorPartition = prior, true, prior.PartitionKey()
			tx.Delete(m.ID)

		default:
			return errors.New("unknown mutation kind")
		}
		return nil
	})
	if err != nil {
		o.release(key)
		return nil, &MutationError{Kind: m.Kind, ID: m.ID, CorrelationID: mc.CorrelationID, Err: err}
	}

	logger.Debug().Str("id", mc.target()).Msg("speculative write applied")
	return mc, nil
}

// Confirm settles a successful server write and releases the guard.
// A created entity replaces its temp id in one transition; an updated
// entity takes the server's fields unless the stream already wrote it.
func (o *Overlay[T]) Confirm(mc *Context[T], server T) {
	defer o.release(mc.key)

	switch mc.Kind {
	case Create:
		_ = o.store.Update(func(tx *partition.Txn[T]) error {
			if !tx.Delete(mc.TempID) {
				// store was discarded or the temp entry is gone
				return nil
			}
			tx.Put(server)
			return nil
		})

	case Update:
		if server.EntityID() == "" {
			break
		}
		_ = o.store.Update(func(tx *partition.Txn[T]) error {
			if o.streamWon(tx, mc) {
				return nil
			}
			if _, ok := tx.Get(mc.ID); ok {
				tx.Put(server)
			}
			return nil
		})
	}

	o.logger.Debug().
		Str("correlationId", mc.CorrelationID).
		Str("kind", mc.Kind.String()).
		Str("id", server.EntityID()).
		Msg("mutation confirmed")
}

// Rollback restores the entity and its partition counters to how Begin found
// them and releases the guard. Skipped if the stream wrote the entity since.
func (o *Overlay[T]) Rollback(mc *Context[T]) {
	defer o.release(mc.key)

	switch mc.Kind {
	case Create:
		_ = o.store.Update(func(tx *partition.Txn[T]) error {
			tx.Delete(mc.TempID)
			return nil
		})

	case Update, Delete:
		if !mc.HadPrior {
			break
		}
		_ = o.store.Update(func(tx *partition.Txn[T]) error {
			if o.streamWon(tx, mc) {
				return nil
			}
			// an update restores over the speculative value, a delete reinserts
			if _, present := tx.Get(mc.ID); present == (mc.Kind == Update) {
				tx.Put(mc.Prior)
			}
			return nil
		})
	}

	o.logger.Debug().
		Str("correlationId", mc.CorrelationID).
		Str("kind", mc.Kind.String()).
		Str("id", mc.target()).
		Msg("mutation rolled back")
}

func (o *Overlay[T]) streamWon(tx *partition.Txn[T], mc *Context[T]) bool {
	if tx.Revision(mc.ID) != mc.rev {
		o.logger.Debug().Str("correlationId", mc.CorrelationID).Str("id", mc.ID).Msg("stream updated entity in flight, keeping stream value")
		return true
	}
	return false
}

func (o *Overlay[T]) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[key]; busy {
		return false
	}
	o.inflight[key] = struct{}{}
	return true
}

func (o *Overlay[T]) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, key)
}

func (mc *Context[T]) target() string {
	if mc.TempID != "" {
		return mc.TempID
	}
	return mc.ID
}
