package reconcile

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/syncx"
)

// Applier applies one batch as a single state transition (partition.Store)
type Applier interface {
	ApplyOps(ops []syncx.Operation) (int, error)
}

// Options configures a Reconciler
type Options struct {
	Frames    FrameScheduler
	PreFilter PreFilter
	Logger    *zerolog.Logger
}

// Reconciler queues patch operations from the stream and applies everything
// queued within one frame as one batch. A failed batch is dropped and its
// error kept in Err until the next successful flush; it is never retried.
type Reconciler struct {
	applier Applier
	frames  FrameScheduler
	filter  PreFilter
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []syncx.Operation
	cancel  func()
	err     error
}

// New creates a reconciler feeding applier
func New(applier Applier, opts Options) *Reconciler {
	frames := opts.Frames
	if frames == nil {
		frames = IntervalFrames{}
	}
	logger := log.Logger.With().Str("component", "reconcile").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Reconciler{
		applier: applier,
		frames:  frames,
		filter:  opts.PreFilter,
		logger:  logger,
	}
}

// Push queues the operations of one message and requests a frame if none is pending
func (r *Reconciler) Push(ops []syncx.Operation) {
	if len(ops) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, ops...)
	if r.cancel == nil {
		r.cancel = r.frames.RequestFrame(r.Flush)
	}
}

// Flush applies the queued operations now. Called by the frame scheduler.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := r.pending
	r.pending = nil
	r.cancel = nil
	if len(batch) == 0 {
		return
	}
	if r.filter != nil {
		batch = r.filter(batch)
	}

	applied, err := r.applier.ApplyOps(batch)
	if err != nil {
		r.err = err
		r.logger.Warn().Err(err).Int("ops", len(batch)).Msg("dropping patch batch")
		return
	}
	r.err = nil
	r.logger.Debug().Int("ops", len(batch)).Int("applied", applied).Msg("patch batch applied")
}

// Err returns the last batch failure, nil once a later batch succeeds
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Pending returns the number of queued operations
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset drops queued operations, cancels the pending frame and clears Err
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.pending = nil
	r.err = nil
}
