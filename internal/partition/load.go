package partition

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"
)

// LoadInitial fetches the first page of every partition in parallel.
// Each page replaces that partition's local subset as soon as it arrives.
// A failed partition keeps its data and records a *FetchError in its state;
// the other partitions are unaffected. The returned error joins all failures.
func (s *Store[T]) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	states := maps.Clone(s.states)
	for key, st := range states {
		st.IsLoading = true
		// a LoadMore from the previous generation is dropped as stale
		st.IsLoadingMore = false
		st.Err = nil
		states[key] = st
	}
	s.states = states
	s.version++
	s.notifyLocked()
	s.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if s.opts.MaxConcurrentFetches > 0 {
		g.SetLimit(s.opts.MaxConcurrentFetches)
	}

	for _, key := range s.opts.Partitions {
		g.Go(func() error {
			opts := ListOptions{Offset: 0, Limit: s.opts.PageSize, Partition: key, OrderBy: s.opts.OrderBy}
			page, err := s.lister.List(ctx, s.opts.ScopeID, opts)
			if err != nil {
				ferr := &FetchError{Partition: key, Offset: 0, Err: err}
				s.failFetch(gen, key, ferr, false)
				mu.Lock()
				errs = append(errs, ferr)
				mu.Unlock()
				return nil
			}
			s.replacePartition(gen, key, page)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// LoadMore fetches the next page of one partition at its current Offset and
// unions it into the snapshot. It is a no-op while the partition is loading
// or when the server reported no more items.
func (s *Store[T]) LoadMore(ctx context.Context, key string) error {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPartition, key)
	}
	if st.IsLoading || st.IsLoadingMore || !st.HasMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	offset := st.Offset
	s.setStateLocked(key, func(st *State) {
		st.IsLoadingMore = true
		st.Err = nil
	})
	s.mu.Unlock()

	opts := ListOptions{Offset: offset, Limit: s.opts.PageSize, Partition: key, OrderBy: s.opts.OrderBy}
	page, err := s.lister.List(ctx, s.opts.ScopeID, opts)
	if err != nil {
		ferr := &FetchError{Partition: key, Offset: offset, Err: err}
		s.failFetch(gen, key, ferr, true)
		return ferr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug().Str("partition", key).Msg("dropping stale page")
		return nil
	}

	tx := s.begin()
	for _, item := range page.Items {
		tx.writeSnapshot()
		tx.snapshot[item.EntityID()] = item
	}
	tx.dirty = true
	s.recount(tx)
	next, _ := tx.State(key)
	next.Total = max(page.Total, next.Offset)
	next.HasMore = page.HasMore
	next.IsLoadingMore = false
	next.Err = nil
	tx.setState(key, next)
	s.commitLocked(tx)

	s.logger.Debug().
		Str("partition", key).
		Int("offset", next.Offset).
		Int("total", next.Total).
		Bool("hasMore", next.HasMore).
		Msg("loaded more")
	return nil
}

func (s *Store[T]) replacePartition(gen uint64, key string, page Page[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug().Str("partition", key).Msg("dropping stale initial page")
		return
	}

	tx := s.begin()
	tx.writeSnapshot()
	for id, item := range tx.snapshot {
		if _, pending := tx.local[id]; pending {
			continue
		}
		if item.PartitionKey() == key {
			delete(tx.snapshot, id)
		}
	}
	for _, item := range page.Items {
		tx.snapshot[item.EntityID()] = item
	}
	tx.dirty = true
	s.recount(tx)

	next, _ := tx.State(key)
	next.Total = max(page.Total, next.Offset)
	next.HasMore = page.HasMore
	next.IsLoading = false
	next.Err = nil
	tx.setState(key, next)
	s.commitLocked(tx)

	s.logger.Debug().
		Str("partition", key).
		Int("offset", next.Offset).
		Int("total", next.Total).
		Bool("hasMore", next.HasMore).
		Msg("loaded partition")
}

func (s *Store[T]) failFetch(gen uint64, key string, err *FetchError, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.setStateLocked(key, func(st *State) {
		if more {
			st.IsLoadingMore = false
		} else {
			st.IsLoading = false
		}
		st.Err = err
	})
	s.logger.Warn().Err(err).Str("partition", key).Msg("partition fetch failed")
}

// recount sets every partition's Offset to the number of materialized
// entities in it. Used after page loads, where membership changes in bulk.
func (s *Store[T]) recount(tx *Txn[T]) {
	counts := make(map[string]int, len(tx.states))
	for _, item := range tx.snapshot {
		counts[item.PartitionKey()]++
	}
	for key, st := range tx.states {
		if st.Offset == counts[key] {
			continue
		}
		st.Offset = counts[key]
		st.Total = max(st.Total, st.Offset)
		tx.setState(key, st)
	}
}
