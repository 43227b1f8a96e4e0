package partition

import (
	"maps"

	"github.com/erauner12/taskboard-sync/internal/model"
)

// Txn is a copy-on-write view of the store used inside Update.
// Put and Delete keep partition counters in step with membership changes:
// leaving a partition decrements its Offset and Total, entering one
// increments them. A Txn must not be used after Update returns.
type Txn[T model.Entity] struct {
	snapshot  map[string]T
	states    map[string]State
	revisions map[string]uint64
	local     map[string]struct{}

	ownSnapshot   bool
	ownStates     bool
	ownLocal      bool
	dirty         bool
	streamTouched map[string]struct{}
}

// Get returns the entity as seen by this transaction
func (tx *Txn[T]) Get(id string) (T, bool) {
	v, ok := tx.snapshot[id]
	return v, ok
}

// Revision returns the stream revision of id when the transaction began
func (tx *Txn[T]) Revision(id string) uint64 {
	return tx.revisions[id]
}

// State returns the partition window as seen by this transaction
func (tx *Txn[T]) State(key string) (State, bool) {
	st, ok := tx.states[key]
	return st, ok
}

// Put inserts or replaces an entity under its own id
func (tx *Txn[T]) Put(item T) {
	id := item.EntityID()
	old, existed := tx.snapshot[id]

	tx.writeSnapshot()
	tx.snapshot[id] = item
	tx.dirty = true

	newKey := item.PartitionKey()
	switch {
	case !existed:
		tx.shift(newKey, +1)
	case old.PartitionKey() != newKey:
		tx.shift(old.PartitionKey(), -1)
		tx.shift(newKey, +1)
	}
}

// PutLocal inserts an entity the server does not know yet, such as a create
// under a temp id. Page loads keep local entities until they are deleted.
func (tx *Txn[T]) PutLocal(item T) {
	tx.Put(item)
	tx.writeLocal()
	tx.local[item.EntityID()] = struct{}{}
}

// Delete removes an entity; returns false if it was not present
func (tx *Txn[T]) Delete(id string) bool {
	old, ok := tx.snapshot[id]
	if !ok {
		return false
	}
	tx.writeSnapshot()
	delete(tx.snapshot, id)
	if _, isLocal := tx.local[id]; isLocal {
		tx.writeLocal()
		delete(tx.local, id)
	}
	tx.dirty = true
	tx.shift(old.PartitionKey(), -1)
	return true
}

// markStream records that id was written by the patch stream
func (tx *Txn[T]) markStream(id string) {
	if tx.streamTouched == nil {
		tx.streamTouched = map[string]struct{}{}
	}
	tx.streamTouched[id] = struct{}{}
}

// shift moves Offset and Total of a configured partition by delta.
// Entities in unconfigured partitions stay in the snapshot uncounted.
func (tx *Txn[T]) shift(key string, delta int) {
	st, ok := tx.states[key]
	if !ok {
		return
	}
	st.Offset = max(st.Offset+delta, 0)
	st.Total = max(st.Total+delta, 0, st.Offset)
	st.HasMore = st.Offset < st.Total
	tx.setState(key, st)
}

func (tx *Txn[T]) setState(key string, st State) {
	tx.writeStates()
	tx.states[key] = st
	tx.dirty = true
}

func (tx *Txn[T]) writeSnapshot() {
	if !tx.ownSnapshot {
		tx.snapshot = maps.Clone(tx.snapshot)
		tx.ownSnapshot = true
	}
}

func (tx *Txn[T]) writeLocal() {
	if !tx.ownLocal {
		tx.local = maps.Clone(tx.local)
		tx.ownLocal = true
	}
}

func (tx *Txn[T]) writeStates() {
	if !tx.ownStates {
		tx.states = maps.Clone(tx.states)
		tx.ownStates = true
	}
}
