package partition

import (
	"encoding/json"
	"fmt"

	"github.com/erauner12/taskboard-sync/internal/syncx"
)

// ApplyOps applies one batch of patch operations as a single transition.
//
// remove deletes an entity if it is present. add and replace only overwrite
// entities already materialized: anything outside the loaded window is left
// for pagination to bring in. Operations for other collections, nested
// paths, non-object values and unsupported ops are skipped.
//
// If any object value fails to decode the batch is dropped and a *PatchError
// is returned. Returns the number of operations that changed the snapshot.
func (s *Store[T]) ApplyOps(ops []syncx.Operation) (int, error) {
	applied := 0
	err := s.Update(func(tx *Txn[T]) error {
		for i, op := range ops {
			id, ok := syncx.ParseEntityPath(op.Path, s.opts.Collection)
			if !ok {
				s.logger.Debug().Str("path", op.Path).Msg("skipping op outside collection")
				continue
			}

			switch op.Op {
			case syncx.OpRemove:
				if tx.Delete(id) {
					tx.markStream(id)
					applied++
				}

			case syncx.OpAdd, syncx.OpReplace:
				if !op.HasObjectValue() {
					continue
				}
				if _, exists := tx.Get(id); !exists {
					continue
				}
				var item T
				if err := json.Unmarshal(op.Value, &item); err != nil {
					return &PatchError{Index: i, Op: op.Op, Path: op.Path, Err: err}
				}
				if item.EntityID() != id {
					return &PatchError{Index: i, Op: op.Op, Path: op.Path,
						Err: fmt.Errorf("value id %q does not match path", item.EntityID())}
				}
				tx.Put(item)
				tx.markStream(id)
				applied++

			default:
				s.logger.Debug().Str("op", string(op.Op)).Str("path", op.Path).Msg("skipping unsupported op")
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}
