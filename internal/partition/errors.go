package partition

import (
	"errors"
	"fmt"

	"github.com/erauner12/taskboard-sync/internal/syncx"
)

// ErrUnknownPartition is returned for a partition key the store was not built with
var ErrUnknownPartition = errors.New("unknown partition")

// FetchError records a failed page fetch on the partition's state.
// Data already loaded for the partition is kept.
type FetchError struct {
	Partition string
	Offset    int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch partition %q at offset %d: %v", e.Partition, e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PatchError means a patch batch could not be applied; the whole batch is dropped
type PatchError struct {
	Index int
	Op    syncx.Op
	Path  string
	Err   error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("apply patch op %d (%s %s): %v", e.Index, e.Op, e.Path, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}
