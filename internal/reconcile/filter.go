package reconcile

import "github.com/erauner12/taskboard-sync/internal/syncx"

// PreFilter rewrites a frame's batch before it is applied
type PreFilter func(ops []syncx.Operation) []syncx.Operation

// CollapseReplaces drops an add or replace when a later remove, or a later
// add or replace carrying an object, targets the same path. Such a later op
// overwrites the earlier write. Removes are always kept, and ops the store
// would skip (non-object values) never supersede anything.
func CollapseReplaces(ops []syncx.Operation) []syncx.Operation {
	if len(ops) < 2 {
		return ops
	}
	seen := make(map[string]struct{}, len(ops))
	keep := make([]bool, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		_, later := seen[op.Path]
		keep[i] = op.Op == syncx.OpRemove || !later
		if op.Op == syncx.OpRemove || op.HasObjectValue() {
			seen[op.Path] = struct{}{}
		}
	}

	out := make([]syncx.Operation, 0, len(ops))
	for i, op := range ops {
		if keep[i] {
			out = append(out, op)
		}
	}
	return out
}
