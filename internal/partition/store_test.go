package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erauner12/taskboard-sync/internal/model"
	"github.com/erauner12/taskboard-sync/internal/syncx"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeLister serves fixed pages per partition and records every call
type fakeLister struct {
	mu    sync.Mutex
	pages map[string][]Page[model.Task] // consumed in order per partition
	errs  map[string]error
	calls []ListOptions
	gate  chan struct{} // when set, List blocks until closed
}

func newFakeLister() *fakeLister {
	return &fakeLister{pages: map[string][]Page[model.Task]{}, errs: map[string]error{}}
}

func (f *fakeLister) add(key string, total int, hasMore bool, items ...model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[key] = append(f.pages[key], Page[model.Task]{Items: items, Total: total, HasMore: hasMore})
}

func (f *fakeLister) List(ctx context.Context, scopeID string, opts ListOptions) (Page[model.Task], error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return Page[model.Task]{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if err := f.errs[opts.Partition]; err != nil {
		return Page[model.Task]{}, err
	}
	queue := f.pages[opts.Partition]
	if len(queue) == 0 {
		return Page[model.Task]{}, nil
	}
	f.pages[opts.Partition] = queue[1:]
	return queue[0], nil
}

func task(id string, status model.TaskStatus) model.Task {
	return model.Task{ID: id, Title: "task " + id, Status: status}
}

func newTaskStore(l Lister[model.Task]) *Store[model.Task] {
	return NewStore[model.Task](l, Options[model.Task]{
		Collection: "tasks",
		ScopeID:    "p1",
		Partitions: model.StatusKeys(),
		PageSize:   2,
	})
}

func replaceOp(t *testing.T, tk model.Task) syncx.Operation {
	t.Helper()
	op, err := syncx.Replace("tasks", tk.ID, tk)
	require.NoError(t, err)
	return op
}

// assertInvariant checks Offset equals the number of materialized entities per partition
func assertInvariant(t *testing.T, s *Store[model.Task]) {
	t.Helper()
	counts := map[string]int{}
	for _, tk := range s.Snapshot() {
		counts[tk.PartitionKey()]++
	}
	for _, key := range s.Partitions() {
		st, _ := s.State(key)
		assert.Equal(t, counts[key], st.Offset, "offset of %s", key)
		assert.GreaterOrEqual(t, st.Total, st.Offset, "total of %s", key)
	}
}

func TestLoadInitial_PopulatesWindow(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 5, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("done", 3, true, task("D1", model.StatusDone), task("D2", model.StatusDone))

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	st, ok := s.State("todo")
	require.True(t, ok)
	assert.Equal(t, 2, st.Offset)
	assert.Equal(t, 5, st.Total)
	assert.True(t, st.HasMore)
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.Err)

	empty, _ := s.State("inreview")
	assert.Equal(t, State{}, empty)

	assert.Len(t, l.calls, len(model.StatusKeys()))
	for _, c := range l.calls {
		assert.Equal(t, 0, c.Offset)
		assert.Equal(t, 2, c.Limit)
		assert.Equal(t, model.CreatedAtDesc, c.OrderBy)
	}
	assertInvariant(t, s)
}

func TestApplyOps_MovesCountersAcrossPartitions(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 5, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("done", 3, true, task("D1", model.StatusDone), task("D2", model.StatusDone))

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	moved := task("T1", model.StatusDone)
	n, err := s.ApplyOps([]syncx.Operation{replaceOp(t, moved)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	todo, _ := s.State("todo")
	done, _ := s.State("done")
	assert.Equal(t, 4, todo.Total)
	assert.Equal(t, 1, todo.Offset)
	assert.Equal(t, 4, done.Total)
	assert.Equal(t, 3, done.Offset)

	todoView, _ := s.View("todo")
	doneView, _ := s.View("done")
	assert.NotContains(t, ids(todoView.Items), "T1")
	assert.Contains(t, ids(doneView.Items), "T1")
	assertInvariant(t, s)
}

func TestApplyOps_Rules(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 2, false, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))
	before := s.Version()

	unknown, err := syncx.Add("tasks", "T9", task("T9", model.StatusTodo))
	require.NoError(t, err)
	other, err := syncx.Replace("gantt", "T1", task("T1", model.StatusDone))
	require.NoError(t, err)

	n, err := s.ApplyOps([]syncx.Operation{
		unknown,
		other,
		syncx.Remove("tasks", "missing"),
		{Op: syncx.OpReplace, Path: "/tasks/T1", Value: json.RawMessage(`"not an object"`)},
		{Op: syncx.OpReplace, Path: "/tasks/T1/title", Value: json.RawMessage(`{"x":1}`)},
		{Op: "move", Path: "/tasks/T1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, before, s.Version(), "no-op batch must not produce a transition")

	_, ok := s.Get("T9")
	assert.False(t, ok, "add outside the loaded window must not materialize")
	todo, _ := s.State("todo")
	assert.Equal(t, 2, todo.Total)

	n, err = s.ApplyOps([]syncx.Operation{syncx.Remove("tasks", "T2")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	todo, _ = s.State("todo")
	assert.Equal(t, 1, todo.Offset)
	assert.Equal(t, 1, todo.Total)
	assert.False(t, todo.HasMore)
	assert.Equal(t, uint64(1), s.Revision("T2"))
	assertInvariant(t, s)
}

func TestApplyOps_ReplaceIsIdempotent(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 4, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("inprogress", 1, false, task("P1", model.StatusInProgress))
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	op := replaceOp(t, task("T1", model.StatusInProgress))

	_, err := s.ApplyOps([]syncx.Operation{op})
	require.NoError(t, err)
	snap1 := s.Snapshot()
	views1 := s.Views()

	_, err = s.ApplyOps([]syncx.Operation{op})
	require.NoError(t, err)
	assert.Equal(t, snap1, s.Snapshot())
	assert.Equal(t, views1, s.Views())
	assertInvariant(t, s)
}

func TestApplyOps_DecodeFailureDropsBatch(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 2, false, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))
	before := s.Version()

	_, err := s.ApplyOps([]syncx.Operation{
		syncx.Remove("tasks", "T1"),
		{Op: syncx.OpReplace, Path: "/tasks/T2", Value: json.RawMessage(`{"id":"T2","title":42}`)},
	})
	require.Error(t, err)

	var perr *PatchError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Index)
	assert.Equal(t, "/tasks/T2", perr.Path)

	_, ok := s.Get("T1")
	assert.True(t, ok, "earlier ops in a failed batch must not land")
	assert.Equal(t, before, s.Version())
	assert.Equal(t, uint64(0), s.Revision("T1"))
}

func TestApplyOps_IDMismatch(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 1, false, task("T1", model.StatusTodo))
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	_, err := s.ApplyOps([]syncx.Operation{replaceOp(t, task("T1", model.StatusDone))})
	require.NoError(t, err)

	op := replaceOp(t, task("OTHER", model.StatusTodo))
	op.Path = "/tasks/T1"
	_, err = s.ApplyOps([]syncx.Operation{op})
	var perr *PatchError
	assert.True(t, errors.As(err, &perr))
}

func TestLoadMore_UnionsNextPage(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 5, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("todo", 5, true, task("T3", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("done", 1, false, task("T4", model.StatusDone))

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	// no more in done: no fetch
	calls := len(l.calls)
	require.NoError(t, s.LoadMore(context.Background(), "done"))
	assert.Len(t, l.calls, calls)

	require.NoError(t, s.LoadMore(context.Background(), "todo"))
	last := l.calls[len(l.calls)-1]
	assert.Equal(t, "todo", last.Partition)
	assert.Equal(t, 2, last.Offset)

	todo, _ := s.State("todo")
	assert.Equal(t, 3, todo.Offset, "T2 is replaced, not duplicated")
	assert.Equal(t, 5, todo.Total)
	assert.True(t, todo.HasMore)
	assert.False(t, todo.IsLoadingMore)
	assertInvariant(t, s)

	err := s.LoadMore(context.Background(), "archived")
	assert.ErrorIs(t, err, ErrUnknownPartition)
}

func TestLoadMore_MovesItemFromOtherPartition(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 3, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("done", 2, true, task("D1", model.StatusDone), task("X", model.StatusDone))
	// X changed status on the server; the next todo page carries it
	l.add("todo", 3, false, task("X", model.StatusTodo))

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))
	require.NoError(t, s.LoadMore(context.Background(), "todo"))

	todo, _ := s.State("todo")
	done, _ := s.State("done")
	assert.Equal(t, 3, todo.Offset)
	assert.Equal(t, 1, done.Offset)
	assertInvariant(t, s)
}

func TestLoadMore_FailureKeepsData(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 5, true, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	l.errs["todo"] = errors.New("boom")
	err := s.LoadMore(context.Background(), "todo")

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, 2, ferr.Offset)

	todo, _ := s.State("todo")
	assert.Equal(t, 2, todo.Offset)
	assert.False(t, todo.IsLoadingMore)
	assert.ErrorAs(t, todo.Err, &ferr)
	assert.Len(t, s.Snapshot(), 2)
}

func TestLoadInitial_PartialFailure(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 1, false, task("T1", model.StatusTodo))
	l.errs["done"] = errors.New("503")
	l.errs["cancelled"] = errors.New("timeout")

	s := newTaskStore(l)
	err := s.LoadInitial(context.Background())
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Contains(t, err.Error(), "done")
	assert.Contains(t, err.Error(), "cancelled")

	todo, _ := s.State("todo")
	assert.Equal(t, 1, todo.Offset)
	assert.NoError(t, todo.Err)

	done, _ := s.State("done")
	assert.False(t, done.IsLoading)
	assert.ErrorAs(t, done.Err, &ferr)
	assert.Equal(t, "done", ferr.Partition)
}

func TestLoadInitial_ReplacesPartitionSubset(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 2, false, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.add("todo", 1, false, task("T3", model.StatusTodo))

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))
	require.NoError(t, s.LoadInitial(context.Background()))

	view, _ := s.View("todo")
	assert.Equal(t, []string{"T3"}, ids(view.Items))
	assertInvariant(t, s)
}

func TestLoadMore_ReloadWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	l := ListerFunc[model.Task](func(ctx context.Context, scopeID string, opts ListOptions) (Page[model.Task], error) {
		if opts.Partition != "todo" {
			return Page[model.Task]{}, nil
		}
		if opts.Offset == 0 {
			return Page[model.Task]{Items: []model.Task{task("T1", model.StatusTodo), task("T2", model.StatusTodo)}, Total: 4, HasMore: true}, nil
		}
		<-gate
		return Page[model.Task]{Items: []model.Task{task("T3", model.StatusTodo), task("T4", model.StatusTodo)}, Total: 4}, nil
	})

	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.LoadMore(context.Background(), "todo") }()
	require.Eventually(t, func() bool {
		st, _ := s.State("todo")
		return st.IsLoadingMore
	}, waitFor, tick)

	// reload supersedes the page in flight
	require.NoError(t, s.LoadInitial(context.Background()))
	close(gate)
	require.NoError(t, <-done)

	todo, _ := s.State("todo")
	assert.False(t, todo.IsLoadingMore)
	assert.Equal(t, 2, todo.Offset)
	assert.True(t, todo.HasMore)

	require.NoError(t, s.LoadMore(context.Background(), "todo"))
	todo, _ = s.State("todo")
	assert.Equal(t, 4, todo.Offset)
	assert.False(t, todo.HasMore)
	assertInvariant(t, s)
}

func TestLoadInitial_KeepsLocalEntities(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 2, false, task("T1", model.StatusTodo), task("T2", model.StatusTodo))
	l.gate = make(chan struct{})

	s := newTaskStore(l)
	done := make(chan error, 1)
	go func() { done <- s.LoadInitial(context.Background()) }()
	require.Eventually(t, func() bool {
		st, _ := s.State("todo")
		return st.IsLoading
	}, waitFor, tick)

	require.NoError(t, s.Update(func(tx *Txn[model.Task]) error {
		tx.PutLocal(task("temp-1", model.StatusTodo))
		return nil
	}))
	close(l.gate)
	require.NoError(t, <-done)

	view, _ := s.View("todo")
	assert.ElementsMatch(t, []string{"T1", "T2", "temp-1"}, ids(view.Items))
	assertInvariant(t, s)

	// settling the local entry makes it an ordinary server entity again
	require.NoError(t, s.Update(func(tx *Txn[model.Task]) error {
		require.True(t, tx.Delete("temp-1"))
		tx.Put(task("T9", model.StatusTodo))
		return nil
	}))
	l.gate = nil
	l.add("todo", 1, false, task("T1", model.StatusTodo))
	require.NoError(t, s.LoadInitial(context.Background()))

	view, _ = s.View("todo")
	assert.Equal(t, []string{"T1"}, ids(view.Items))
	assertInvariant(t, s)
}

func TestDiscard_DropsStaleFetch(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 1, false, task("T1", model.StatusTodo))
	l.gate = make(chan struct{})

	s := newTaskStore(l)
	done := make(chan error, 1)
	go func() { done <- s.LoadInitial(context.Background()) }()

	require.Eventually(t, func() bool {
		st, _ := s.State("todo")
		return st.IsLoading
	}, waitFor, tick)

	s.Discard()
	close(l.gate)
	require.NoError(t, <-done)

	assert.Empty(t, s.Snapshot())
	st, _ := s.State("todo")
	assert.Equal(t, State{}, st)
}

func TestSubscribe_Coalesces(t *testing.T) {
	l := newFakeLister()
	l.add("todo", 3, false, task("T1", model.StatusTodo), task("T2", model.StatusTodo), task("T3", model.StatusTodo))
	s := newTaskStore(l)

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.LoadInitial(context.Background()))
	for _, id := range []string{"T1", "T2", "T3"} {
		_, err := s.ApplyOps([]syncx.Operation{syncx.Remove("tasks", id)})
		require.NoError(t, err)
	}

	<-ch
	select {
	case <-ch:
		require.FailNow(t, "signals should coalesce into one pending notification")
	default:
	}

	unsubscribe()
	_, err := s.ApplyOps([]syncx.Operation{syncx.Remove("tasks", "none")})
	require.NoError(t, err)
}

func TestPartitionInvariant_MixedSequence(t *testing.T) {
	l := newFakeLister()
	statuses := model.TaskStatuses
	for i, st := range statuses {
		l.add(string(st), 10, true, task(fmt.Sprintf("%s-1", st), st), task(fmt.Sprintf("%s-2", st), st))
		l.add(string(st), 10, true, task(fmt.Sprintf("%s-3", st), st), task(fmt.Sprintf("%s-%d", st, 4+i), st))
	}
	s := newTaskStore(l)
	require.NoError(t, s.LoadInitial(context.Background()))

	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("%s-%d", statuses[i%len(statuses)], 1+i%3)
		var op syncx.Operation
		switch i % 4 {
		case 0, 1:
			op = replaceOp(t, task(id, statuses[(i*7)%len(statuses)]))
		case 2:
			op = syncx.Remove("tasks", id)
		case 3:
			require.NoError(t, s.LoadMore(context.Background(), string(statuses[i%len(statuses)])))
			continue
		}
		_, err := s.ApplyOps([]syncx.Operation{op})
		require.NoError(t, err)
		assertInvariant(t, s)
	}
}

func TestTxn_ClampsCounters(t *testing.T) {
	s := newTaskStore(newFakeLister())
	require.NoError(t, s.LoadInitial(context.Background()))

	err := s.Update(func(tx *Txn[model.Task]) error {
		tx.Put(task("A", model.StatusTodo))
		tx.Delete("A")
		tx.Delete("A")
		return nil
	})
	require.NoError(t, err)

	todo, _ := s.State("todo")
	assert.Equal(t, 0, todo.Offset)
	assert.Equal(t, 0, todo.Total)
	assert.False(t, todo.HasMore)
}

func TestUpdate_ErrorCommitsNothing(t *testing.T) {
	s := newTaskStore(newFakeLister())
	before := s.Version()

	err := s.Update(func(tx *Txn[model.Task]) error {
		tx.Put(task("A", model.StatusTodo))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, before, s.Version())
}

func ids(items []model.Task) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
