package dispatch_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/dispatch"
)

func newDispatcher[T, R any](t *testing.T, opts ...dispatch.Option) (*dispatch.Dispatcher[T, R], *recordingSink[R]) {
	t.Helper()
	sink := &recordingSink[R]{}
	d, err := dispatch.New[T, R](context.Background(), sink, opts...)
	require.NoError(t, err)
	return d, sink
}

func TestNew_Errors(t *testing.T) {
	_, err := dispatch.New[int, int](context.Background(), nil)
	require.ErrorIs(t, err, dispatch.ErrNilSink)

	_, err = dispatch.New[int, int](context.Background(), &recordingSink[int]{}, dispatch.WithName(""))
	require.ErrorIs(t, err, dispatch.ErrInvalidConfig)
}

func TestDispatcher_ReverseCompletionEmitsInAdmissionOrder(t *testing.T) {
	d, sink := newDispatcher[string, string](t)
	w := &manualWorker[string, string]{}
	_, err := d.Register(w)
	require.NoError(t, err)

	for _, item := range []string{"A", "B", "C"} {
		require.NoError(t, d.Admit(item))
	}
	require.Equal(t, []string{"A", "B", "C"}, w.received())
	require.Equal(t, 3, d.InFlight())

	w.finish("C", "Z", nil)
	w.finish("B", "Y", nil)
	require.Empty(t, sink.values())
	require.Equal(t, 2, d.Stats().Buffered)

	w.finish("A", "X", nil)
	require.Equal(t, []string{"X", "Y", "Z"}, sink.values())
	require.Equal(t, dispatch.StateIdle, d.State())

	for i, o := range sink.snapshot() {
		require.Equal(t, dispatch.Seq(i), o.Seq)
		require.False(t, o.Failed())
	}
}

func TestDispatcher_TwoWorkers_ReleasesContiguousRuns(t *testing.T) {
	d, sink := newDispatcher[string, string](t)
	w1 := &manualWorker[string, string]{}
	w2 := &manualWorker[string, string]{}
	id1, err := d.Register(w1)
	require.NoError(t, err)
	id2, err := d.Register(w2)
	require.NoError(t, err)
	require.Equal(t, dispatch.ModeRoundRobin, d.Mode())

	for _, item := range []string{"A", "B", "C", "D"} {
		require.NoError(t, d.Admit(item))
	}
	require.Equal(t, []string{"A", "C"}, w1.received())
	require.Equal(t, []string{"B", "D"}, w2.received())

	w2.finish("D", "d", nil)
	w2.finish("B", "b", nil)
	require.Empty(t, sink.values())

	w1.finish("A", "a", nil)
	require.Equal(t, []string{"a", "b"}, sink.values())

	w1.finish("C", "c", nil)
	require.Equal(t, []string{"a", "b", "c", "d"}, sink.values())

	got := sink.snapshot()
	require.Equal(t, id1, got[0].Worker)
	require.Equal(t, id2, got[1].Worker)
	require.Equal(t, id1, got[2].Worker)
	require.Equal(t, id2, got[3].Worker)
}

func TestDispatcher_OrderPreservedUnderConcurrentCompletion(t *testing.T) {
	const n = 500

	d, sink := newDispatcher[int, int](t)
	workers := make([]*manualWorker[int, int], 4)
	for i := range workers {
		workers[i] = &manualWorker[int, int]{}
		_, err := d.Register(workers[i])
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, d.Admit(i))
	}

	var calls []pendingCall[int, int]
	for _, w := range workers {
		calls = append(calls, w.drainPending()...)
	}
	require.Len(t, calls, n)

	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(calls), func(i, j int) { calls[i], calls[j] = calls[j], calls[i] })

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := g; i < len(calls); i += 8 {
				calls[i].done(calls[i].item*10, nil)
			}
		}(g)
	}
	wg.Wait()

	flushed := make(chan error, 1)
	d.Flush(func(err error) { flushed <- err })
	require.NoError(t, <-flushed)

	want := make([]int, n)
	for i := range want {
		want[i] = i * 10
	}
	require.Equal(t, want, sink.values())

	completes, err := sink.completion()
	require.NoError(t, err)
	require.Equal(t, 1, completes)
	require.Equal(t, n, sink.emittedAtComplete)
}

func TestDispatcher_RoundRobinFairness(t *testing.T) {
	const (
		w = 3
		n = 12
	)

	d, sink := newDispatcher[int, int](t)

	received := make([][]int, w)
	ids := make([]dispatch.WorkerID, w)
	for i := 0; i < w; i++ {
		i := i
		id, err := d.Register(dispatch.WorkerFunc[int, int](
			func(_ context.Context, item int, done dispatch.Completion[int]) {
				received[i] = append(received[i], item)
				done(item, nil)
			},
		))
		require.NoError(t, err)
		ids[i] = id
	}
	require.Equal(t, ids, d.Workers())

	for i := 0; i < n; i++ {
		require.NoError(t, d.Admit(i))
	}

	for i := 0; i < w; i++ {
		require.Len(t, received[i], n/w)
		for k, item := range received[i] {
			require.Equal(t, i+k*w, item)
		}
	}
	for _, o := range sink.snapshot() {
		require.Equal(t, ids[int(o.Seq)%w], o.Worker)
	}
}

func TestDispatcher_ZeroWorkerCapture(t *testing.T) {
	d, sink := newDispatcher[string, string](t)
	require.Equal(t, dispatch.ModeBlocked, d.Mode())
	require.Equal(t, dispatch.StateIdle, d.State())

	require.NoError(t, d.Admit("first"))
	stats := d.Stats()
	require.True(t, stats.Held)
	require.Equal(t, uint64(1), stats.Admitted)
	require.Equal(t, 0, stats.InFlight)
	require.Equal(t, dispatch.StateDispatching, stats.State)

	w := &manualWorker[string, string]{}
	_, err := d.Register(w)
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, w.received())
	require.False(t, d.Stats().Held)

	require.NoError(t, d.Admit("second"))
	require.Equal(t, []string{"first", "second"}, w.received())

	w.finish("second", "2", nil)
	w.finish("first", "1", nil)

	got := sink.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, dispatch.Seq(0), got[0].Seq)
	require.Equal(t, "1", got[0].Value)
	require.Equal(t, "2", got[1].Value)
}

func TestDispatcher_IllegalAdmissionWhileBlocked(t *testing.T) {
	d, sink := newDispatcher[int, int](t)

	require.NoError(t, d.Admit(1))
	err := d.Admit(2)
	require.ErrorIs(t, err, dispatch.ErrIllegalAdmissionWhileBlocked)

	// rejected admissions do not consume a sequence number
	require.Equal(t, uint64(1), d.Stats().Admitted)
	require.NotEqual(t, dispatch.StateClosed, d.State())

	_, err = d.Register(dispatch.Inline(func(_ context.Context, v int) (int, error) { return v, nil }))
	require.NoError(t, err)
	require.NoError(t, d.Admit(3))

	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, []int{1, 3}, sink.values())
	require.Equal(t, dispatch.Seq(1), sink.snapshot()[1].Seq)
}

func TestDispatcher_StrictAdmissionAborts(t *testing.T) {
	d, sink := newDispatcher[int, int](t, dispatch.WithStrictAdmission())

	require.NoError(t, d.Admit(1))
	err := d.Admit(2)
	require.ErrorIs(t, err, dispatch.ErrIllegalAdmissionWhileBlocked)

	require.Equal(t, dispatch.StateClosed, d.State())
	completes, cerr := sink.completion()
	require.Equal(t, 1, completes)
	require.ErrorIs(t, cerr, dispatch.ErrIllegalAdmissionWhileBlocked)
	require.ErrorIs(t, d.Err(), dispatch.ErrIllegalAdmissionWhileBlocked)

	err = d.Admit(3)
	require.ErrorIs(t, err, dispatch.ErrClosed)
	require.ErrorIs(t, err, dispatch.ErrIllegalAdmissionWhileBlocked)

	_, err = d.Register(&manualWorker[int, int]{})
	require.ErrorIs(t, err, dispatch.ErrClosed)
	require.Empty(t, sink.values())
}

func TestDispatcher_WorkerFailureDeliveredInPlace(t *testing.T) {
	errOdd := errors.New("odd item")
	d, sink := newDispatcher[int, int](t)
	id, err := d.Register(dispatch.Inline(func(_ context.Context, v int) (int, error) {
		if v%2 == 1 {
			return 0, errOdd
		}
		return v * v, nil
	}))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Admit(i))
	}
	require.NoError(t, d.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 4)
	require.Equal(t, 0, got[0].Value)
	require.Equal(t, 4, got[2].Value)

	for _, i := range []int{1, 3} {
		o := got[i]
		require.True(t, o.Failed())
		require.ErrorIs(t, o.Err, dispatch.ErrWorkerFailure)
		require.ErrorIs(t, o.Err, errOdd)

		seq, ok := dispatch.ExtractSeq(o.Err)
		require.True(t, ok)
		require.Equal(t, dispatch.Seq(i), seq)
		wid, ok := dispatch.ExtractWorkerID(o.Err)
		require.True(t, ok)
		require.Equal(t, id, wid)
	}

	completes, cerr := sink.completion()
	require.Equal(t, 1, completes)
	require.NoError(t, cerr)
}

func TestDispatcher_FailFast(t *testing.T) {
	errBoom := errors.New("boom")
	d, sink := newDispatcher[int, int](t, dispatch.WithFailFast())
	_, err := d.Register(dispatch.Inline(func(_ context.Context, v int) (int, error) {
		if v == 2 {
			return 0, errBoom
		}
		return v, nil
	}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(i))
	}
	err = d.Admit(3)
	require.ErrorIs(t, err, dispatch.ErrClosed)
	require.ErrorIs(t, err, errBoom)

	got := sink.snapshot()
	require.Len(t, got, 3)
	require.True(t, got[2].Failed())

	completes, cerr := sink.completion()
	require.Equal(t, 1, completes)
	require.ErrorIs(t, cerr, dispatch.ErrWorkerFailure)
	require.ErrorIs(t, d.Close(context.Background()), errBoom)
}

func TestDispatcher_DoubleCompletionAborts(t *testing.T) {
	d, sink := newDispatcher[int, int](t)
	w := &manualWorker[int, int]{}
	_, err := d.Register(w)
	require.NoError(t, err)

	require.NoError(t, d.Admit(0))
	require.NoError(t, d.Admit(1))

	first := w.take(0)
	first.done(0, nil)
	require.Equal(t, []int{0}, sink.values())

	first.done(0, nil)
	require.Equal(t, dispatch.StateClosed, d.State())
	require.ErrorIs(t, d.Err(), dispatch.ErrDoubleCompletion)

	completes, cerr := sink.completion()
	require.Equal(t, 1, completes)
	require.ErrorIs(t, cerr, dispatch.ErrDoubleCompletion)

	// pending workers observe the abort through their context
	second := w.take(1)
	require.Error(t, second.ctx.Err())

	// late completions are ignored
	second.done(1, nil)
	require.Equal(t, []int{0}, sink.values())

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
}

func TestDispatcher_PanickingWorkerFailsItem(t *testing.T) {
	d, sink := newDispatcher[int, int](t)
	_, err := d.Register(dispatch.WorkerFunc[int, int](
		func(_ context.Context, item int, done dispatch.Completion[int]) {
			if item == 1 {
				panic("bad item")
			}
			done(item, nil)
		},
	))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(i))
	}
	require.NoError(t, d.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 3)
	require.ErrorIs(t, got[1].Err, dispatch.ErrWorkerPanicked)
	require.ErrorIs(t, got[1].Err, dispatch.ErrWorkerFailure)
	require.Equal(t, 2, got[2].Value)
}

func TestDispatcher_UnregisterRevertsModes(t *testing.T) {
	d, sink := newDispatcher[string, string](t)
	w1 := &manualWorker[string, string]{}
	w2 := &manualWorker[string, string]{}
	id1, err := d.Register(w1)
	require.NoError(t, err)
	id2, err := d.Register(w2)
	require.NoError(t, err)

	require.NoError(t, d.Admit("A"))
	require.NoError(t, d.Unregister(id1))
	require.Equal(t, dispatch.ModeSingle, d.Mode())

	require.NoError(t, d.Admit("B"))
	require.NoError(t, d.Admit("C"))
	require.Equal(t, []string{"B", "C"}, w2.received())

	// items already dispatched stay with the removed worker
	w2.finish("B", "b", nil)
	w2.finish("C", "c", nil)
	require.Empty(t, sink.values())
	w1.finish("A", "a", nil)
	require.Equal(t, []string{"a", "b", "c"}, sink.values())

	require.ErrorIs(t, d.Unregister(id1), dispatch.ErrUnknownWorker)
	require.NoError(t, d.Unregister(id2))
	require.Equal(t, dispatch.ModeBlocked, d.Mode())
	require.Empty(t, d.Workers())
}

func TestDispatcher_RegisterNilWorker(t *testing.T) {
	d, _ := newDispatcher[int, int](t)
	_, err := d.Register(nil)
	require.ErrorIs(t, err, dispatch.ErrNilWorker)
}

func TestDispatcher_Stats(t *testing.T) {
	d, _ := newDispatcher[int, int](t)
	w := &manualWorker[int, int]{}
	_, err := d.Register(w)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(i))
	}
	w.finish(2, 2, nil)
	w.finish(0, 0, nil)

	require.Equal(t, dispatch.Stats{
		Admitted:     3,
		Emitted:      1,
		InFlight:     1,
		Buffered:     1,
		Held:         false,
		Workers:      1,
		NextExpected: 1,
		Mode:         dispatch.ModeSingle,
		State:        dispatch.StateDispatching,
	}, d.Stats())
}

func TestStateAndModeStrings(t *testing.T) {
	require.Equal(t, "idle", dispatch.StateIdle.String())
	require.Equal(t, "dispatching", dispatch.StateDispatching.String())
	require.Equal(t, "draining", dispatch.StateDraining.String())
	require.Equal(t, "closed", dispatch.StateClosed.String())
	require.Equal(t, "unknown", dispatch.State(9).String())

	require.Equal(t, "blocked", dispatch.ModeBlocked.String())
	require.Equal(t, "single", dispatch.ModeSingle.String())
	require.Equal(t, "round-robin", dispatch.ModeRoundRobin.String())
}

func TestDispatcher_SinkPanicClosesDispatcher(t *testing.T) {
	var (
		emits      int
		completes  int
		completeEr error
	)
	sink := dispatch.SinkFuncs[string]{
		OnEmit: func(dispatch.Outcome[string]) {
			emits++
			if emits == 1 {
				panic("sink exploded")
			}
		},
		OnComplete: func(err error) {
			completes++
			completeEr = err
		},
	}
	d, err := dispatch.New[string, string](context.Background(), sink)
	require.NoError(t, err)
	_, err = d.Register(dispatch.Inline(upper))
	require.NoError(t, err)

	require.PanicsWithValue(t, "sink exploded", func() { _ = d.Admit("a") })

	admitted := make(chan error, 1)
	go func() { admitted <- d.Admit("b") }()
	select {
	case err := <-admitted:
		require.ErrorIs(t, err, dispatch.ErrClosed)
		require.ErrorIs(t, err, dispatch.ErrSinkPanicked)
	case <-time.After(time.Second):
		t.Fatal("Admit blocked after the sink panicked")
	}

	stats := d.Stats()
	require.Equal(t, dispatch.StateClosed, stats.State)
	require.Zero(t, stats.Emitted)
	require.Equal(t, 1, emits)
	require.Equal(t, 1, completes)
	require.ErrorIs(t, completeEr, dispatch.ErrSinkPanicked)
	require.ErrorIs(t, d.Close(context.Background()), dispatch.ErrSinkPanicked)
}

func TestDispatcher_PanicAfterCompletionPropagates(t *testing.T) {
	d, sink := newDispatcher[int, int](t)
	_, err := d.Register(dispatch.WorkerFunc[int, int](
		func(_ context.Context, item int, done dispatch.Completion[int]) {
			done(item, nil)
			if item == 1 {
				panic("after done")
			}
		},
	))
	require.NoError(t, err)

	require.NoError(t, d.Admit(0))
	require.PanicsWithValue(t, "after done", func() { _ = d.Admit(1) })

	// the completed item is kept and the dispatcher stays usable
	require.NoError(t, d.Admit(2))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, []int{0, 1, 2}, sink.values())
}

func TestDispatcher_SinkMayReadStatsWhileEmitting(t *testing.T) {
	var d *dispatch.Dispatcher[int, int]
	var seen []uint64
	sink := dispatch.SinkFuncs[int]{
		OnEmit: func(dispatch.Outcome[int]) {
			seen = append(seen, d.Stats().Emitted)
		},
	}
	d, err := dispatch.New[int, int](context.Background(), sink)
	require.NoError(t, err)
	w := &manualWorker[int, int]{}
	_, err = d.Register(w)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(i))
	}
	w.finish(2, 2, nil)
	w.finish(1, 1, nil)
	w.finish(0, 0, nil)

	// one batch: the counter moves once the batch is delivered
	require.Equal(t, []uint64{0, 0, 0}, seen)
	require.Equal(t, uint64(3), d.Stats().Emitted)
}
