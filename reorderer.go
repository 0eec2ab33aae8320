package dispatch

import (
	"iter"
	"strconv"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/ygrebnov/errorc"
)

// reorderBuffer holds completed outcomes until every earlier sequence number has
// been released. See preserve_order.go for the contract.
//
// Not safe for concurrent use; guarded by the dispatcher state lock.
type reorderBuffer[R any] struct {
	heap    *binaryheap.Heap // Outcome[R], min Seq on top
	present map[Seq]struct{}
	next    Seq
}

func newReorderBuffer[R any]() *reorderBuffer[R] {
	return &reorderBuffer[R]{
		heap:    binaryheap.NewWith(compareOutcomeSeq[R]),
		present: make(map[Seq]struct{}),
	}
}

func compareOutcomeSeq[R any](a, b interface{}) int {
	sa, sb := a.(Outcome[R]).Seq, b.(Outcome[R]).Seq
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// insert stores a completed outcome. An outcome whose sequence number is already
// buffered or was already released violates sequence uniqueness.
func (b *reorderBuffer[R]) insert(o Outcome[R]) error {
	if o.Seq < b.next {
		return errorc.With(ErrDuplicateSequence,
			errorc.String("seq", strconv.FormatUint(uint64(o.Seq), 10)),
			errorc.String("reason", "already released"),
		)
	}
	if _, dup := b.present[o.Seq]; dup {
		return errorc.With(ErrDuplicateSequence,
			errorc.String("seq", strconv.FormatUint(uint64(o.Seq), 10)),
			errorc.String("reason", "already buffered"),
		)
	}
	b.present[o.Seq] = struct{}{}
	b.heap.Push(o)
	return nil
}

// drainReady yields the contiguous run of outcomes starting at the next expected
// sequence number. Each yielded outcome is removed and the cursor advanced before
// it is handed out; stopping early leaves the remainder for the next call.
func (b *reorderBuffer[R]) drainReady() iter.Seq[Outcome[R]] {
	return func(yield func(Outcome[R]) bool) {
		for {
			v, ok := b.heap.Peek()
			if !ok || v.(Outcome[R]).Seq != b.next {
				return
			}
			b.heap.Pop()
			o := v.(Outcome[R])
			delete(b.present, o.Seq)
			b.next++
			if !yield(o) {
				return
			}
		}
	}
}

// len returns the number of buffered outcomes waiting for an earlier one.
func (b *reorderBuffer[R]) len() int { return b.heap.Size() }

// nextExpected returns the smallest sequence number not yet released.
func (b *reorderBuffer[R]) nextExpected() Seq { return b.next }
