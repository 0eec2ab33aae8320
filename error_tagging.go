package dispatch

import (
	"errors"
	"fmt"
)

// ItemMetaError exposes correlation metadata for a failed item.
type ItemMetaError interface {
	error
	Unwrap() []error
	Seq() (Seq, bool)
	WorkerID() (WorkerID, bool)
}

// ItemError is the failure delivered in place of a result. It matches both
// ErrWorkerFailure and the error returned by the worker via errors.Is.
type ItemError struct {
	err    error
	seq    Seq
	worker WorkerID
}

func newItemError(err error, seq Seq, worker WorkerID) error {
	if err == nil {
		return nil
	}
	return &ItemError{err: err, seq: seq, worker: worker}
}

func (e *ItemError) Error() string { return ErrWorkerFailure.Error() + ": " + e.err.Error() }

func (e *ItemError) Unwrap() []error { return []error{ErrWorkerFailure, e.err} }

// Cause returns the error reported by the worker.
func (e *ItemError) Cause() error { return e.err }

func (e *ItemError) Seq() (Seq, bool) { return e.seq, true }

func (e *ItemError) WorkerID() (WorkerID, bool) {
	if e.worker == (WorkerID{}) {
		return WorkerID{}, false
	}
	return e.worker, true
}

func (e *ItemError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "item(seq=%d,worker=%s): %+v", e.seq, e.worker, e.err)
			return
		}
		fallthrough
	case 's':
		_, _ = fmt.Fprint(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// ExtractSeq returns the sequence number of the failed item from err if present.
func ExtractSeq(err error) (Seq, bool) {
	var ime ItemMetaError
	if errors.As(err, &ime) {
		return ime.Seq()
	}
	return 0, false
}

// ExtractWorkerID returns the id of the worker that failed the item from err if present.
func ExtractWorkerID(err error) (WorkerID, bool) {
	var ime ItemMetaError
	if errors.As(err, &ime) {
		return ime.WorkerID()
	}
	return WorkerID{}, false
}
