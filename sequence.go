package dispatch

// Seq is the admission sequence number of an item. The first admitted item gets 0.
type Seq uint64

// sequencer stamps admitted items. Not safe for concurrent use; the dispatcher
// calls it under its state lock.
type sequencer struct {
	next Seq
}

// assign returns the next sequence number. Numbers are never reused.
func (s *sequencer) assign() Seq {
	n := s.next
	s.next++
	return n
}

// assigned reports how many numbers have been handed out.
func (s *sequencer) assigned() uint64 { return uint64(s.next) }
