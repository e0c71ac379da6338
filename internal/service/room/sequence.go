package room

import "sync/atomic"

// sequence issues strictly increasing message ids, unique for the process
// lifetime. Allocation happens inside the room critical section so ids also
// observe the serialized submission order.
type sequence struct {
	n atomic.Int64
}

// Next returns the next sequence id, starting at 1.
func (s *sequence) Next() int64 {
	return s.n.Add(1)
}
