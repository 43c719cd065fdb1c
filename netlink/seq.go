package netlink

import "math"

// sequencer hands out sequence numbers. 0 is never returned as the kernel
// uses it for notifications it originates itself.
type sequencer struct {
	next uint32
}

func newSequencer(start uint32) *sequencer {
	return &sequencer{next: start}
}

// peek returns the value the next call to allocate will consider first.
func (s *sequencer) peek() uint32 {
	if s.next == 0 {
		return 1
	}
	return s.next
}

// allocate returns the next number for which inUse is false, wrapping
// around after math.MaxUint32. Running out of numbers means more than four
// billion requests are in flight: we'd rather crash than reuse one.
func (s *sequencer) allocate(inUse func(uint32) bool) uint32 {
	for range uint64(math.MaxUint32) + 1 {
		seq := s.next
		s.next++
		if seq == 0 {
			continue
		}
		if inUse != nil && inUse(seq) {
			continue
		}
		return seq
	}
	panic("netlink: every sequence number is in use")
}
