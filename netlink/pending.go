package netlink

import "fmt"

// pendingTable maps sequence numbers to in-flight exchanges. It's only ever
// touched by the driver goroutine, hence no locking.
type pendingTable struct {
	m map[uint32]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{m: map[uint32]*pendingRequest{}}
}

func (t *pendingTable) register(p *pendingRequest) {
	if _, ok := t.m[p.seq]; ok {
		panic(fmt.Sprintf("netlink: sequence number %d registered twice", p.seq))
	}
	t.m[p.seq] = p
}

func (t *pendingTable) lookup(seq uint32) (*pendingRequest, bool) {
	p, ok := t.m[seq]
	return p, ok
}

func (t *pendingTable) has(seq uint32) bool {
	_, ok := t.m[seq]
	return ok
}

func (t *pendingTable) remove(seq uint32) {
	delete(t.m, seq)
}

func (t *pendingTable) len() int {
	return len(t.m)
}

// drain removes every entry, calling fn on each of them.
func (t *pendingTable) drain(fn func(*pendingRequest)) {
	for seq, p := range t.m {
		fn(p)
		delete(t.m, seq)
	}
}
