package netlink

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/mdlayher/netlink"
)

// Response is the lazily consumed output of a single exchange. Messages are
// yielded in arrival order; the sequence ends with io.EOF or with exactly one
// error. A Response is meant to be consumed from a single goroutine.
type Response struct {
	seq  uint32
	kind Kind
	q    *queue[reply]
	conn *Conn

	finished  bool
	closeOnce sync.Once
}

func (r *Response) Sequence() uint32 {
	return r.seq
}

func (r *Response) Kind() Kind {
	return r.kind
}

// Next blocks until the next message arrives. It returns io.EOF once the
// exchange ended cleanly. A context error leaves the exchange untouched: call
// Close to abandon it.
func (r *Response) Next(ctx context.Context) (netlink.Message, error) {
	if r.finished {
		return netlink.Message{}, io.EOF
	}

	rep, ok, err := r.q.pop(ctx)
	if err != nil {
		return netlink.Message{}, err
	}
	if !ok {
		r.finished = true
		return netlink.Message{}, io.EOF
	}
	if rep.err != nil {
		r.finished = true
		return netlink.Message{}, rep.err
	}

	return rep.msg, nil
}

// All ranges over the remaining messages. A terminal error is yielded once
// as the last element. Breaking out of the loop cancels the exchange, and so
// does ctx being done: unlike Next, the context error is yielded as the last
// element and the exchange is abandoned.
func (r *Response) All(ctx context.Context) iter.Seq2[netlink.Message, error] {
	return func(yield func(netlink.Message, error) bool) {
		defer r.Close()
		for {
			m, err := r.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(netlink.Message{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Collect drains the response. On failure the messages received before the
// error are returned as well.
func (r *Response) Collect(ctx context.Context) ([]netlink.Message, error) {
	var msgs []netlink.Message
	for m, err := range r.All(ctx) {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Close abandons the exchange. Anything the kernel still sends for it is
// discarded. Closing a finished response is a no-op.
func (r *Response) Close() {
	r.closeOnce.Do(func() {
		r.q.discard()
		if r.finished {
			return
		}
		r.finished = true
		r.conn.cancel(r.seq, r.q)
	})
}

// Subscription yields multicast notifications for the groups it was created
// with. ErrOverrun items are not terminal: they tell the consumer some
// notifications were lost.
type Subscription struct {
	id     uint64
	groups []uint32
	q      *queue[reply]
	conn   *Conn

	finished  bool
	closeOnce sync.Once
}

func (s *Subscription) Groups() []uint32 {
	return s.groups
}

func (s *Subscription) wants(group uint32) bool {
	for _, g := range s.groups {
		if g == group {
			return true
		}
	}
	return false
}

// Next returns the next notification, ErrOverrun when messages were dropped,
// io.EOF after Close and ErrConnectionClosed once the connection is gone.
func (s *Subscription) Next(ctx context.Context) (netlink.Message, error) {
	if s.finished {
		return netlink.Message{}, io.EOF
	}

	rep, ok, err := s.q.pop(ctx)
	if err != nil {
		return netlink.Message{}, err
	}
	if !ok {
		s.finished = true
		return netlink.Message{}, io.EOF
	}

	return rep.msg, rep.err
}

// All ranges over notifications until the subscription or the connection is
// closed. Breaking out of the loop closes the subscription. A context error
// is yielded as the last element and closes the subscription as well.
func (s *Subscription) All(ctx context.Context) iter.Seq2[netlink.Message, error] {
	return func(yield func(netlink.Message, error) bool) {
		defer s.Close()
		for {
			m, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(m, err) {
				return
			}
			if err != nil && !errors.Is(err, ErrOverrun) {
				return
			}
		}
	}
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.q.discard()
		s.conn.unsubscribe(s.id)
	})
}
