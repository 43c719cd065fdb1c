package netlink

import (
	"context"
	"errors"
	"slices"

	"github.com/mdlayher/netlink"
)

// Handle submits requests to a connection. Handles are plain values which
// can be copied and shared between goroutines freely.
type Handle struct {
	c *Conn
}

// Send encodes req, puts it on the wire and returns the Response its replies
// will be delivered to. Encoding and transport failures are reported here
// and leave no trace in the connection.
func (h Handle) Send(ctx context.Context, req Request) (*Response, error) {
	if h.c == nil {
		return nil, ErrConnectionClosed
	}

	body, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	if err := h.c.Err(); err != nil {
		return nil, err
	}

	s := &submission{
		req:    req,
		body:   body,
		q:      newQueue[reply](),
		result: make(chan submitResult, 1),
	}

	select {
	case h.c.intake <- s:
	case <-h.c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Once queued the submission is always answered, so we don't give up on
	// the context anymore.
	select {
	case r := <-s.result:
		if r.err != nil {
			return nil, r.err
		}
		return &Response{seq: r.seq, kind: req.Kind, q: s.q, conn: h.c}, nil
	case <-h.c.done:
		return nil, ErrConnectionClosed
	}
}

// Execute sends req and waits for the whole exchange to finish.
func (h Handle) Execute(ctx context.Context, req Request) ([]netlink.Message, error) {
	resp, err := h.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Collect(ctx)
}

// Acknowledge sends a request expecting nothing but an acknowledgement.
func (h Handle) Acknowledge(ctx context.Context, req Request) error {
	req.Multipart = false
	_, err := h.Execute(ctx, req)
	return err
}

var errNoGroups = errors.New("no valid multicast groups given")

// Subscribe joins groups and returns a Subscription yielding every
// notification published on them.
func (h Handle) Subscribe(ctx context.Context, groups ...uint32) (*Subscription, error) {
	if h.c == nil {
		return nil, ErrConnectionClosed
	}

	groups = slices.Clone(groups)
	slices.Sort(groups)
	groups = slices.Compact(groups)
	if len(groups) == 0 || groups[0] == 0 {
		return nil, errNoGroups
	}

	s := &Subscription{groups: groups, q: newQueue[reply](), conn: h.c}

	var serr error
	if err := h.c.do(ctx, func() { serr = h.c.addSubscription(s) }); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}

	return s, nil
}

// Stats asks the driver for a snapshot of its state.
func (h Handle) Stats(ctx context.Context) (Stats, error) {
	if h.c == nil {
		return Stats{Closed: true}, nil
	}

	var st Stats
	if err := h.c.do(ctx, func() { st = h.c.stats() }); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return Stats{Closed: true}, nil
		}
		return Stats{}, err
	}

	return st, nil
}
