// Package netlink multiplexes many logical request/response exchanges over a
// single netlink socket.
//
// A Conn runs two goroutines: a reader, which is the only one receiving from
// the transport, and a driver, which owns the table of pending exchanges,
// the sequence allocator and the multicast subscriptions and is the only one
// sending. Callers talk to the driver through a Handle.
//
// Inbound messages are routed by sequence number. Datagrams delivered on a
// multicast group always go to subscriptions: the kernel stamps notifications
// triggered by one of our requests with that request's sequence number, so
// the number alone can't tell them apart from replies.
package netlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mdlayher/netlink"

	"github.com/scitags/nlmux/transport"
	"github.com/scitags/nlmux/types"
)

type submission struct {
	req    Request
	body   []byte
	q      *queue[reply]
	result chan submitResult
}

type submitResult struct {
	seq uint32
	err error
}

type cancellation struct {
	seq uint32
	q   *queue[reply]
}

type inbound struct {
	dg      transport.Datagram
	overrun bool
	err     error
}

type Conn struct {
	Config

	t        transport.Transport
	logger   *slog.Logger
	observer Observer
	table    ErrorTable

	intake  chan *submission
	cancels chan cancellation
	control chan func()
	inbound chan inbound

	ctx        context.Context
	stop       context.CancelFunc
	closing    chan struct{}
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	closeErr   error

	mu  sync.RWMutex
	err error

	// Only accessed from the driver goroutine.
	seq       *sequencer
	pending   *pendingTable
	subs      map[uint64]*Subscription
	groups    map[uint32]int
	nextSubID uint64
	dead      error
}

// Dial opens a netlink socket configured by tConf and starts a connection on
// top of it.
func Dial(conf *Config, tConf *transport.Config) (*Conn, error) {
	s, err := transport.Dial(tConf)
	if err != nil {
		return nil, err
	}
	return New(s, conf), nil
}

// New starts the driver and reader goroutines over t. The connection takes
// ownership of t and closes it when the connection is closed.
func New(t transport.Transport, conf *Config) *Conn {
	if conf == nil {
		def := DefaultConfig
		conf = &def
	}

	c := &Conn{
		Config:     *conf,
		t:          t,
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		cancels:    make(chan cancellation),
		control:    make(chan func()),
		intake:     make(chan *submission, max(conf.IntakeQueue, 0)),
		inbound:    make(chan inbound, max(conf.InboundQueue, 0)),
		seq:        newSequencer(conf.InitialSequence),
		pending:    newPendingTable(),
		subs:       map[uint64]*Subscription{},
		groups:     map[uint32]int{},
	}

	if c.Log {
		c.logger = slog.Default().With("t", "netlink", "pid", t.PID())
	} else {
		c.logger = slog.New(slog.DiscardHandler)
	}

	c.observer = conf.Observer
	if c.observer == nil {
		c.observer = nopObserver{}
	}

	c.table = conf.ErrorTable
	if c.table == nil {
		c.table = DefaultErrorTable()
	}

	c.ctx, c.stop = context.WithCancel(context.Background())

	go c.read()
	go c.run()

	return c
}

// Handle returns a cheap value through which requests are submitted.
func (c *Conn) Handle() Handle {
	return Handle{c: c}
}

// Close fails every pending exchange and subscription with
// ErrConnectionClosed and releases the transport.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Debug("closing the connection")
		close(c.closing)
		c.stop()
		c.closeErr = c.t.Close()
		<-c.done
		<-c.readerDone
	})
	return c.closeErr
}

// Err returns nil while the connection is usable and the reason it died
// otherwise.
func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) read() {
	defer close(c.readerDone)

	for {
		dg, err := c.t.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if transport.IsTemporary(err) {
				continue
			}
			if transport.IsOverrun(err) {
				if !c.forward(inbound{overrun: true}) {
					return
				}
				continue
			}
			c.forward(inbound{err: err})
			return
		}

		if !c.forward(inbound{dg: dg}) {
			return
		}
	}
}

func (c *Conn) forward(in inbound) bool {
	select {
	case c.inbound <- in:
		return true
	case <-c.done:
		return false
	}
}

// do runs fn on the driver goroutine and waits for it to return.
func (c *Conn) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}

	select {
	case c.control <- wrapped:
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

func (c *Conn) cancel(seq uint32, q *queue[reply]) {
	select {
	case c.cancels <- cancellation{seq: seq, q: q}:
	case <-c.done:
	}
}

func (c *Conn) unsubscribe(id uint64) {
	c.do(context.Background(), func() { c.dropSubscription(id) })
}

func (c *Conn) run() {
	defer close(c.done)

	for {
		select {
		case s := <-c.intake:
			c.submit(s)
		case cn := <-c.cancels:
			c.abandon(cn)
		case fn := <-c.control:
			fn()
		case in := <-c.inbound:
			switch {
			case in.err != nil:
				c.die(&TransportError{Op: "receive", Err: in.err})
			case in.overrun:
				c.overrun()
			default:
				c.handleDatagram(in.dg)
			}
		case <-c.closing:
			c.die(nil)
			return
		}
	}
}

func (c *Conn) submit(s *submission) {
	if c.dead != nil {
		s.result <- submitResult{err: c.dead}
		return
	}

	seq := c.seq.allocate(c.pending.has)

	b, err := encodeMessage(s.req, s.body, seq, c.t.PID())
	if err != nil {
		s.result <- submitResult{err: err}
		return
	}

	if err := c.t.Send(c.ctx, b); err != nil {
		c.logger.Warn("couldn't send request", "seq", seq, "kind", s.req.Kind, "err", err)
		s.result <- submitResult{err: &TransportError{Op: "send", Err: err}}
		return
	}

	// Registering after the send is safe: inbound traffic is only looked at
	// once we're back in the select.
	c.pending.register(&pendingRequest{
		seq:       seq,
		kind:      s.req.Kind,
		state:     stateAwaiting,
		ack:       requestFlags(s.req)&netlink.Acknowledge != 0,
		submitted: time.Now(),
		out:       s.q,
	})

	c.logger.Log(c.ctx, types.LevelTrace, "request sent", "seq", seq, "kind", s.req.Kind, "type", s.req.Type, "len", len(b))
	c.observer.Submitted(s.req.Kind)
	c.observer.Pending(c.pending.len())

	s.result <- submitResult{seq: seq}
}

func (c *Conn) abandon(cn cancellation) {
	p, ok := c.pending.lookup(cn.seq)
	if !ok || p.out != cn.q {
		return
	}

	c.logger.Debug("exchange cancelled", "seq", p.seq, "kind", p.kind, "state", p.state)
	c.complete(p, OutcomeCancelled)
}

// complete removes p from the table and closes its output.
func (c *Conn) complete(p *pendingRequest, outcome Outcome) {
	p.state = stateDone
	p.out.close()
	c.pending.remove(p.seq)

	c.observer.Completed(p.kind, outcome, time.Since(p.submitted))
	c.observer.Pending(c.pending.len())
}

func (c *Conn) fail(p *pendingRequest, err error, outcome Outcome) {
	p.out.push(reply{err: err})
	c.complete(p, outcome)
}

func (c *Conn) handleDatagram(dg transport.Datagram) {
	envs, err := parseDatagram(dg.Data, c.table)

	for _, env := range envs {
		c.route(env, dg.Group)
	}

	if err == nil {
		return
	}

	c.logger.Warn("couldn't decode inbound message", "err", err, "group", dg.Group)
	c.observer.Discarded("decode")

	var derr *DecodeError
	if errors.As(err, &derr) && derr.Resolved && dg.Group == 0 {
		if p, ok := c.pending.lookup(derr.Sequence); ok {
			c.fail(p, derr, OutcomeError)
		}
	}
}

func (c *Conn) route(env envelope, group uint32) {
	c.observer.Received(env.msg.Header.Type)

	if group != 0 {
		c.broadcast(group, env)
		return
	}

	p, ok := c.pending.lookup(env.seq())
	if !ok {
		c.logger.Debug("discarding stray message", "seq", env.seq(), "type", env.msg.Header.Type)
		c.observer.Discarded("stray")
		return
	}

	c.deliver(p, env)
}

func (c *Conn) deliver(p *pendingRequest, env envelope) {
	h := env.msg.Header

	c.logger.Log(c.ctx, types.LevelTrace, "message received", "seq", h.Sequence, "type", h.Type, "flags", h.Flags, "state", p.state)

	switch {
	case h.Type == netlink.Noop:
		return

	case h.Type == netlink.Overrun:
		c.fail(p, ErrOverrun, OutcomeOverrun)

	case env.isError():
		if env.err != nil {
			c.fail(p, env.err, OutcomeError)
			return
		}
		p.out.push(reply{msg: env.msg})
		c.complete(p, OutcomeOK)

	case env.isTerminator():
		if env.err != nil {
			c.fail(p, env.err, OutcomeError)
			return
		}
		if p.interrupted {
			c.fail(p, ErrDumpInterrupted, OutcomeInterrupted)
			return
		}
		c.complete(p, OutcomeOK)

	case env.isMultipart():
		if h.Flags&netlink.DumpInterrupted != 0 {
			p.interrupted = true
		}
		p.state = stateStreaming
		p.out.push(reply{msg: env.msg})

	default:
		p.out.push(reply{msg: env.msg})
		if p.ack {
			p.state = stateStreaming
			return
		}
		c.complete(p, OutcomeOK)
	}
}

func (c *Conn) broadcast(group uint32, env envelope) {
	delivered := false
	for _, s := range c.subs {
		if s.wants(group) {
			s.q.push(reply{msg: env.msg})
			delivered = true
		}
	}

	if !delivered {
		c.logger.Debug("discarding notification without subscribers", "group", group, "type", env.msg.Header.Type)
		c.observer.Discarded("unsubscribed")
	}
}

func (c *Conn) overrun() {
	c.logger.Warn("receive buffer overrun, failing pending exchanges", "pending", c.pending.len())

	c.pending.drain(func(p *pendingRequest) {
		p.out.push(reply{err: ErrOverrun})
		p.out.close()
		c.observer.Completed(p.kind, OutcomeOverrun, time.Since(p.submitted))
	})
	c.observer.Pending(0)

	for _, s := range c.subs {
		s.q.push(reply{err: ErrOverrun})
	}
}

// die fails everything in flight. A nil cause means an orderly Close.
func (c *Conn) die(cause error) {
	if c.dead != nil {
		return
	}

	err := ErrConnectionClosed
	outcome := OutcomeClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
		c.logger.Error("connection failed", "err", cause, "pending", c.pending.len())
	}
	c.dead = err
	c.setErr(err)

	c.pending.drain(func(p *pendingRequest) {
		p.out.push(reply{err: err})
		p.out.close()
		c.observer.Completed(p.kind, outcome, time.Since(p.submitted))
	})
	c.observer.Pending(0)

	for id, s := range c.subs {
		s.q.push(reply{err: err})
		s.q.close()
		delete(c.subs, id)
	}
	clear(c.groups)
}

func (c *Conn) addSubscription(s *Subscription) error {
	if c.dead != nil {
		return c.dead
	}

	var joined []uint32
	for _, g := range s.groups {
		if c.groups[g] == 0 {
			if err := c.t.JoinGroup(g); err != nil {
				for _, j := range joined {
					c.groups[j]--
					if c.groups[j] == 0 {
						delete(c.groups, j)
						c.t.LeaveGroup(j)
					}
				}
				return &TransportError{Op: "join", Err: err}
			}
		}
		c.groups[g]++
		joined = append(joined, g)
	}

	c.nextSubID++
	s.id = c.nextSubID
	c.subs[s.id] = s

	c.logger.Debug("subscribed", "id", s.id, "groups", s.groups)

	return nil
}

func (c *Conn) dropSubscription(id uint64) {
	s, ok := c.subs[id]
	if !ok {
		return
	}
	delete(c.subs, id)

	for _, g := range s.groups {
		c.groups[g]--
		if c.groups[g] > 0 {
			continue
		}
		delete(c.groups, g)
		if err := c.t.LeaveGroup(g); err != nil {
			c.logger.Warn("couldn't leave multicast group", "group", g, "err", err)
		}
	}

	c.logger.Debug("unsubscribed", "id", id)
}

func (c *Conn) stats() Stats {
	groups := make([]uint32, 0, len(c.groups))
	for g := range c.groups {
		groups = append(groups, g)
	}
	slices.Sort(groups)

	return Stats{
		Pending:       c.pending.len(),
		Subscriptions: len(c.subs),
		Groups:        groups,
		NextSequence:  c.seq.peek(),
		Closed:        c.dead != nil,
	}
}
