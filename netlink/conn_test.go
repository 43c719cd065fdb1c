package netlink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/internal/nltest"
)

func init() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelError,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time.
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Remove the directory from the source's filename.
			if a.Key == slog.SourceKey {
				source := a.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

type countingObserver struct {
	mu        sync.Mutex
	submitted int
	outcomes  map[Outcome]int
	discarded map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{outcomes: map[Outcome]int{}, discarded: map[string]int{}}
}

func (o *countingObserver) Submitted(Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitted++
}

func (o *countingObserver) Completed(_ Kind, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) Received(netlink.HeaderType) {}

func (o *countingObserver) Discarded(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded[reason]++
}

func (o *countingObserver) Pending(int) {}

func (o *countingObserver) discards(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discarded[reason]
}

func (o *countingObserver) outcome(out Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[out]
}

func newTestConn(t *testing.T, conf *Config) (*Conn, *nltest.Transport) {
	t.Helper()

	ft := nltest.New()
	c := New(ft, conf)
	t.Cleanup(func() { c.Close() })

	return c, ft
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustRequest(t *testing.T, ft *nltest.Transport) netlink.Message {
	t.Helper()

	req, err := ft.Request(2 * time.Second)
	if err != nil {
		t.Fatalf("no request reached the transport: %v", err)
	}

	return req
}

func dumpLinks() Request {
	return Request{Kind: KindLink, Type: unix.RTM_GETLINK, Flags: netlink.Dump, Multipart: true}
}

func setLink() Request {
	return Request{Kind: KindLink, Type: unix.RTM_SETLINK, Body: RawBody(make([]byte, 16))}
}

func TestConcurrentExchangesGetTheirOwnReplies(t *testing.T) {
	ft := nltest.NewFunc(func(req netlink.Message) []netlink.Message {
		return []netlink.Message{
			nltest.Reply(req, unix.RTM_NEWLINK, 0, req.Data),
			nltest.Ack(req),
		}
	})
	c := New(ft, nil)
	defer c.Close()

	ctx := testContext(t)
	h := c.Handle()

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			body := nlenc.Uint32Bytes(uint32(i))
			msgs, err := h.Execute(ctx, Request{Kind: KindLink, Type: unix.RTM_GETLINK, Body: RawBody(body)})
			if err != nil {
				errs <- err
				return
			}
			if len(msgs) != 2 {
				errs <- errors.New("expected a reply and an acknowledgement")
				return
			}
			if !bytes.Equal(msgs[0].Data, body) {
				errs <- errors.New("got somebody else's reply")
				return
			}
			if msgs[1].Header.Type != netlink.Error {
				errs <- errors.New("the last item should be the acknowledgement")
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if st.Pending != 0 {
		t.Errorf("%d exchanges left pending", st.Pending)
	}
}

func TestCancelMidStream(t *testing.T) {
	obs := newCountingObserver()
	conf := DefaultConfig
	conf.Observer = obs

	c, ft := newTestConn(t, &conf)
	ctx := testContext(t)
	h := c.Handle()

	a, err := h.Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending A: %v", err)
	}
	reqA := mustRequest(t, ft)

	b, err := h.Send(ctx, Request{Kind: KindRoute, Type: unix.RTM_GETROUTE, Flags: netlink.Dump, Multipart: true})
	if err != nil {
		t.Fatalf("error sending B: %v", err)
	}
	reqB := mustRequest(t, ft)

	if a.Sequence() == b.Sequence() {
		t.Fatalf("both exchanges got sequence %d", a.Sequence())
	}

	ft.Deliver(0, nltest.Fragment(reqA, unix.RTM_NEWLINK, []byte{1, 0, 0, 0}))

	m, err := a.Next(ctx)
	if err != nil {
		t.Fatalf("error reading the first fragment: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 0, 0, 0}, m.Data); diff != "" {
		t.Errorf("first fragment mismatch (-want +got):\n%s", diff)
	}

	a.Close()

	ft.Deliver(0, nltest.Fragment(reqA, unix.RTM_NEWLINK, []byte{2, 0, 0, 0}), nltest.Done(reqA))
	ft.Deliver(0, nltest.Fragment(reqB, unix.RTM_NEWROUTE, []byte{3, 0, 0, 0}), nltest.Done(reqB))

	msgs, err := b.Collect(ctx)
	if err != nil {
		t.Fatalf("error collecting B: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Data, []byte{3, 0, 0, 0}) {
		t.Errorf("unexpected messages for B: %v", msgs)
	}

	if _, err := a.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF on a cancelled response, got %v", err)
	}

	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if st.Pending != 0 {
		t.Errorf("expected no pending exchanges, got %d", st.Pending)
	}

	if got := obs.discards("stray"); got != 2 {
		t.Errorf("expected 2 stray messages, got %d", got)
	}
	if got := obs.outcome(OutcomeCancelled); got != 1 {
		t.Errorf("expected 1 cancelled exchange, got %d", got)
	}
}

func TestKernelErrorIsTerminal(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, setLink())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	ft.Deliver(0, nltest.Error(req, unix.EEXIST))

	_, err = resp.Next(ctx)
	if !errors.Is(err, unix.EEXIST) {
		t.Fatalf("expected EEXIST, got %v", err)
	}
	if !IsExist(err) {
		t.Errorf("IsExist should hold for %v", err)
	}

	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("expected an *Error, got %T", err)
	}
	if nerr.Code != int32(unix.EEXIST) {
		t.Errorf("expected code %d, got %d", unix.EEXIST, nerr.Code)
	}
	if nerr.Request.Sequence != req.Header.Sequence {
		t.Errorf("echoed sequence %d, want %d", nerr.Request.Sequence, req.Header.Sequence)
	}

	if _, err := resp.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after the error, got %v", err)
	}
}

func TestExtendedAck(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	go func() {
		req, err := ft.Request(2 * time.Second)
		if err != nil {
			return
		}
		ft.Deliver(0, nltest.ExtError(req, unix.EINVAL, "Invalid prefix for given prefix length", 24))
	}()

	err := c.Handle().Acknowledge(ctx, setLink())

	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("expected an *Error, got %v", err)
	}

	want := &Error{
		Code:    int32(unix.EINVAL),
		Name:    "EINVAL",
		Class:   ClassInvalid,
		Message: "Invalid prefix for given prefix length",
		Offset:  24,
	}
	if diff := cmp.Diff(want, nerr, cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Request"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportFailure(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	a, err := h.Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending A: %v", err)
	}
	b, err := h.Send(ctx, setLink())
	if err != nil {
		t.Fatalf("error sending B: %v", err)
	}
	sub, err := h.Subscribe(ctx, GroupLink)
	if err != nil {
		t.Fatalf("error subscribing: %v", err)
	}

	boom := errors.New("boom")
	ft.Fail(boom)

	for name, r := range map[string]*Response{"A": a, "B": b} {
		_, err := r.Next(ctx)
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("%s: expected ErrConnectionClosed, got %v", name, err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("%s: expected the cause to be wrapped, got %v", name, err)
		}
	}

	if _, err := sub.Next(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("subscription: expected ErrConnectionClosed, got %v", err)
	}

	if _, err := h.Send(ctx, setLink()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected new submissions to be rejected, got %v", err)
	}

	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if !st.Closed || st.Pending != 0 || st.Subscriptions != 0 {
		t.Errorf("unexpected stats after failure: %+v", st)
	}
}

func TestSequenceWraparound(t *testing.T) {
	conf := DefaultConfig
	conf.InitialSequence = math.MaxUint32 - 1

	c, ft := newTestConn(t, &conf)
	ctx := testContext(t)
	h := c.Handle()

	var seqs []uint32
	for range 3 {
		resp, err := h.Send(ctx, dumpLinks())
		if err != nil {
			t.Fatalf("error sending: %v", err)
		}
		req := mustRequest(t, ft)
		if req.Header.Sequence != resp.Sequence() {
			t.Errorf("wire sequence %d differs from the response's %d", req.Header.Sequence, resp.Sequence())
		}
		seqs = append(seqs, resp.Sequence())
	}

	if diff := cmp.Diff([]uint32{math.MaxUint32 - 1, math.MaxUint32, 1}, seqs); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestAcknowledgement(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, setLink())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	if req.Header.Flags&(netlink.Request|netlink.Acknowledge) != netlink.Request|netlink.Acknowledge {
		t.Errorf("single shot requests should ask for an ack, got flags %s", req.Header.Flags)
	}

	ft.Deliver(0, nltest.Ack(req))

	msgs, err := resp.Collect(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Header.Type != netlink.Error {
		t.Errorf("expected exactly the ack, got %v", msgs)
	}
}

func TestDump(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	if req.Header.Flags&netlink.Acknowledge != 0 {
		t.Errorf("dumps shouldn't ask for an ack, got flags %s", req.Header.Flags)
	}

	// Fragments split across datagrams, the terminator riding along with
	// the last one.
	ft.Deliver(0, nltest.Fragment(req, unix.RTM_NEWLINK, []byte{1, 0, 0, 0}))
	ft.Deliver(0,
		nltest.Fragment(req, unix.RTM_NEWLINK, []byte{2, 0, 0, 0}),
		nltest.Fragment(req, unix.RTM_NEWLINK, []byte{3, 0, 0, 0}),
		nltest.Done(req),
	)

	var got [][]byte
	for m, err := range resp.All(ctx) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, m.Data)
	}

	want := [][]byte{{1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fragment mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpInterrupted(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	intr := nltest.Fragment(req, unix.RTM_NEWLINK, []byte{2, 0, 0, 0})
	intr.Header.Flags |= netlink.DumpInterrupted

	ft.Deliver(0, nltest.Fragment(req, unix.RTM_NEWLINK, []byte{1, 0, 0, 0}), intr, nltest.Done(req))

	msgs, err := resp.Collect(ctx)
	if !errors.Is(err, ErrDumpInterrupted) {
		t.Errorf("expected ErrDumpInterrupted, got %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected both fragments before the error, got %d", len(msgs))
	}
}

func TestDumpError(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	ft.Deliver(0, nltest.Fragment(req, unix.RTM_NEWLINK, []byte{1, 0, 0, 0}), nltest.DoneError(req, unix.EBUSY))

	msgs, err := resp.Collect(ctx)
	if !errors.Is(err, unix.EBUSY) {
		t.Errorf("expected EBUSY, got %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected the fragment before the error, got %d messages", len(msgs))
	}
}

func TestReplyWithoutAck(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, Request{Kind: KindRoute, Type: unix.RTM_GETROUTE, Multipart: true})
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	ft.Deliver(0, nltest.Reply(req, netlink.Noop, 0, nil), nltest.Reply(req, unix.RTM_NEWROUTE, 0, []byte{7, 0, 0, 0}))

	msgs, err := resp.Collect(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Header.Type != unix.RTM_NEWROUTE {
		t.Errorf("expected a single route, got %v", msgs)
	}
}

func TestMulticastRouting(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	sub, err := h.Subscribe(ctx, GroupLink, GroupIPv4Route, GroupLink)
	if err != nil {
		t.Fatalf("error subscribing: %v", err)
	}
	if !ft.Joined(GroupLink) || !ft.Joined(GroupIPv4Route) {
		t.Fatalf("groups weren't joined")
	}
	if diff := cmp.Diff([]uint32{GroupLink, GroupIPv4Route}, sub.Groups()); diff != "" {
		t.Errorf("group mismatch (-want +got):\n%s", diff)
	}

	resp, err := h.Send(ctx, setLink())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	// The notification carries our sequence number but arrives on a group.
	note := nltest.Reply(req, unix.RTM_NEWLINK, 0, []byte{9, 0, 0, 0})
	ft.Deliver(GroupLink, note)
	ft.Deliver(GroupNeigh, nltest.Reply(req, unix.RTM_NEWNEIGH, 0, nil))
	ft.Deliver(0, nltest.Ack(req))

	if _, err := resp.Collect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("error reading the notification: %v", err)
	}
	if m.Header.Type != unix.RTM_NEWLINK {
		t.Errorf("unexpected notification type %d", m.Header.Type)
	}

	sub.Close()
	if ft.Joined(GroupLink) {
		t.Errorf("group should have been left after the last subscriber went away")
	}
	if _, err := sub.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
}

func TestOverrun(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	sub, err := h.Subscribe(ctx, GroupLink)
	if err != nil {
		t.Fatalf("error subscribing: %v", err)
	}
	resp, err := h.Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	mustRequest(t, ft)

	ft.Fail(unix.ENOBUFS)

	if _, err := resp.Next(ctx); !errors.Is(err, ErrOverrun) {
		t.Errorf("expected ErrOverrun, got %v", err)
	}
	if _, err := sub.Next(ctx); !errors.Is(err, ErrOverrun) {
		t.Errorf("expected ErrOverrun on the subscription, got %v", err)
	}

	// The connection survives an overrun.
	ft.Deliver(GroupLink, netlink.Message{Header: netlink.Header{Type: unix.RTM_DELLINK}})
	m, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("subscription should survive an overrun: %v", err)
	}
	if m.Header.Type != unix.RTM_DELLINK {
		t.Errorf("unexpected notification type %d", m.Header.Type)
	}

	if err := c.Err(); err != nil {
		t.Errorf("connection shouldn't be dead: %v", err)
	}
}

func TestEncodeError(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	_, err := c.Handle().Send(ctx, Request{Kind: KindRoute, Type: netlink.Done})

	var eerr *EncodeError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected an *EncodeError, got %v", err)
	}
	if eerr.Kind != KindRoute {
		t.Errorf("unexpected kind %s", eerr.Kind)
	}

	if n := len(ft.Sent()); n != 0 {
		t.Errorf("%d requests reached the transport", n)
	}
}

func TestSendError(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	ft.SetSendError(unix.EPERM)

	_, err := h.Send(ctx, setLink())

	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "send" {
		t.Fatalf("expected a send *TransportError, got %v", err)
	}

	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if st.Pending != 0 || st.Closed {
		t.Errorf("unexpected stats after a send failure: %+v", st)
	}
}

func TestDecodeErrorFailsTheExchange(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)

	resp, err := c.Handle().Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	// The header claims more bytes than the datagram holds.
	b := make([]byte, 20)
	nlenc.PutUint32(b[0:4], 64)
	nlenc.PutUint16(b[4:6], unix.RTM_NEWLINK)
	nlenc.PutUint32(b[8:12], req.Header.Sequence)
	ft.DeliverRaw(0, b)

	_, err = resp.Next(ctx)

	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected a *DecodeError, got %v", err)
	}
	if derr.Sequence != req.Header.Sequence {
		t.Errorf("unexpected sequence %d", derr.Sequence)
	}
}

func TestBreakingOutCancels(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	resp, err := h.Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	ft.Deliver(0, nltest.Fragment(req, unix.RTM_NEWLINK, []byte{1, 0, 0, 0}))

	for _, err := range resp.All(ctx) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}

	st, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if st.Pending != 0 {
		t.Errorf("breaking out of the loop should cancel the exchange, %d pending", st.Pending)
	}
}

func TestContextDoesNotCancel(t *testing.T) {
	c, ft := newTestConn(t, nil)
	h := c.Handle()

	resp, err := h.Send(testContext(t), setLink())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	req := mustRequest(t, ft)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := resp.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}

	ft.Deliver(0, nltest.Ack(req))
	if _, err := resp.Next(testContext(t)); err != nil {
		t.Errorf("the exchange should still be alive: %v", err)
	}
}

func TestContextEndsRange(t *testing.T) {
	c, ft := newTestConn(t, nil)
	h := c.Handle()

	resp, err := h.Send(testContext(t), setLink())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	mustRequest(t, ft)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var last error
	for _, err := range resp.All(ctx) {
		last = err
	}
	if !errors.Is(last, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline error as the last element, got %v", last)
	}

	st, err := h.Stats(testContext(t))
	if err != nil {
		t.Fatalf("error getting stats: %v", err)
	}
	if st.Pending != 0 {
		t.Errorf("a context error inside All should abandon the exchange, %d pending", st.Pending)
	}
}

func TestClose(t *testing.T) {
	c, ft := newTestConn(t, nil)
	ctx := testContext(t)
	h := c.Handle()

	resp, err := h.Send(ctx, dumpLinks())
	if err != nil {
		t.Fatalf("error sending: %v", err)
	}
	mustRequest(t, ft)

	if err := c.Close(); err != nil {
		t.Fatalf("error closing: %v", err)
	}

	if _, err := resp.Next(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if _, err := h.Send(ctx, dumpLinks()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if _, err := h.Subscribe(ctx, GroupLink); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}

	st, err := h.Stats(ctx)
	if err != nil || !st.Closed {
		t.Errorf("expected closed stats, got %+v (%v)", st, err)
	}
}
