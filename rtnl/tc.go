package rtnl

import (
	"context"
	"errors"
	"iter"

	"github.com/florianl/go-tc"
	"github.com/florianl/go-tc/core"
	"github.com/josharian/native"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

const (
	// sizeof(struct tcmsg)
	tcMsgLen = 20

	// TCA_KIND and TCA_OPTIONS from include/uapi/linux/rtnetlink.h
	tcaKind    = 1
	tcaOptions = 2

	// From include/uapi/linux/pkt_cls.h
	tcaBpfFD            = 6
	tcaBpfName          = 7
	tcaBpfFlags         = 8
	tcaBpfFlagActDirect = 1 << 0
)

var errShortTcMsg = errors.New("tc message shorter than struct tcmsg")

var (
	// IngressParent and EgressParent are the parents filters hang from on a
	// clsact qdisc.
	IngressParent = core.BuildHandle(tc.HandleRoot, tc.HandleMinIngress)
	EgressParent  = core.BuildHandle(tc.HandleRoot, tc.HandleMinEgress)
)

// TrafficControl is a decoded qdisc or filter. Only the struct tcmsg header
// and the kind are decoded: options are kind specific.
type TrafficControl struct {
	Family  uint8
	Ifindex uint32
	Handle  uint32
	Parent  uint32
	Info    uint32
	Kind    string
}

func (t *TrafficControl) UnmarshalBinary(b []byte) error {
	if len(b) < tcMsgLen {
		return errShortTcMsg
	}

	t.Family = b[0]
	t.Ifindex = native.Endian.Uint32(b[4:8])
	t.Handle = native.Endian.Uint32(b[8:12])
	t.Parent = native.Endian.Uint32(b[12:16])
	t.Info = native.Endian.Uint32(b[16:20])

	if len(b) == tcMsgLen {
		return nil
	}

	ad, err := netlink.NewAttributeDecoder(b[tcMsgLen:])
	if err != nil {
		return err
	}
	for ad.Next() {
		if ad.Type() == tcaKind {
			t.Kind = ad.String()
		}
	}

	return ad.Err()
}

// tcBody encodes a struct tcmsg plus optional TCA_KIND and TCA_OPTIONS
// attributes. options is already encoded.
type tcBody struct {
	msg     tc.Msg
	kind    string
	options []byte
}

func (b tcBody) MarshalBinary() ([]byte, error) {
	buf := make([]byte, tcMsgLen)
	buf[0] = uint8(b.msg.Family)
	native.Endian.PutUint32(buf[4:8], uint32(b.msg.Ifindex))
	native.Endian.PutUint32(buf[8:12], uint32(b.msg.Handle))
	native.Endian.PutUint32(buf[12:16], uint32(b.msg.Parent))
	native.Endian.PutUint32(buf[16:20], uint32(b.msg.Info))

	if b.kind == "" {
		return buf, nil
	}

	ae := netlink.NewAttributeEncoder()
	ae.String(tcaKind, b.kind)
	if len(b.options) > 0 {
		ae.Bytes(tcaOptions, b.options)
	}
	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}

	return append(buf, attrs...), nil
}

// clsact returns the description of the clsact qdisc of an interface. The
// handle is TC_H_MAKE(TC_H_CLSACT, 0), i.e. 0xFFFF0000, and the parent is
// TC_H_CLSACT which the kernel defines as TC_H_INGRESS.
func clsact(index uint32) tcBody {
	return tcBody{
		msg: tc.Msg{
			Family:  unix.AF_UNSPEC,
			Ifindex: index,
			Handle:  core.BuildHandle(tc.HandleRoot, 0x0000),
			Parent:  tc.HandleIngress,
			Info:    0,
		},
		kind: "clsact",
	}
}

type QdiscService struct {
	h nl.Handle
}

func (s *QdiscService) List(ctx context.Context) iter.Seq2[TrafficControl, error] {
	return dump[TrafficControl](ctx, s.h, nl.Request{
		Kind:      nl.KindQdisc,
		Type:      unix.RTM_GETQDISC,
		Flags:     netlink.Dump,
		Body:      tcBody{msg: tc.Msg{Family: unix.AF_UNSPEC}},
		Multipart: true,
	}, unix.RTM_NEWQDISC)
}

// AddClsact attaches a clsact qdisc to the interface so that filters can be
// hooked on both its ingress and egress paths.
func (s *QdiscService) AddClsact(ctx context.Context, index uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindQdisc,
		Type:  unix.RTM_NEWQDISC,
		Flags: netlink.Create | netlink.Excl,
		Body:  clsact(index),
	})
}

func (s *QdiscService) DeleteClsact(ctx context.Context, index uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindQdisc,
		Type: unix.RTM_DELQDISC,
		Body: clsact(index),
	})
}

type FilterService struct {
	h nl.Handle
}

// List dumps the filters attached to parent on an interface. Use
// IngressParent or EgressParent for clsact hooks.
func (s *FilterService) List(ctx context.Context, index, parent uint32) iter.Seq2[TrafficControl, error] {
	return dump[TrafficControl](ctx, s.h, nl.Request{
		Kind:  nl.KindFilter,
		Type:  unix.RTM_GETTFILTER,
		Flags: netlink.Dump,
		Body: tcBody{msg: tc.Msg{
			Family:  unix.AF_UNSPEC,
			Ifindex: index,
			Parent:  parent,
		}},
		Multipart: true,
	}, unix.RTM_NEWTFILTER)
}

// BPFFilter attaches an already loaded BPF program to a clsact hook in
// direct-action mode, the same request tc-bpf(8) sends for
// `tc filter add dev X ingress bpf da fd N`.
type BPFFilter struct {
	Ifindex uint32

	// Parent is IngressParent or EgressParent.
	Parent uint32

	// Priority and Handle default to 1.
	Priority uint16
	Handle   uint32

	FD   uint32
	Name string
}

func (f BPFFilter) body() (tcBody, error) {
	prio, handle := f.Priority, f.Handle
	if prio == 0 {
		prio = 1
	}
	if handle == 0 {
		handle = 1
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(tcaBpfFD, f.FD)
	if f.Name != "" {
		ae.String(tcaBpfName, f.Name)
	}
	ae.Uint32(tcaBpfFlags, tcaBpfFlagActDirect)
	options, err := ae.Encode()
	if err != nil {
		return tcBody{}, err
	}

	return tcBody{
		msg: tc.Msg{
			Family:  unix.AF_UNSPEC,
			Ifindex: f.Ifindex,
			Handle:  handle,
			Parent:  f.Parent,
			Info:    filterInfo(prio, unix.ETH_P_ALL),
		},
		kind:    "bpf",
		options: options,
	}, nil
}

// filterInfo packs a priority and a protocol into tcm_info. The protocol
// goes in network byte order.
func filterInfo(prio, proto uint16) uint32 {
	return core.BuildHandle(uint32(prio), uint32(native.Endian.Uint16([]byte{byte(proto >> 8), byte(proto)})))
}

// AddBPF attaches f. It fails with EEXIST if a filter with the same priority
// and handle is already there.
func (s *FilterService) AddBPF(ctx context.Context, f BPFFilter) error {
	body, err := f.body()
	if err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindFilter,
		Type:  unix.RTM_NEWTFILTER,
		Flags: netlink.Create | netlink.Excl,
		Body:  body,
	})
}

// Delete removes the filters with the given priority from parent. A
// priority of 0 flushes every filter hanging from parent.
func (s *FilterService) Delete(ctx context.Context, index, parent uint32, prio uint16) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindFilter,
		Type: unix.RTM_DELTFILTER,
		Body: tcBody{msg: tc.Msg{
			Family:  unix.AF_UNSPEC,
			Ifindex: index,
			Parent:  parent,
			Info:    core.BuildHandle(uint32(prio), 0),
		}},
	})
}
