package api

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/florianl/go-tc"
	"github.com/jsimonetti/rtnetlink"
	"github.com/labstack/echo/v4"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/rtnl"
)

const (
	JSON_PRETTY_INDENT string = "    "
)

type rootResponse struct {
	ApiRoutes []*echo.Route `json:"routes"`
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
	Code  int32  `json:"code,omitempty"`
}

// The views below flatten rtnetlink messages into what's worth showing. The
// structs tags let the CLI print them as key/value pairs.

type Link struct {
	Index     uint32 `json:"index" structs:"index"`
	Name      string `json:"name" structs:"name"`
	MTU       uint32 `json:"mtu" structs:"mtu"`
	Address   string `json:"address,omitempty" structs:"address,omitempty"`
	Up        bool   `json:"up" structs:"up"`
	OperState string `json:"operState" structs:"operState"`
	Qdisc     string `json:"qdisc,omitempty" structs:"qdisc,omitempty"`
}

type Address struct {
	Index  uint32 `json:"index" structs:"index"`
	Family string `json:"family" structs:"family"`
	Prefix string `json:"prefix" structs:"prefix"`
	Label  string `json:"label,omitempty" structs:"label,omitempty"`
}

type Route struct {
	Family   string `json:"family" structs:"family"`
	Dst      string `json:"dst" structs:"dst"`
	Gateway  string `json:"gateway,omitempty" structs:"gateway,omitempty"`
	Src      string `json:"src,omitempty" structs:"src,omitempty"`
	OutIface uint32 `json:"outIface,omitempty" structs:"outIface,omitempty"`
	Table    uint32 `json:"table" structs:"table"`
	Priority uint32 `json:"priority,omitempty" structs:"priority,omitempty"`
	Protocol uint8  `json:"protocol" structs:"protocol"`
	Scope    uint8  `json:"scope" structs:"scope"`
}

type Neighbour struct {
	Index     uint32 `json:"index" structs:"index"`
	Address   string `json:"address" structs:"address"`
	LLAddress string `json:"lladdress,omitempty" structs:"lladdress,omitempty"`
	State     uint16 `json:"state" structs:"state"`
}

type Rule struct {
	Family   string  `json:"family" structs:"family"`
	Priority *uint32 `json:"priority,omitempty" structs:"priority,omitempty"`
	Table    uint32  `json:"table" structs:"table"`
	Action   uint8   `json:"action" structs:"action"`
	Src      string  `json:"src,omitempty" structs:"src,omitempty"`
	Dst      string  `json:"dst,omitempty" structs:"dst,omitempty"`
}

type TrafficControl struct {
	Index  uint32 `json:"index" structs:"index"`
	Kind   string `json:"kind" structs:"kind"`
	Handle string `json:"handle" structs:"handle"`
	Parent string `json:"parent" structs:"parent"`
}

type Nexthop struct {
	ID        uint32 `json:"id" structs:"id"`
	Family    string `json:"family" structs:"family"`
	Protocol  uint8  `json:"protocol" structs:"protocol"`
	Gateway   string `json:"gateway,omitempty" structs:"gateway,omitempty"`
	OutIface  uint32 `json:"outIface,omitempty" structs:"outIface,omitempty"`
	Blackhole bool   `json:"blackhole,omitempty" structs:"blackhole,omitempty"`
	Group     string `json:"group,omitempty" structs:"group,omitempty"`
}

var operStates = map[rtnetlink.OperationalState]string{
	rtnetlink.OperStateUnknown:        "unknown",
	rtnetlink.OperStateNotPresent:     "not-present",
	rtnetlink.OperStateDown:           "down",
	rtnetlink.OperStateLowerLayerDown: "lower-layer-down",
	rtnetlink.OperStateTesting:        "testing",
	rtnetlink.OperStateDormant:        "dormant",
	rtnetlink.OperStateUp:             "up",
}

func familyName(f uint8) string {
	switch f {
	case unix.AF_INET:
		return "inet"
	case unix.AF_INET6:
		return "inet6"
	case unix.AF_BRIDGE:
		return "bridge"
	default:
		return "unspec"
	}
}

// prefixString renders ip/bits, falling back to default for an empty ip.
func prefixString(ip net.IP, bits uint8, def string) string {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return def
	}
	return netip.PrefixFrom(addr.Unmap(), int(bits)).String()
}

func ipString(ip net.IP) string {
	if len(ip) == 0 {
		return ""
	}
	return ip.String()
}

func NewLink(m rtnetlink.LinkMessage) Link {
	l := Link{
		Index: m.Index,
		Up:    m.Flags&unix.IFF_UP != 0,
	}
	if a := m.Attributes; a != nil {
		l.Name = a.Name
		l.MTU = a.MTU
		l.Qdisc = a.QueueDisc
		l.OperState = operStates[a.OperationalState]
		if len(a.Address) != 0 {
			l.Address = a.Address.String()
		}
	}
	return l
}

func NewAddress(m rtnetlink.AddressMessage) Address {
	a := Address{
		Index:  m.Index,
		Family: familyName(m.Family),
	}
	if attrs := m.Attributes; attrs != nil {
		// IFA_LOCAL is the interface's own address on point to point links.
		ip := attrs.Local
		if len(ip) == 0 {
			ip = attrs.Address
		}
		a.Prefix = prefixString(ip, m.PrefixLength, "")
		a.Label = attrs.Label
	}
	return a
}

func NewRoute(m rtnetlink.RouteMessage) Route {
	table := uint32(m.Table)
	if m.Attributes.Table != 0 {
		table = m.Attributes.Table
	}

	return Route{
		Family:   familyName(m.Family),
		Dst:      prefixString(m.Attributes.Dst, m.DstLength, "default"),
		Gateway:  ipString(m.Attributes.Gateway),
		Src:      ipString(m.Attributes.Src),
		OutIface: m.Attributes.OutIface,
		Table:    table,
		Priority: m.Attributes.Priority,
		Protocol: m.Protocol,
		Scope:    m.Scope,
	}
}

func NewNeighbour(m rtnetlink.NeighMessage) Neighbour {
	n := Neighbour{
		Index: m.Index,
		State: m.State,
	}
	if a := m.Attributes; a != nil {
		n.Address = ipString(a.Address)
		if len(a.LLAddress) != 0 {
			n.LLAddress = a.LLAddress.String()
		}
	}
	return n
}

func NewRule(m rtnetlink.RuleMessage) Rule {
	r := Rule{
		Family: familyName(m.Family),
		Table:  uint32(m.Table),
		Action: m.Action,
	}
	if a := m.Attributes; a != nil {
		r.Priority = a.Priority
		if a.Table != nil {
			r.Table = *a.Table
		}
		if a.Src != nil {
			r.Src = prefixString(*a.Src, m.SrcLength, "")
		}
		if a.Dst != nil {
			r.Dst = prefixString(*a.Dst, m.DstLength, "")
		}
	}
	return r
}

func NewTrafficControl(t rtnl.TrafficControl) TrafficControl {
	return TrafficControl{
		Index:  t.Ifindex,
		Kind:   t.Kind,
		Handle: tcHandle(t.Handle),
		Parent: tcHandle(t.Parent),
	}
}

// tcHandle formats a handle the way tc(8) does, i.e. major:minor in hex.
func tcHandle(h uint32) string {
	if h == tc.HandleRoot {
		return "root"
	}
	return fmt.Sprintf("%x:%x", h>>16, h&0xFFFF)
}

// NewNexthop prints groups the way ip-nexthop(8) does, i.e. id[,weight]
// separated by slashes, with the actual weight.
func NewNexthop(n rtnl.Nexthop) Nexthop {
	v := Nexthop{
		ID:        n.ID,
		Family:    familyName(n.Family),
		Protocol:  n.Protocol,
		OutIface:  n.OutIface,
		Blackhole: n.Blackhole,
	}
	if n.Gateway.IsValid() {
		v.Gateway = n.Gateway.String()
	}

	members := make([]string, 0, len(n.Group))
	for _, m := range n.Group {
		if m.Weight == 0 {
			members = append(members, strconv.FormatUint(uint64(m.ID), 10))
			continue
		}
		members = append(members, fmt.Sprintf("%d,%d", m.ID, int(m.Weight)+1))
	}
	v.Group = strings.Join(members, "/")

	return v
}

var ErrUnknownType = errors.New("no view for message type")

type unmarshaler[T any] interface {
	*T
	UnmarshalBinary([]byte) error
}

func decodeView[T, V any, P unmarshaler[T]](b []byte, view func(T) V) (any, error) {
	var m T
	if err := P(&m).UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return view(m), nil
}

// View decodes an rtnetlink message, e.g. a multicast notification, into
// the matching view.
func View(m netlink.Message) (any, error) {
	switch m.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		return decodeView[rtnetlink.LinkMessage](m.Data, NewLink)
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		return decodeView[rtnetlink.AddressMessage](m.Data, NewAddress)
	case unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
		return decodeView[rtnetlink.RouteMessage](m.Data, NewRoute)
	case unix.RTM_NEWNEIGH, unix.RTM_DELNEIGH:
		return decodeView[rtnetlink.NeighMessage](m.Data, NewNeighbour)
	case unix.RTM_NEWRULE, unix.RTM_DELRULE:
		return decodeView[rtnetlink.RuleMessage](m.Data, NewRule)
	case unix.RTM_NEWQDISC, unix.RTM_DELQDISC, unix.RTM_NEWTFILTER, unix.RTM_DELTFILTER:
		return decodeView[rtnl.TrafficControl](m.Data, NewTrafficControl)
	case unix.RTM_NEWNEXTHOP, unix.RTM_DELNEXTHOP:
		return decodeView[rtnl.Nexthop](m.Data, NewNexthop)
	default:
		return nil, fmt.Errorf("%w %d", ErrUnknownType, m.Header.Type)
	}
}
