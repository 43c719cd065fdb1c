package netlink

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind tags each request with the family of resources it deals with. It's
// only used for logging and metrics: the driver treats all kinds alike.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindLink
	KindAddress
	KindRoute
	KindNeighbour
	KindRule
	KindQdisc
	KindFilter
	KindNexthop
)

var kindName = map[Kind]string{
	KindGeneric:   "generic",
	KindLink:      "link",
	KindAddress:   "address",
	KindRoute:     "route",
	KindNeighbour: "neighbour",
	KindRule:      "rule",
	KindQdisc:     "qdisc",
	KindFilter:    "filter",
	KindNexthop:   "nexthop",
}

func (k Kind) String() string {
	if n, ok := kindName[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Multicast groups of NETLINK_ROUTE. Anything above 32 can only be joined
// through NETLINK_ADD_MEMBERSHIP, which is what the transport always does.
const (
	GroupLink        uint32 = unix.RTNLGRP_LINK
	GroupNotify      uint32 = unix.RTNLGRP_NOTIFY
	GroupNeigh       uint32 = unix.RTNLGRP_NEIGH
	GroupTC          uint32 = unix.RTNLGRP_TC
	GroupIPv4IfAddr  uint32 = unix.RTNLGRP_IPV4_IFADDR
	GroupIPv4MRoute  uint32 = unix.RTNLGRP_IPV4_MROUTE
	GroupIPv4Route   uint32 = unix.RTNLGRP_IPV4_ROUTE
	GroupIPv4Rule    uint32 = unix.RTNLGRP_IPV4_RULE
	GroupIPv6IfAddr  uint32 = unix.RTNLGRP_IPV6_IFADDR
	GroupIPv6MRoute  uint32 = unix.RTNLGRP_IPV6_MROUTE
	GroupIPv6Route   uint32 = unix.RTNLGRP_IPV6_ROUTE
	GroupIPv6IfInfo  uint32 = unix.RTNLGRP_IPV6_IFINFO
	GroupIPv6Prefix  uint32 = unix.RTNLGRP_IPV6_PREFIX
	GroupIPv6Rule    uint32 = unix.RTNLGRP_IPV6_RULE
	GroupNDUserOpt   uint32 = unix.RTNLGRP_ND_USEROPT
	GroupDCB         uint32 = unix.RTNLGRP_DCB
	GroupIPv4NetConf uint32 = unix.RTNLGRP_IPV4_NETCONF
	GroupIPv6NetConf uint32 = unix.RTNLGRP_IPV6_NETCONF
	GroupMDB         uint32 = unix.RTNLGRP_MDB
	GroupMPLSRoute   uint32 = unix.RTNLGRP_MPLS_ROUTE
	GroupNSID        uint32 = unix.RTNLGRP_NSID
	GroupMPLSNetConf uint32 = unix.RTNLGRP_MPLS_NETCONF
	GroupNextHop     uint32 = unix.RTNLGRP_NEXTHOP
	GroupBridgeVLAN  uint32 = unix.RTNLGRP_BRVLAN
	GroupMCTPIfAddr  uint32 = 34
	GroupTunnel      uint32 = 35
	GroupStats       uint32 = 36
	GroupIPv4MCAddr  uint32 = 37
	GroupIPv6MCAddr  uint32 = 38
	GroupIPv6ACAddr  uint32 = 39
)

var groupByName = map[string]uint32{
	"link":         GroupLink,
	"notify":       GroupNotify,
	"neigh":        GroupNeigh,
	"tc":           GroupTC,
	"ipv4-ifaddr":  GroupIPv4IfAddr,
	"ipv4-mroute":  GroupIPv4MRoute,
	"ipv4-route":   GroupIPv4Route,
	"ipv4-rule":    GroupIPv4Rule,
	"ipv6-ifaddr":  GroupIPv6IfAddr,
	"ipv6-mroute":  GroupIPv6MRoute,
	"ipv6-route":   GroupIPv6Route,
	"ipv6-ifinfo":  GroupIPv6IfInfo,
	"ipv6-prefix":  GroupIPv6Prefix,
	"ipv6-rule":    GroupIPv6Rule,
	"nd-useropt":   GroupNDUserOpt,
	"dcb":          GroupDCB,
	"ipv4-netconf": GroupIPv4NetConf,
	"ipv6-netconf": GroupIPv6NetConf,
	"mdb":          GroupMDB,
	"mpls-route":   GroupMPLSRoute,
	"nsid":         GroupNSID,
	"mpls-netconf": GroupMPLSNetConf,
	"nexthop":      GroupNextHop,
	"brvlan":       GroupBridgeVLAN,
	"mctp-ifaddr":  GroupMCTPIfAddr,
	"tunnel":       GroupTunnel,
	"stats":        GroupStats,
	"ipv4-mcaddr":  GroupIPv4MCAddr,
	"ipv6-mcaddr":  GroupIPv6MCAddr,
	"ipv6-acaddr":  GroupIPv6ACAddr,
}

// ParseGroup accepts either a group name such as ipv4-route or its number.
func ParseGroup(s string) (uint32, error) {
	if g, ok := groupByName[strings.ToLower(s)]; ok {
		return g, nil
	}

	g, err := strconv.ParseUint(s, 10, 32)
	if err != nil || g == 0 {
		return 0, fmt.Errorf("unknown multicast group %q", s)
	}

	return uint32(g), nil
}

// GroupName is the inverse of ParseGroup. Unknown groups are printed as
// numbers.
func GroupName(g uint32) string {
	for name, v := range groupByName {
		if v == g {
			return name
		}
	}
	return strconv.FormatUint(uint64(g), 10)
}
