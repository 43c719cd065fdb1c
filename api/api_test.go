package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"
	"github.com/josharian/native"
	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/internal/nltest"
	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/rtnl"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})))
}

func marshal(t *testing.T, m interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()

	b, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("error marshalling %T: %v", m, err)
	}
	return b
}

// tcmsg builds a struct tcmsg followed by a TCA_KIND attribute.
func tcmsg(t *testing.T, index, handle, parent uint32, kind string) []byte {
	t.Helper()

	b := make([]byte, 20)
	b[0] = unix.AF_UNSPEC
	native.Endian.PutUint32(b[4:8], index)
	native.Endian.PutUint32(b[8:12], handle)
	native.Endian.PutUint32(b[12:16], parent)

	ae := netlink.NewAttributeEncoder()
	ae.String(1, kind)
	attrs, err := ae.Encode()
	if err != nil {
		t.Fatal(err)
	}

	return append(b, attrs...)
}

// kernel answers requests the way a host with a loopback and a single
// ethernet interface would.
func kernel(t *testing.T) nltest.Func {
	lo := marshal(t, &rtnetlink.LinkMessage{
		Index: 1, Flags: unix.IFF_UP | unix.IFF_LOOPBACK,
		Attributes: &rtnetlink.LinkAttributes{
			Name: "lo", MTU: 65536, QueueDisc: "noqueue",
			OperationalState: rtnetlink.OperStateUnknown,
		},
	})
	eth := marshal(t, &rtnetlink.LinkMessage{
		Index: 2, Flags: unix.IFF_UP,
		Attributes: &rtnetlink.LinkAttributes{
			Name: "eth0", MTU: 1500, QueueDisc: "clsact",
			Address:          net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
			OperationalState: rtnetlink.OperStateUp,
		},
	})
	def := marshal(t, &rtnetlink.RouteMessage{
		Family: unix.AF_INET, Table: unix.RT_TABLE_MAIN,
		Protocol: unix.RTPROT_DHCP, Scope: unix.RT_SCOPE_UNIVERSE, Type: unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Gateway: net.IP{192, 0, 2, 1}, OutIface: 2, Priority: 100,
		},
	})
	subnet := marshal(t, &rtnetlink.RouteMessage{
		Family: unix.AF_INET, DstLength: 24, Table: unix.RT_TABLE_MAIN,
		Protocol: unix.RTPROT_KERNEL, Scope: unix.RT_SCOPE_LINK, Type: unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			Dst: net.IP{192, 0, 2, 0}, Src: net.IP{192, 0, 2, 10}, OutIface: 2,
		},
	})
	addr := marshal(t, &rtnetlink.AddressMessage{
		Family: unix.AF_INET, PrefixLength: 24, Index: 2,
		Attributes: &rtnetlink.AddressAttributes{
			Address: net.IP{192, 0, 2, 10}, Local: net.IP{192, 0, 2, 10}, Label: "eth0",
		},
	})
	clsact := tcmsg(t, 2, 0xFFFF0000, 0xFFFFFFF1, "clsact")
	via := marshal(t, rtnl.Nexthop{
		ID: 1, Family: unix.AF_INET, Protocol: unix.RTPROT_STATIC,
		Gateway: netip.MustParseAddr("192.0.2.1"), OutIface: 2,
	})
	group := marshal(t, rtnl.Nexthop{
		ID: 2, Protocol: unix.RTPROT_STATIC,
		Group: []rtnl.NexthopGroupMember{{ID: 1}, {ID: 3, Weight: 9}},
	})

	return func(req netlink.Message) []netlink.Message {
		dumping := req.Header.Flags&netlink.Dump == netlink.Dump

		switch req.Header.Type {
		case unix.RTM_GETLINK:
			if dumping {
				return []netlink.Message{
					nltest.Fragment(req, unix.RTM_NEWLINK, lo),
					nltest.Fragment(req, unix.RTM_NEWLINK, eth),
					nltest.Done(req),
				}
			}

			var m rtnetlink.LinkMessage
			if err := m.UnmarshalBinary(req.Data); err != nil {
				return []netlink.Message{nltest.Error(req, unix.EINVAL)}
			}
			if m.Index == 2 || (m.Attributes != nil && m.Attributes.Name == "eth0") {
				return []netlink.Message{nltest.Reply(req, unix.RTM_NEWLINK, 0, eth), nltest.Ack(req)}
			}
			return []netlink.Message{nltest.Error(req, unix.ENODEV)}

		case unix.RTM_GETROUTE:
			if dumping {
				return []netlink.Message{
					nltest.Fragment(req, unix.RTM_NEWROUTE, def),
					nltest.Fragment(req, unix.RTM_NEWROUTE, subnet),
					nltest.Done(req),
				}
			}
			return []netlink.Message{nltest.Reply(req, unix.RTM_NEWROUTE, 0, def), nltest.Ack(req)}

		case unix.RTM_GETADDR:
			return []netlink.Message{nltest.Fragment(req, unix.RTM_NEWADDR, addr), nltest.Done(req)}

		case unix.RTM_GETQDISC:
			return []netlink.Message{nltest.Fragment(req, unix.RTM_NEWQDISC, clsact), nltest.Done(req)}

		case unix.RTM_GETRULE:
			return []netlink.Message{nltest.DoneError(req, unix.EPERM)}

		case unix.RTM_GETNEXTHOP:
			if dumping {
				return []netlink.Message{
					nltest.Fragment(req, unix.RTM_NEWNEXTHOP, via),
					nltest.Fragment(req, unix.RTM_NEWNEXTHOP, group),
					nltest.Done(req),
				}
			}

			var n rtnl.Nexthop
			if err := n.UnmarshalBinary(req.Data); err != nil {
				return []netlink.Message{nltest.Error(req, unix.EINVAL)}
			}
			if n.ID == 1 {
				return []netlink.Message{nltest.Reply(req, unix.RTM_NEWNEXTHOP, 0, via), nltest.Ack(req)}
			}
			return []netlink.Message{nltest.Error(req, unix.ENOENT)}

		default:
			return []netlink.Message{nltest.Error(req, unix.EOPNOTSUPP)}
		}
	}
}

func newApi(t *testing.T, metrics http.Handler) *Api {
	t.Helper()

	c := nl.New(nltest.NewFunc(kernel(t)), nil)
	t.Cleanup(func() { c.Close() })

	return New(nil, rtnl.New(c.Handle()), metrics)
}

func get(t *testing.T, a *Api, path string) (int, []byte) {
	t.Helper()

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}

	return rec.Code, body
}

func validate(t *testing.T, schema string, body []byte) {
	t.Helper()

	c := jsonschema.NewCompiler()
	sch, err := c.Compile(filepath.Join("testdata", schema))
	if err != nil {
		t.Fatalf("error compiling the schema: %v", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("error unmarshalling the payload: %v", err)
	}

	if err := sch.Validate(inst); err != nil {
		t.Errorf("error validating against %s: %v\n%s", schema, err, body)
	}
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("error decoding %s: %v", body, err)
	}
	return v
}

func TestLinks(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/links")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	validate(t, "links.schema.json", body)

	want := []Link{
		{Index: 1, Name: "lo", MTU: 65536, Up: true, OperState: "unknown", Qdisc: "noqueue"},
		{Index: 2, Name: "eth0", MTU: 1500, Address: "02:00:00:00:00:01", Up: true, OperState: "up", Qdisc: "clsact"},
	}
	if diff := cmp.Diff(want, decode[[]Link](t, body)); diff != "" {
		t.Errorf("link mismatch (-want +got):\n%s", diff)
	}
}

func TestLink(t *testing.T) {
	a := newApi(t, nil)

	for _, path := range []string{"/links/2", "/links/eth0"} {
		code, body := get(t, a, path)
		if code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d: %s", path, code, body)
		}
		if l := decode[Link](t, body); l.Name != "eth0" || l.Index != 2 {
			t.Errorf("%s: unexpected link %+v", path, l)
		}
	}
}

func TestLinkNotFound(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/links/nope0")
	if code != http.StatusNotFound {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	validate(t, "error.schema.json", body)

	resp := decode[errorResponse](t, body)
	if resp.Class != "not-found" || resp.Code != int32(unix.ENODEV) {
		t.Errorf("unexpected error response %+v", resp)
	}
}

func TestRoutes(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/routes?family=inet")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	validate(t, "routes.schema.json", body)

	want := []Route{
		{
			Family: "inet", Dst: "default", Gateway: "192.0.2.1", OutIface: 2,
			Table: unix.RT_TABLE_MAIN, Priority: 100, Protocol: unix.RTPROT_DHCP, Scope: unix.RT_SCOPE_UNIVERSE,
		},
		{
			Family: "inet", Dst: "192.0.2.0/24", Src: "192.0.2.10", OutIface: 2,
			Table: unix.RT_TABLE_MAIN, Protocol: unix.RTPROT_KERNEL, Scope: unix.RT_SCOPE_LINK,
		},
	}
	if diff := cmp.Diff(want, decode[[]Route](t, body)); diff != "" {
		t.Errorf("route mismatch (-want +got):\n%s", diff)
	}
}

func TestRouteGet(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/routes/198.51.100.7")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	if r := decode[Route](t, body); r.Gateway != "192.0.2.1" {
		t.Errorf("unexpected route %+v", r)
	}

	code, body = get(t, a, "/routes/not-an-address")
	if code != http.StatusBadRequest {
		t.Errorf("unexpected status %d: %s", code, body)
	}
}

func TestAddresses(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/addresses")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}

	want := []Address{{Index: 2, Family: "inet", Prefix: "192.0.2.10/24", Label: "eth0"}}
	if diff := cmp.Diff(want, decode[[]Address](t, body)); diff != "" {
		t.Errorf("address mismatch (-want +got):\n%s", diff)
	}
}

func TestBadFamily(t *testing.T) {
	a := newApi(t, nil)

	for _, path := range []string{"/addresses?family=ipx", "/routes?family=7", "/neighbours?family=x", "/rules?family=x"} {
		code, body := get(t, a, path)
		if code != http.StatusBadRequest {
			t.Errorf("%s: unexpected status %d: %s", path, code, body)
		}
		validate(t, "error.schema.json", body)
	}
}

func TestQdiscs(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/qdiscs")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}

	want := []TrafficControl{{Index: 2, Kind: "clsact", Handle: "ffff:0", Parent: "ffff:fff1"}}
	if diff := cmp.Diff(want, decode[[]TrafficControl](t, body)); diff != "" {
		t.Errorf("qdisc mismatch (-want +got):\n%s", diff)
	}
}

func TestNexthops(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/nexthops")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	validate(t, "nexthops.schema.json", body)

	want := []Nexthop{
		{ID: 1, Family: "inet", Protocol: unix.RTPROT_STATIC, Gateway: "192.0.2.1", OutIface: 2},
		{ID: 2, Family: "unspec", Protocol: unix.RTPROT_STATIC, Group: "1/3,10"},
	}
	if diff := cmp.Diff(want, decode[[]Nexthop](t, body)); diff != "" {
		t.Errorf("nexthop mismatch (-want +got):\n%s", diff)
	}
}

func TestNexthop(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/nexthops/1")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	if n := decode[Nexthop](t, body); n.Gateway != "192.0.2.1" || n.OutIface != 2 {
		t.Errorf("unexpected nexthop %+v", n)
	}

	for path, status := range map[string]int{
		"/nexthops/0":   http.StatusBadRequest,
		"/nexthops/one": http.StatusBadRequest,
		"/nexthops/5":   http.StatusNotFound,
	} {
		code, body := get(t, a, path)
		if code != status {
			t.Errorf("%s: status %d, want %d: %s", path, code, status, body)
		}
		validate(t, "error.schema.json", body)
	}
}

func TestFiltersBadHook(t *testing.T) {
	a := newApi(t, nil)

	for _, path := range []string{"/filters/eth0", "/filters/2?hook=sideways"} {
		if code, body := get(t, a, path); code != http.StatusBadRequest {
			t.Errorf("%s: unexpected status %d: %s", path, code, body)
		}
	}
}

func TestDumpErrorIsForbidden(t *testing.T) {
	a := newApi(t, nil)

	code, body := get(t, a, "/rules")
	if code != http.StatusForbidden {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	if resp := decode[errorResponse](t, body); resp.Class != "permission" {
		t.Errorf("unexpected error response %+v", resp)
	}
}

func TestStats(t *testing.T) {
	a := newApi(t, nil)

	// Leave a trace in the sequence counter.
	get(t, a, "/links")

	code, body := get(t, a, "/stats")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}
	validate(t, "stats.schema.json", body)

	stats := decode[nl.Stats](t, body)
	if stats.Pending != 0 || stats.Closed || stats.NextSequence < 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMetrics(t *testing.T) {
	if code, _ := get(t, newApi(t, nil), "/metrics"); code != http.StatusNotFound {
		t.Errorf("/metrics should only be served with a handler, got %d", code)
	}

	a := newApi(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "nlmux_requests_pending 0")
	}))

	code, body := get(t, a, "/metrics")
	if code != http.StatusOK || !strings.Contains(string(body), "nlmux_requests_pending") {
		t.Errorf("unexpected metrics response %d: %s", code, body)
	}
}

func TestRoot(t *testing.T) {
	code, body := get(t, newApi(t, nil), "/")
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", code, body)
	}

	resp := decode[map[string][]map[string]any](t, body)
	paths := map[string]bool{}
	for _, r := range resp["routes"] {
		paths[r["path"].(string)] = true
	}
	for _, p := range []string{"/links", "/routes/:dst", "/stats"} {
		if !paths[p] {
			t.Errorf("route %s not advertised: %v", p, paths)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	if err := yaml.Unmarshal([]byte("bindPort: 8888\n"), &c); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(Config{BindAddress: "127.0.0.1", BindPort: 8888}, c); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestView(t *testing.T) {
	data := marshal(t, &rtnetlink.RouteMessage{
		Family: unix.AF_INET6, DstLength: 64, Table: unix.RT_TABLE_MAIN,
		Attributes: rtnetlink.RouteAttributes{Dst: net.ParseIP("2001:db8::"), OutIface: 3},
	})

	v, err := View(netlink.Message{Header: netlink.Header{Type: unix.RTM_DELROUTE}, Data: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := Route{Family: "inet6", Dst: "2001:db8::/64", OutIface: 3, Table: unix.RT_TABLE_MAIN}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("view mismatch (-want +got):\n%s", diff)
	}

	nh := marshal(t, rtnl.Nexthop{ID: 4, Family: unix.AF_INET6, Blackhole: true})
	v, err = View(netlink.Message{Header: netlink.Header{Type: unix.RTM_NEWNEXTHOP}, Data: nh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Nexthop{ID: 4, Family: "inet6", Blackhole: true}, v); diff != "" {
		t.Errorf("view mismatch (-want +got):\n%s", diff)
	}

	if _, err := View(netlink.Message{Header: netlink.Header{Type: netlink.Done}}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}
