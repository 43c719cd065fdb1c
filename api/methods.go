package api

import (
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/jsimonetti/rtnetlink"
	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/rtnl"
)

var errBadParameter = errors.New("bad parameter")

func handleRoot(c echo.Context) error {
	cc := c.(*extendedContext)
	return c.JSONPretty(http.StatusOK, &rootResponse{
		ApiRoutes: cc.apiRoutes,
	}, JSON_PRETTY_INDENT)
}

func handleStats(c echo.Context) error {
	cc := c.(*extendedContext)

	stats, err := cc.client.Handle().Stats(c.Request().Context())
	if err != nil {
		return failure(c, err)
	}

	return c.JSONPretty(http.StatusOK, &stats, JSON_PRETTY_INDENT)
}

func handleLinks(c echo.Context) error {
	cc := c.(*extendedContext)
	return list(c, cc.client.Link.List(c.Request().Context()), NewLink)
}

// handleLink looks a link up by index or, failing that, by name.
func handleLink(c echo.Context) error {
	cc := c.(*extendedContext)
	ctx := c.Request().Context()

	link := c.Param("link")

	var err error
	var m rtnetlink.LinkMessage
	if index, perr := strconv.ParseUint(link, 10, 32); perr == nil {
		m, err = cc.client.Link.Get(ctx, uint32(index))
	} else {
		m, err = cc.client.Link.ByName(ctx, link)
	}
	if err != nil {
		return failure(c, err)
	}

	l := NewLink(m)
	return c.JSONPretty(http.StatusOK, &l, JSON_PRETTY_INDENT)
}

func handleAddresses(c echo.Context) error {
	cc := c.(*extendedContext)

	family, err := familyParam(c)
	if err != nil {
		return failure(c, err)
	}

	return list(c, cc.client.Address.List(c.Request().Context(), family), NewAddress)
}

func handleRoutes(c echo.Context) error {
	cc := c.(*extendedContext)

	family, err := familyParam(c)
	if err != nil {
		return failure(c, err)
	}

	return list(c, cc.client.Route.List(c.Request().Context(), family), NewRoute)
}

// handleRouteGet resolves the route the kernel would pick to reach dst.
func handleRouteGet(c echo.Context) error {
	cc := c.(*extendedContext)

	dst, err := netip.ParseAddr(c.Param("dst"))
	if err != nil {
		return failure(c, fmt.Errorf("%w: %w", errBadParameter, err))
	}

	m, err := cc.client.Route.Get(c.Request().Context(), dst)
	if err != nil {
		return failure(c, err)
	}

	r := NewRoute(m)
	return c.JSONPretty(http.StatusOK, &r, JSON_PRETTY_INDENT)
}

func handleNeighbours(c echo.Context) error {
	cc := c.(*extendedContext)

	family, err := familyParam(c)
	if err != nil {
		return failure(c, err)
	}

	return list(c, cc.client.Neigh.List(c.Request().Context(), family), NewNeighbour)
}

func handleRules(c echo.Context) error {
	cc := c.(*extendedContext)

	family, err := familyParam(c)
	if err != nil {
		return failure(c, err)
	}

	return list(c, cc.client.Rule.List(c.Request().Context(), family), NewRule)
}

func handleQdiscs(c echo.Context) error {
	cc := c.(*extendedContext)
	return list(c, cc.client.Qdisc.List(c.Request().Context()), NewTrafficControl)
}

// handleFilters dumps the filters on the ingress (default) or egress hook of
// a link's clsact qdisc.
func handleFilters(c echo.Context) error {
	cc := c.(*extendedContext)

	index, err := strconv.ParseUint(c.Param("link"), 10, 32)
	if err != nil {
		return failure(c, fmt.Errorf("%w: link must be an index: %w", errBadParameter, err))
	}

	parent := rtnl.IngressParent
	switch c.QueryParam("hook") {
	case "", "ingress":
	case "egress":
		parent = rtnl.EgressParent
	default:
		return failure(c, fmt.Errorf("%w: unknown hook %q", errBadParameter, c.QueryParam("hook")))
	}

	return list(c, cc.client.Filter.List(c.Request().Context(), uint32(index), parent), NewTrafficControl)
}

func handleNexthops(c echo.Context) error {
	cc := c.(*extendedContext)

	family, err := familyParam(c)
	if err != nil {
		return failure(c, err)
	}

	return list(c, cc.client.Nexthop.List(c.Request().Context(), family), NewNexthop)
}

func handleNexthop(c echo.Context) error {
	cc := c.(*extendedContext)

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return failure(c, fmt.Errorf("%w: bad nexthop id %q", errBadParameter, c.Param("id")))
	}

	n, err := cc.client.Nexthop.Get(c.Request().Context(), uint32(id))
	if err != nil {
		return failure(c, err)
	}

	v := NewNexthop(n)
	return c.JSONPretty(http.StatusOK, &v, JSON_PRETTY_INDENT)
}

// list drains a dump converting every message into its view. Nothing is
// written until the dump is over so that errors can still be reported.
func list[M, V any](c echo.Context, seq iter.Seq2[M, error], view func(M) V) error {
	out := []V{}
	for m, err := range seq {
		if err != nil {
			return failure(c, err)
		}
		out = append(out, view(m))
	}

	return c.JSONPretty(http.StatusOK, out, JSON_PRETTY_INDENT)
}

func familyParam(c echo.Context) (uint8, error) {
	switch f := c.QueryParam("family"); f {
	case "", "all":
		return unix.AF_UNSPEC, nil
	case "inet", "4":
		return unix.AF_INET, nil
	case "inet6", "6":
		return unix.AF_INET6, nil
	default:
		return 0, fmt.Errorf("%w: unknown family %q", errBadParameter, f)
	}
}

func failure(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadParameter):
		status = http.StatusBadRequest
	case errors.Is(err, rtnl.ErrNotFound), nl.IsNotExist(err):
		status = http.StatusNotFound
	case nl.IsPermission(err):
		status = http.StatusForbidden
	case errors.Is(err, nl.ErrConnectionClosed):
		status = http.StatusServiceUnavailable
	}

	resp := errorResponse{Error: err.Error()}

	var nerr *nl.Error
	if errors.As(err, &nerr) {
		resp.Class = nerr.Class.String()
		resp.Code = nerr.Code
	}

	logger.Debug("request failed", "path", c.Path(), "status", status, "err", err)

	return c.JSONPretty(status, &resp, JSON_PRETTY_INDENT)
}
