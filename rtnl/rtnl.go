// Package rtnl builds rtnetlink requests for common network resources and
// decodes the replies. Messages are encoded with the types provided by
// github.com/jsimonetti/rtnetlink and github.com/florianl/go-tc: this
// package only wires them to a netlink.Handle.
//
// Dumps are exposed as iter.Seq2 values, so that
//
//	for link, err := range client.Link.List(ctx) { ... }
//
// streams links as the kernel sends them. Breaking out of such a loop
// cancels the underlying exchange.
package rtnl

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/mdlayher/netlink"

	nl "github.com/scitags/nlmux/netlink"
)

var ErrNotFound = errors.New("no matching object in the reply")

type Client struct {
	h nl.Handle

	Link    *LinkService
	Address *AddressService
	Route   *RouteService
	Neigh   *NeighService
	Rule    *RuleService
	Qdisc   *QdiscService
	Filter  *FilterService
	Nexthop *NexthopService
}

func New(h nl.Handle) *Client {
	return &Client{
		h:       h,
		Link:    &LinkService{h: h},
		Address: &AddressService{h: h},
		Route:   &RouteService{h: h},
		Neigh:   &NeighService{h: h},
		Rule:    &RuleService{h: h},
		Qdisc:   &QdiscService{h: h},
		Filter:  &FilterService{h: h},
		Nexthop: &NexthopService{h: h},
	}
}

// Handle returns the handle requests are submitted through.
func (c *Client) Handle() nl.Handle {
	return c.h
}

type unmarshaler[T any] interface {
	*T
	UnmarshalBinary([]byte) error
}

// dump sends req and decodes every reply of type want. Messages of any
// other type (i.e. acknowledgements) are skipped.
func dump[T any, P unmarshaler[T]](ctx context.Context, h nl.Handle, req nl.Request, want netlink.HeaderType) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		resp, err := h.Send(ctx, req)
		if err != nil {
			yield(zero, err)
			return
		}

		for m, err := range resp.All(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			if m.Header.Type != want {
				continue
			}

			var v T
			if err := P(&v).UnmarshalBinary(m.Data); err != nil {
				yield(zero, fmt.Errorf("couldn't decode %s message: %w", req.Kind, err))
				return
			}

			if !yield(v, nil) {
				return
			}
		}
	}
}

// get runs a single shot query and returns the first decoded object. The
// exchange is drained so that the trailing acknowledgement is consumed too.
func get[T any, P unmarshaler[T]](ctx context.Context, h nl.Handle, req nl.Request, want netlink.HeaderType) (T, error) {
	var (
		out   T
		found bool
	)

	for v, err := range dump[T, P](ctx, h, req, want) {
		if err != nil {
			return out, err
		}
		if !found {
			out, found = v, true
		}
	}

	if !found {
		return out, ErrNotFound
	}

	return out, nil
}

// Collect gathers a dump into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
