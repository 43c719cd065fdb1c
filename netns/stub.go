//go:build !linux

package netns

import (
	"context"
	"errors"

	"github.com/vishvananda/netns"
)

var errNotSupported = errors.New("network namespaces are a linux feature")

func Add(name string) error { return errNotSupported }

func Delete(name string) error { return errNotSupported }

func Open(name string) (netns.NsHandle, error) { return netns.None(), errNotSupported }

func Inode(pid int) (uint32, error) { return 0, errNotSupported }

func Watch(ctx context.Context, dir string) (<-chan Event, error) { return nil, errNotSupported }
