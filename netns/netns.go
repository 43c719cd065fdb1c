// Package netns manages named network namespaces the way ip-netns(8) does:
// each one is a bind mount under /run/netns. A handle obtained from Open can
// be passed to the transport so that a netlink socket lives in that
// namespace.
package netns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Dir is where named namespaces are bind mounted.
const Dir = "/run/netns"

var (
	logger = slog.Default().With("t", "netns")

	ErrInvalidName = errors.New("invalid network namespace name")
)

type Op uint8

const (
	Added Op = iota
	Removed
)

func (o Op) String() string {
	if o == Added {
		return "added"
	}
	return "removed"
}

// Event reports a named namespace appearing or going away.
type Event struct {
	Name string
	Op   Op
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// List returns the names of the namespaces bind mounted under dir, sorted.
// A missing dir just means there are none.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("couldn't list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)

	return names, nil
}
