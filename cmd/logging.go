package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/types"
)

const (
	GroupKey  string = "group"
	GroupsKey string = "groups"
)

var logLevelMap = map[string]slog.Level{
	"trace": types.LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func parseLogLevel(s string) (slog.Level, error) {
	l, ok := logLevelMap[strings.ToLower(s)]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func logReplacements(groups []string, a slog.Attr) slog.Attr {
	// Remove time.
	if a.Key == slog.TimeKey && len(groups) == 0 && !logTimeFlag {
		return slog.Attr{}
	}

	// Remove the directory from the source's filename.
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
	}

	// Show the trace level by name instead of as DEBUG-1.
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level == types.LevelTrace {
			return slog.String(a.Key, "TRACE")
		}
	}

	// Name multicast groups. When slog gobbles a uint32 it becomes a uint64.
	if a.Key == GroupKey {
		if g, ok := a.Value.Any().(uint64); ok {
			return slog.String(a.Key, nl.GroupName(uint32(g)))
		}
	}

	if a.Key == GroupsKey {
		if gs, ok := a.Value.Any().([]uint32); ok {
			names := make([]string, 0, len(gs))
			for _, g := range gs {
				names = append(names, nl.GroupName(g))
			}
			return slog.String(a.Key, strings.Join(names, ","))
		}
	}

	return a
}
