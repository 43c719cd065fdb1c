package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/structs"
	"github.com/goccy/go-yaml"
)

var outputFlag string

// printView writes a view (see the api package) in the requested format.
// The text format is a single line of key=value pairs.
func printView(w io.Writer, prefix string, v any) error {
	var m map[string]any
	if structs.IsStruct(v) {
		m = structs.Map(v)
	} else {
		m = map[string]any{"value": v}
	}

	switch outputFlag {
	case "json":
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s%s\n", prefix, b)
		return err
	case "yaml":
		b, err := yaml.Marshal([]map[string]any{m})
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(b))
		return err
	case "", "text":
		var sb strings.Builder
		sb.WriteString(prefix)
		for i, k := range slices.Sorted(maps.Keys(m)) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s=%v", k, deref(m[k]))
		}
		_, err := fmt.Fprintln(w, sb.String())
		return err
	default:
		return fmt.Errorf("unknown output format %q", outputFlag)
	}
}

func deref(v any) any {
	if p, ok := v.(*uint32); ok && p != nil {
		return *p
	}
	return v
}
