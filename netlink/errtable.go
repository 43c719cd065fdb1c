package netlink

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"golang.org/x/sys/unix"
)

// Class groups kernel error codes by what they mean to a caller.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassNotFound
	ClassExists
	ClassPermission
	ClassBusy
	ClassInvalid
	ClassUnsupported
	ClassNoSpace
	ClassAgain
)

var className = map[Class]string{
	ClassUnknown:     "unknown",
	ClassNotFound:    "not-found",
	ClassExists:      "exists",
	ClassPermission:  "permission",
	ClassBusy:        "busy",
	ClassInvalid:     "invalid",
	ClassUnsupported: "unsupported",
	ClassNoSpace:     "no-space",
	ClassAgain:       "again",
}

func (c Class) String() string {
	if n, ok := className[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", c)
}

func ParseClass(s string) (Class, error) {
	for c, n := range className {
		if n == strings.ToLower(s) {
			return c, nil
		}
	}
	return ClassUnknown, fmt.Errorf("unknown error class %q", s)
}

func (c Class) MarshalYAML() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}

	parsed, err := ParseClass(s)
	if err != nil {
		return err
	}
	*c = parsed

	return nil
}

type ErrorInfo struct {
	Name  string `yaml:"name"`
	Class Class  `yaml:"class"`
}

// ErrorTable maps kernel error codes (positive errno values) onto names and
// classes. Codes missing from the table still produce an *Error, just one
// with ClassUnknown.
type ErrorTable map[int32]ErrorInfo

var defaultClasses = []struct {
	errno unix.Errno
	class Class
}{
	{unix.ENOENT, ClassNotFound},
	{unix.ENODEV, ClassNotFound},
	{unix.ESRCH, ClassNotFound},
	{unix.ENXIO, ClassNotFound},
	{unix.EADDRNOTAVAIL, ClassNotFound},
	{unix.EEXIST, ClassExists},
	{unix.EADDRINUSE, ClassExists},
	{unix.ENOTEMPTY, ClassExists},
	{unix.EPERM, ClassPermission},
	{unix.EACCES, ClassPermission},
	{unix.EBUSY, ClassBusy},
	{unix.EINVAL, ClassInvalid},
	{unix.ERANGE, ClassInvalid},
	{unix.E2BIG, ClassInvalid},
	{unix.EMSGSIZE, ClassInvalid},
	{unix.ENETUNREACH, ClassInvalid},
	{unix.EOPNOTSUPP, ClassUnsupported},
	{unix.EAFNOSUPPORT, ClassUnsupported},
	{unix.EPROTONOSUPPORT, ClassUnsupported},
	{unix.ENOSYS, ClassUnsupported},
	{unix.ENOSPC, ClassNoSpace},
	{unix.ENOMEM, ClassNoSpace},
	{unix.ENOBUFS, ClassNoSpace},
	{unix.EAGAIN, ClassAgain},
	{unix.EINTR, ClassAgain},
}

// DefaultErrorTable returns a fresh copy of the built-in table.
func DefaultErrorTable() ErrorTable {
	t := ErrorTable{}
	for _, e := range defaultClasses {
		t[int32(e.errno)] = ErrorInfo{Name: unix.ErrnoName(e.errno), Class: e.class}
	}
	return t
}

func (t ErrorTable) Lookup(code int32) (ErrorInfo, bool) {
	info, ok := t[code]
	return info, ok
}

// newError builds the *Error for code, falling back to the C name of the
// errno when the table doesn't know about it.
func (t ErrorTable) newError(code int32) *Error {
	e := &Error{Code: code, Class: ClassUnknown}
	if info, ok := t.Lookup(code); ok {
		e.Name, e.Class = info.Name, info.Class
	}
	if e.Name == "" {
		e.Name = unix.ErrnoName(unix.Errno(code))
	}
	if e.Name == "" {
		e.Name = fmt.Sprintf("errno %d", code)
	}
	return e
}

type errorTableEntry struct {
	Code  int32  `yaml:"code"`
	Name  string `yaml:"name"`
	Class Class  `yaml:"class"`
}

// LoadErrorTable reads a list of entries like
//
//	- code: 17
//	  name: EEXIST
//	  class: exists
//
// from path and merges them on top of the default table.
func LoadErrorTable(path string) (ErrorTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read the error table: %w", err)
	}

	var entries []errorTableEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("couldn't parse the error table: %w", err)
	}

	t := DefaultErrorTable()
	for _, e := range entries {
		if e.Code <= 0 {
			return nil, fmt.Errorf("invalid error code %d in %s", e.Code, path)
		}
		t[e.Code] = ErrorInfo{Name: e.Name, Class: e.Class}
	}

	return t, nil
}

// Merge returns a new table with the entries of other overriding those of t.
func (t ErrorTable) Merge(other ErrorTable) ErrorTable {
	out := maps.Clone(t)
	if out == nil {
		out = ErrorTable{}
	}
	maps.Copy(out, other)
	return out
}
