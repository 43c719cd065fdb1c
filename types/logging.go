// Package types holds the bits shared by every other package.
package types

import "log/slog"

// LevelTrace sits below debug. The connection logs every message it sends
// and receives at this level.
const LevelTrace = slog.LevelDebug - 1
