// Package log has the logger the taskdash SDK writes to. Plug your own logger
// implementing [Logger], the SDK is silent by default.
package log

import "github.com/slok/taskdash/internal/log"

// Logger is the SDK logger. Besides the format methods it carries structured
// values with [Kv].
type Logger = log.Logger

// Kv are structured log values.
type Kv = log.Kv

// Noop discards everything, used when [lib.Config] has no logger.
var Noop = log.Noop
