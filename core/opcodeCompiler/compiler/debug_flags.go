package compiler

import (
	"log/slog"
	"os"
	"sync/atomic"

	ethlog "github.com/ethereum/go-ethereum/log"
)

// traceKir gates the per-block and per-pass trace logs. KIR_DEBUG=1 turns it
// on at startup.
var traceKir atomic.Bool

func init() {
	if v := os.Getenv("KIR_DEBUG"); v == "1" || v == "true" {
		traceKir.Store(true)
	}
}

// EnableDebugLogs toggles the compiler trace logs.
func EnableDebugLogs(on bool) { traceKir.Store(on) }

// DebugLogsEnabled reports whether trace logs are written.
func DebugLogsEnabled() bool { return traceKir.Load() }

func kirTrace(level slog.Level, msg string, ctx []interface{}) {
	if traceKir.Load() {
		ethlog.Root().Write(level, msg, ctx...)
	}
}

func KirDebugInfo(msg string, ctx ...interface{})  { kirTrace(ethlog.LevelInfo, msg, ctx) }
func KirDebugWarn(msg string, ctx ...interface{})  { kirTrace(ethlog.LevelWarn, msg, ctx) }
func KirDebugError(msg string, ctx ...interface{}) { kirTrace(ethlog.LevelError, msg, ctx) }
