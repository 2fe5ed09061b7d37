// Package rdtlog is the one logging entry point for this module. It
// wraps zerolog for structured, leveled logging and keeps the teacher
// repo's colored console banner/section helpers for CLI demo output.
package rdtlog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ANSI color codes, carried from the teacher's pkg/logger.
const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
	With().Timestamp().Logger()

// SetLevel adjusts the global minimum log level.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// New returns a component-scoped logger, e.g. rdtlog.New("gbn.sender").
func New(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Section prints a banner-style section header to stdout, used by
// cmd/rdtdemo. Not part of the structured log stream.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", colorCyan, border, colorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", colorCyan, colorReset, title, colorCyan, colorReset)
	fmt.Printf("%s╚%s╝%s\n\n", colorCyan, border, colorReset)
}

// Banner prints the application banner for a CLI demo.
func Banner(title, version string) {
	fmt.Printf("%s=== %s ===%s\n", colorGreen, title, colorReset)
	fmt.Printf("version %s\n\n", version)
}
