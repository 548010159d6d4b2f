package ui

import (
	"fmt"

	"github.com/alfredjeanlab/memlog/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 215 // orange
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderWarn returns s in the warning (orange) color.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderStatus returns the status name colored by lifecycle stage: LOGGED
// muted, ACCUMULATING accent, CONSUMED green.
func RenderStatus(s model.SyncStatus) string {
	switch s {
	case model.StatusLogged:
		return RenderMuted(s.String())
	case model.StatusAccumulating:
		return RenderAccent(s.String())
	case model.StatusConsumed:
		return render(colorOK, s.String())
	}
	return RenderWarn(s.String())
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
