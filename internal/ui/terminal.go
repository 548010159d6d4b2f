package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorEnabled reports whether f should get ANSI colors. NO_COLOR always
// wins, then CLICOLOR_FORCE=1 and CLICOLOR=0; otherwise color follows
// whether f is a terminal.
func ColorEnabled(f *os.File) bool {
	return colorFromEnv(os.Getenv, func() bool { return term.IsTerminal(int(f.Fd())) })
}

func colorFromEnv(getenv func(string) string, isTTY func() bool) bool {
	switch {
	case getenv("NO_COLOR") != "": // https://no-color.org
		return false
	case strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(getenv("CLICOLOR")) == "0":
		return false
	}
	return isTTY()
}

// Width returns the column count of the terminal behind f, or fallback when
// f is not a terminal.
func Width(f *os.File, fallback int) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
