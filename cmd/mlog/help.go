package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/memlog/internal/ui"
	"github.com/spf13/cobra"
)

// helpRule colors every match of re in cobra's help text. When group is
// non-zero only that submatch is colored and the rest is kept verbatim.
type helpRule struct {
	re     *regexp.Regexp
	group  int
	render func(string) string
}

var helpRules = []helpRule{
	// Section headers such as "Window:" or "Flags:".
	{regexp.MustCompile(`(?m)^[A-Z][^\n]*:[ \t]*$`), 0, func(s string) string { return ui.RenderAccent(strings.TrimSpace(s)) }},
	// Command names in the command list.
	{regexp.MustCompile(`(?m)^(  )(\S+)(  )`), 2, ui.RenderCommand},
	// Flag value types, e.g. "--limit int".
	{regexp.MustCompile(`(--?\S+\s+)(string|int|float64|duration|strings)\b`), 2, ui.RenderMuted},
	// Flag defaults, e.g. (default "http").
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
	// Status names in command descriptions.
	{regexp.MustCompile(`\b(LOGGED|ACCUMULATING|CONSUMED)\b`), 0, ui.RenderWarn},
}

// colorizedHelpFunc renders cobra's usage text and colors it when stdout
// supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ColorEnabled(os.Stdout) {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			if r.group == 0 {
				return r.render(match)
			}
			loc := r.re.FindStringSubmatchIndex(match)
			if loc == nil || loc[2*r.group] < 0 {
				return match
			}
			start, end := loc[2*r.group], loc[2*r.group+1]
			return match[:start] + r.render(match[start:end]) + match[end:]
		})
	}
	return s
}
