// Package console renders colorized status lines for the luaud CLI and
// the DAP Debug Console passthrough.
package console

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	warnColor  = color.New(color.FgYellow, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	infoColor  = color.New(color.FgCyan)
	breakColor = color.New(color.FgMagenta, color.Bold)
)

// Banner prints the startup banner for the luaud CLI.
func Banner(w io.Writer, version string, port int) {
	okColor.Fprintf(w, "luaud")
	fmt.Fprintf(w, " %s listening on port %d\n", version, port)
}

// Break prints a line announcing the VM has stopped at a breakpoint.
func Break(w io.Writer, file string, line int, reason string) {
	breakColor.Fprint(w, "break")
	fmt.Fprintf(w, " %s:%d (%s)\n", file, line, reason)
}

// Info prints an informational console line.
func Info(w io.Writer, format string, args ...interface{}) {
	infoColor.Fprint(w, "info ")
	fmt.Fprintf(w, format+"\n", args...)
}

// Warn prints a warning console line.
func Warn(w io.Writer, format string, args ...interface{}) {
	warnColor.Fprint(w, "warn ")
	fmt.Fprintf(w, format+"\n", args...)
}

// Error prints an error console line.
func Error(w io.Writer, format string, args ...interface{}) {
	errColor.Fprint(w, "error ")
	fmt.Fprintf(w, format+"\n", args...)
}
