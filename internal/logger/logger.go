package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI colors, disabled automatically when stdout is not a terminal.
var (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func init() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		colorReset, colorGreen, colorYellow, colorRed, colorCyan, colorGray = "", "", "", "", "", ""
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}

func line(color, level, tag, msg string) {
	fmt.Fprintf(os.Stdout, "%s%s%s %s[%s]%s %-7s %s\n",
		colorGray, stamp(), colorReset, colorCyan, tag, colorReset, color+level+colorReset, msg)
}

// Info logs a neutral message under the given tag.
func Info(tag, msg string) {
	line("", "INFO", tag, msg)
}

// Success logs a completed operation.
func Success(tag, msg string) {
	line(colorGreen, "OK", tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line(colorYellow, "WARN", tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line(colorRed, "ERROR", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(os.Stdout, "%s─── aura %s ───%s\n", colorCyan, version, colorReset)
}

// Section prints a visual divider used between startup phases.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "%s── %s ──%s\n", colorGray, title, colorReset)
}

// Stats prints a single key/value statistic.
func Stats(key string, value interface{}) {
	fmt.Fprintf(os.Stdout, "  %s%s:%s %v\n", colorGray, key, colorReset, value)
}

// Event logs a grep-able structured event line under the given tag.
// Keys are sorted so identical events produce identical lines.
// Values containing spaces are quoted.
func Event(tag, event string, kv map[string]interface{}) {
	parts := make([]string, 0, len(kv))
	for k, v := range kv {
		s := fmt.Sprintf("%v", v)
		if strings.ContainsAny(s, " \t") {
			s = fmt.Sprintf("%q", s)
		}
		parts = append(parts, k+"="+s)
	}
	sort.Strings(parts)
	msg := "event=" + event
	if len(parts) > 0 {
		msg += " " + strings.Join(parts, " ")
	}
	line("", "INFO", tag, msg)
}
