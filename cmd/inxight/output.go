package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/inxource/inxight/internal/insight"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// writeBatch renders a stored insight payload table by table, in name order.
// Payloads that are not a batch are written through unchanged.
func writeBatch(w io.Writer, payload json.RawMessage) {
	var batch insight.Batch
	if err := json.Unmarshal(payload, &batch); err != nil {
		fmt.Fprintln(w, string(payload))
		return
	}

	tables := make([]string, 0, len(batch))
	for t := range batch {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, t := range tables {
		rec := batch[t]
		fmt.Fprintln(w, colorize(colorBold, t))
		fmt.Fprintf(w, "  %s %s\n", colorize(colorYellow, "Concern:"), rec.Concern)
		fmt.Fprintf(w, "  %s %s\n\n", colorize(colorGreen, "Recommendation:"), rec.Recommendation)
	}
}
