// ABOUTME: End-of-run summary printing
// ABOUTME: One colored line per output with its final state and byte counts
package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/Sendspin/sendspin-caster/pkg/connector"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
)

func printSummary(w io.Writer, report connector.Report, uptime float64) {
	fmt.Fprintf(w, "Transferred %d bytes in %d cycles (%.1fs)\n", report.TotalBytes, report.Cycles, uptime)

	for _, o := range report.Outputs {
		c := okColor
		switch o.State {
		case connector.StateFailed:
			c = failColor
		case connector.StateSkipped:
			c = warnColor
		}
		c.Fprintf(w, "  %-12s %-9s", o.Name, o.State)
		fmt.Fprintf(w, " %s: %d bytes in, %d bytes out", o.Codec, o.BytesIn, o.Stats.Bytes)
		if o.Stats.PartialWrites > 0 {
			fmt.Fprintf(w, ", %d partial writes", o.Stats.PartialWrites)
		}
		if o.Dropped > 0 {
			fmt.Fprintf(w, ", %d dropped", o.Dropped)
		}
		if o.Err != nil {
			fmt.Fprintf(w, " (%v)", o.Err)
		}
		fmt.Fprintln(w)
	}
}
