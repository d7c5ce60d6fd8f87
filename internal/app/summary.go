package app

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/vk/pipegrid/internal/engine"
	"github.com/vk/pipegrid/internal/pipeline"
)

var stateColors = map[engine.State]*color.Color{
	engine.Completed:     color.New(color.FgGreen),
	engine.SkippedCached: color.New(color.FgCyan),
	engine.Failed:        color.New(color.FgRed, color.Bold),
	engine.Cancelled:     color.New(color.FgYellow),
}

// writeSummary prints one line per unit followed by the state counts.
func writeSummary(w io.Writer, def *pipeline.Definition, report *engine.Report) {
	fmt.Fprintf(w, "\n%s %s (execution %s)\n", color.New(color.Bold).Sprint("pipeline"), def.Name, report.ExecutionID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, u := range report.Units {
		state := u.State.String()
		if c, ok := stateColors[u.State]; ok {
			state = c.Sprint(state)
		}
		line := fmt.Sprintf("  %s\t%s\t%s\t%s", u.Version, u.RouteID, state, u.Duration().Round(time.Millisecond))
		if u.Err != nil {
			line += "\t" + u.Err.Error()
		}
		fmt.Fprintln(tw, line)
	}
	tw.Flush()

	counts := report.Counts()
	fmt.Fprintf(w, "  %d completed, %d cached, %d failed, %d cancelled\n",
		counts[engine.Completed], counts[engine.SkippedCached], counts[engine.Failed], counts[engine.Cancelled])
}
