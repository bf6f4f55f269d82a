package track

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"timeledger/internal/humanize"
)

// Report is a read-only rendering of a tracker's statistics. It wraps its
// own copy of the tracker, so later mutation of the source never shows up
// in the output.
type Report struct {
	tracker TimeTracker
}

// NewReport builds a report over a snapshot of the tracker.
func NewReport(t TimeTracker) Report {
	return Report{tracker: t.Clone()}
}

// maxHeadingLevel caps rendered heading depth; markdown stops at level 6.
const maxHeadingLevel = 6

func (r Report) title(depth int) string {
	level := depth + 1
	if level > maxHeadingLevel {
		level = maxHeadingLevel
	}
	return fmt.Sprintf("%s Time Report for %s\n\n", strings.Repeat("#", level), r.tracker.Name)
}

// Description is one sentence stating the rough total time.
func (r Report) Description() string {
	return fmt.Sprintf("The total time spent on all tasks was %s.\n", humanize.Rough(r.tracker.TotalTime()))
}

// SlowestTaskDescription names the slowest task, its precise duration and
// its share of the tracker's total time. False when there are no tasks.
func (r Report) SlowestTaskDescription() (string, bool) {
	task, ok := r.tracker.SlowestTask()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("The slowest task was `%s` which took %s (%.2f%% of all time).",
		task.Name, humanize.Precise(task.Time()), task.PercentOf(r.tracker.TotalTime())), true
}

// SlowestTask returns the slowest direct task of the wrapped tracker.
func (r Report) SlowestTask() (CompletedTask, bool) {
	return r.tracker.SlowestTask()
}

// Text renders the report body at the given nesting depth: heading,
// total-time sentence, slowest-task sentence when present, one table row
// per direct task in insertion order, then every sub-tracker rendered one
// level deeper. Depth-first, parent before children.
func (r Report) Text(depth int) string {
	total := r.tracker.TotalTime()

	tw := table.NewWriter()
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"name", "time", "percentage"})
	for _, task := range r.tracker.Tasks {
		tw.AppendRow(table.Row{
			task.Name,
			humanize.Precise(task.Time()),
			fmt.Sprintf("%.2f%%", task.PercentOf(total)),
		})
	}

	var b strings.Builder
	b.WriteString(r.title(depth))
	b.WriteString(r.Description())
	if desc, ok := r.SlowestTaskDescription(); ok {
		b.WriteString(desc)
	}
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(tw.RenderMarkdown(), "\n"))

	for _, sub := range r.tracker.SubTrackers {
		b.WriteString("\n\n")
		b.WriteString(NewReport(sub).Text(depth + 1))
	}
	return b.String()
}

// Write renders Text(0) plus a trailing newline into the file at path,
// creating or truncating it.
func (r Report) Write(path string) error {
	if err := os.WriteFile(path, []byte(r.Text(0)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
