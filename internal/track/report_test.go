package track

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func reportTracker() TimeTracker {
	tr := NewTrackerAt("app", testStart)
	tr.AddCompletedTaskAt(NewTaskAt("design", testStart), testStart.Add(90*time.Minute))
	tr.AddCompletedTaskAt(NewTaskAt("review", testStart), testStart.Add(30*time.Minute))
	return tr
}

func TestReportText(t *testing.T) {
	out := NewReport(reportTracker()).Text(0)

	if !strings.HasPrefix(out, "# Time Report for app\n\n") {
		t.Fatalf("report does not open with the level-1 heading:\n%s", out)
	}
	if !strings.Contains(out, "The total time spent on all tasks was about 2 hours.") {
		t.Errorf("missing total-time sentence:\n%s", out)
	}
	if !strings.Contains(out, "The slowest task was `design` which took 1 hour and 30 minutes (75.00% of all time).") {
		t.Errorf("missing slowest-task sentence:\n%s", out)
	}
	if !strings.Contains(out, "| design | 1 hour and 30 minutes | 75.00% |") {
		t.Errorf("missing design row:\n%s", out)
	}
	if !strings.Contains(out, "| review | 30 minutes | 25.00% |") {
		t.Errorf("missing review row:\n%s", out)
	}
}

func TestReportNestsSubTrackers(t *testing.T) {
	tr := reportTracker()
	sub := NewTrackerAt("lib", testStart)
	sub.AddCompletedTaskAt(NewTaskAt("proto", testStart), testStart.Add(time.Hour))
	tr.Extend(sub)

	out := NewReport(tr).Text(0)
	if !strings.Contains(out, "## Time Report for lib\n") {
		t.Fatalf("sub-tracker missing or at the wrong heading level:\n%s", out)
	}
	if strings.Index(out, "# Time Report for app") > strings.Index(out, "## Time Report for lib") {
		t.Fatal("parent section should precede the child section")
	}
}

func TestReportHeadingDepthCapped(t *testing.T) {
	// Nest eight levels deep; markdown headings stop at six hashes.
	inner := NewTrackerAt("level8", testStart)
	inner.AddCompletedTaskAt(NewTaskAt("work", testStart), testStart.Add(time.Minute))
	for i := 7; i >= 1; i-- {
		wrap := NewTrackerAt("level"+string(rune('0'+i)), testStart)
		wrap.Extend(inner)
		inner = wrap
	}

	out := NewReport(inner).Text(0)
	if strings.Contains(out, "#######") {
		t.Fatalf("heading deeper than level 6 rendered:\n%s", out)
	}
	if got := strings.Count(out, "###### Time Report for"); got != 3 {
		t.Fatalf("levels 6, 7 and 8 should all render six hashes, got %d", got)
	}
}

func TestReportEmptyTracker(t *testing.T) {
	out := NewReport(NewTrackerAt("empty", testStart)).Text(0)
	if !strings.Contains(out, "The total time spent on all tasks was less than a second.") {
		t.Errorf("unexpected total sentence:\n%s", out)
	}
	if strings.Contains(out, "The slowest task was") {
		t.Errorf("slowest sentence rendered for an empty tracker:\n%s", out)
	}
}

func TestReportSnapshotsTracker(t *testing.T) {
	tr := reportTracker()
	r := NewReport(tr)
	tr.AddCompletedTaskAt(NewTaskAt("late", testStart), testStart.Add(time.Hour))
	if strings.Contains(r.Text(0), "late") {
		t.Fatal("mutating the tracker after NewReport reached the report")
	}
}

func TestReportWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	r := NewReport(reportTracker())
	if err := r.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != r.Text(0)+"\n" {
		t.Fatal("file content is not Text(0) plus a trailing newline")
	}
}
