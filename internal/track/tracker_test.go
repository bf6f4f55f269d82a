package track

import (
	"testing"
	"time"
)

func TestAddOrExtendMergesFirstMatch(t *testing.T) {
	tr := NewTrackerAt("app", testStart)
	tr.AddCompletedTaskAt(NewTaskAt("Review", testStart), testStart.Add(10*time.Minute))
	tr.AddCompletedTaskAt(NewTaskAt("Build", testStart), testStart.Add(5*time.Minute))
	tr.AddCompletedTaskAt(NewTaskAt("Review", testStart), testStart.Add(20*time.Minute))

	later := testStart.Add(time.Hour)
	tr.AddOrExtendCompletedTaskAt(NewTaskAt("Review", later), later.Add(15*time.Minute))

	if len(tr.Tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tr.Tasks))
	}
	// Only the first "Review" row grows.
	if got := tr.Tasks[0].Time(); got != 25*time.Minute {
		t.Errorf("first row = %v, want 25m", got)
	}
	if !tr.Tasks[0].Start.Equal(testStart) {
		t.Errorf("first row start moved to %v", tr.Tasks[0].Start)
	}
	if got := tr.Tasks[2].Time(); got != 20*time.Minute {
		t.Errorf("third row = %v, want 20m", got)
	}
}

func TestAddOrExtendIsCaseSensitive(t *testing.T) {
	tr := NewTrackerAt("app", testStart)
	tr.AddCompletedTaskAt(NewTaskAt("review", testStart), testStart.Add(10*time.Minute))
	tr.AddOrExtendCompletedTaskAt(NewTaskAt("Review", testStart), testStart.Add(5*time.Minute))

	if len(tr.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 ('review' and 'Review' are distinct)", len(tr.Tasks))
	}
}

func TestExtendAppendsSyntheticAndKeepsSubTracker(t *testing.T) {
	parent := NewTrackerAt("app", testStart)
	parent.AddCompletedTaskAt(NewTaskAt("design", testStart), testStart.Add(time.Hour))

	child := NewTrackerAt("lib", testStart)
	child.AddCompletedTaskAt(NewTaskAt("proto", testStart), testStart.Add(30*time.Minute))

	parent.Extend(child)

	if len(parent.Tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(parent.Tasks))
	}
	synthetic := parent.Tasks[1]
	if !synthetic.Equal(child.AsCompletedTask()) {
		t.Errorf("synthetic task %+v does not summarize the child", synthetic)
	}
	if synthetic.Time() != 30*time.Minute {
		t.Errorf("synthetic duration = %v, want 30m", synthetic.Time())
	}
	if len(parent.SubTrackers) != 1 || parent.SubTrackers[0].Name != "lib" {
		t.Fatalf("sub-trackers = %+v, want one named lib", parent.SubTrackers)
	}

	// The stored sub-tracker is a deep copy.
	child.AddCompletedTaskAt(NewTaskAt("late", testStart), testStart.Add(time.Hour))
	if len(parent.SubTrackers[0].Tasks) != 1 {
		t.Fatal("mutating the child after Extend reached the stored copy")
	}
}

func TestTotalTimeDoesNotRecurse(t *testing.T) {
	parent := NewTrackerAt("app", testStart)
	parent.AddCompletedTaskAt(NewTaskAt("design", testStart), testStart.Add(time.Hour))

	child := NewTrackerAt("lib", testStart)
	child.AddCompletedTaskAt(NewTaskAt("proto", testStart), testStart.Add(30*time.Minute))
	parent.Extend(child)

	// The synthetic task already carries the child's 30m; counting the
	// sub-tracker again would report 2h.
	if got := parent.TotalTime(); got != 90*time.Minute {
		t.Fatalf("TotalTime = %v, want 1h30m", got)
	}
}

func TestSlowestTaskLastMaxWins(t *testing.T) {
	tr := NewTrackerAt("app", testStart)
	if _, ok := tr.SlowestTask(); ok {
		t.Fatal("empty tracker reported a slowest task")
	}

	tr.AddCompletedTaskAt(NewTaskAt("first", testStart), testStart.Add(time.Hour))
	tr.AddCompletedTaskAt(NewTaskAt("short", testStart), testStart.Add(time.Minute))
	tr.AddCompletedTaskAt(NewTaskAt("second", testStart), testStart.Add(time.Hour))

	slowest, ok := tr.SlowestTask()
	if !ok {
		t.Fatal("no slowest task found")
	}
	if slowest.Name != "second" {
		t.Fatalf("slowest = %q, want the later of the tied tasks", slowest.Name)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tr := NewTrackerAt("app", testStart)
	tr.AddCompletedTaskAt(NewTaskAt("a", testStart), testStart.Add(time.Minute))
	sub := NewTrackerAt("lib", testStart)
	sub.AddCompletedTaskAt(NewTaskAt("b", testStart), testStart.Add(time.Minute))
	tr.Extend(sub)

	clone := tr.Clone()
	clone.Tasks[0].Name = "mutated"
	clone.SubTrackers[0].Tasks[0].Name = "mutated"

	if tr.Tasks[0].Name != "a" || tr.SubTrackers[0].Tasks[0].Name != "b" {
		t.Fatal("mutating the clone reached the original")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tr := NewTrackerAt("app", testStart)
	tr.AddCompletedTaskAt(NewTaskAt("design", testStart), testStart.Add(time.Hour))
	sub := NewTrackerAt("lib", testStart)
	sub.AddCompletedTaskAt(NewTaskAt("proto", testStart), testStart.Add(30*time.Minute))
	tr.Extend(sub)

	dir := t.TempDir()
	if err := tr.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir + "/app.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Name != "app" {
		t.Errorf("loaded name = %q", loaded.Name)
	}
	if loaded.TotalTime() != tr.TotalTime() {
		t.Errorf("loaded total = %v, want %v", loaded.TotalTime(), tr.TotalTime())
	}
	if len(loaded.SubTrackers) != 1 || loaded.SubTrackers[0].Name != "lib" {
		t.Errorf("loaded sub-trackers = %+v", loaded.SubTrackers)
	}
	if len(loaded.Tasks) != 2 || !loaded.Tasks[0].Equal(tr.Tasks[0]) {
		t.Errorf("loaded tasks = %+v", loaded.Tasks)
	}
}
