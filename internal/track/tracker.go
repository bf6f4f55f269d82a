package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TimeTracker is a named project ledger: an ordered list of completed
// tasks plus the sub-projects folded into it. Trackers are plain values;
// use Clone for an independent copy.
type TimeTracker struct {
	Name        string          `json:"name"`
	Tasks       []CompletedTask `json:"tasks"`
	SubTrackers []TimeTracker   `json:"sub_trackers"`
	Start       time.Time       `json:"start"`
}

// NewTracker creates a tracker starting now.
func NewTracker(name string) TimeTracker {
	return NewTrackerAt(name, time.Now())
}

// NewTrackerAt creates a tracker with an explicit start instant.
func NewTrackerAt(name string, start time.Time) TimeTracker {
	return TimeTracker{
		Name:        name,
		Tasks:       []CompletedTask{},
		SubTrackers: []TimeTracker{},
		Start:       start,
	}
}

// AddCompletedTask completes the task now and appends it.
func (t *TimeTracker) AddCompletedTask(task Task) {
	t.AddCompletedTaskAt(task, time.Now())
}

// AddCompletedTaskAt completes the task at an explicit instant and
// appends it.
func (t *TimeTracker) AddCompletedTaskAt(task Task, end time.Time) {
	t.Tasks = append(t.Tasks, task.CompleteAt(end))
}

// AddOrExtendCompletedTask completes the task now and merges it into the
// first existing task carrying exactly the same name, appending when
// there is none. Matching is case-sensitive; the scan runs in insertion
// order.
func (t *TimeTracker) AddOrExtendCompletedTask(task Task) {
	t.AddOrExtendCompletedTaskAt(task, time.Now())
}

// AddOrExtendCompletedTaskAt is AddOrExtendCompletedTask with an explicit
// end instant.
func (t *TimeTracker) AddOrExtendCompletedTaskAt(task Task, end time.Time) {
	done := task.CompleteAt(end)
	for i := range t.Tasks {
		if t.Tasks[i].Name == done.Name {
			t.Tasks[i].Extend(done)
			return
		}
	}
	t.Tasks = append(t.Tasks, done)
}

// Extend absorbs another tracker: its total time is appended as one
// synthetic completed task, and the tracker itself is retained as a
// sub-tracker. Both happen on every call. The sub-tracker is stored as a
// deep copy, so mutating other afterwards does not reach it.
func (t *TimeTracker) Extend(other TimeTracker) {
	t.Tasks = append(t.Tasks, other.AsCompletedTask())
	t.SubTrackers = append(t.SubTrackers, other.Clone())
}

// AsCompletedTask summarizes the tracker as a single completed task: the
// tracker's name and start, with the end pushed out by its total time.
func (t TimeTracker) AsCompletedTask() CompletedTask {
	return CompletedTask{Name: t.Name, Start: t.Start, End: t.Start.Add(t.TotalTime())}
}

// TotalTime sums the durations of the direct tasks. Sub-tracker time is
// already mirrored by the synthetic task Extend appends, so this never
// recurses into SubTrackers.
func (t TimeTracker) TotalTime() time.Duration {
	var total time.Duration
	for _, task := range t.Tasks {
		total += task.Time()
	}
	return total
}

// SlowestTask returns the longest direct task, or false when there are no
// tasks. When several tasks share the maximum duration the last of them
// wins.
func (t TimeTracker) SlowestTask() (CompletedTask, bool) {
	if len(t.Tasks) == 0 {
		return CompletedTask{}, false
	}
	slowest := t.Tasks[0]
	for _, task := range t.Tasks[1:] {
		if task.Compare(slowest) >= 0 {
			slowest = task
		}
	}
	return slowest, true
}

// Clone returns a deep, independent copy of the tracker.
func (t TimeTracker) Clone() TimeTracker {
	out := t
	out.Tasks = make([]CompletedTask, len(t.Tasks))
	copy(out.Tasks, t.Tasks)
	out.SubTrackers = make([]TimeTracker, 0, len(t.SubTrackers))
	for _, sub := range t.SubTrackers {
		out.SubTrackers = append(out.SubTrackers, sub.Clone())
	}
	return out
}

// Save writes the tracker snapshot as <name>.json inside dir: the full
// recursive structure, decodable again with Load.
func (t TimeTracker) Save(dir string) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, t.Name+".json"), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Write renders the tracker's report into the file at path.
func (t TimeTracker) Write(path string) error {
	return NewReport(t).Write(path)
}

// Load decodes a snapshot file written by Save.
func Load(path string) (TimeTracker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TimeTracker{}, fmt.Errorf("read snapshot: %w", err)
	}
	var t TimeTracker
	if err := json.Unmarshal(data, &t); err != nil {
		return TimeTracker{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return t, nil
}
