package track

import "time"

// Task is a started, not yet finished unit of work.
type Task struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// NewTask starts a task now.
func NewTask(name string) Task {
	return NewTaskAt(name, time.Now())
}

// NewTaskAt starts a task at an explicit instant. Callers that hold a
// clock (the engine, tests) use this instead of NewTask.
func NewTaskAt(name string, start time.Time) Task {
	return Task{Name: name, Start: start}
}

// Complete finishes the task now.
func (t Task) Complete() CompletedTask {
	return t.CompleteAt(time.Now())
}

// CompleteAt finishes the task at an explicit instant.
func (t Task) CompleteAt(end time.Time) CompletedTask {
	return CompletedTask{Name: t.Name, Start: t.Start, End: end}
}

// CompletedTask is a finished unit of work. End is expected to be at or
// after Start but is never validated; Time is simply negative when it is
// not.
type CompletedTask struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Time returns the task duration, End minus Start.
func (t CompletedTask) Time() time.Duration {
	return t.End.Sub(t.Start)
}

// Extend pushes End out by the other task's duration. Name and Start are
// untouched, so two measurements merge under one name.
func (t *CompletedTask) Extend(other CompletedTask) {
	t.End = t.End.Add(other.Time())
}

// maxExactMicros is the largest microsecond count float64 represents
// exactly (2^53).
const maxExactMicros = int64(1) << 53

// PercentOf returns 100 * Time() / total. The division runs on
// microseconds when both magnitudes are exact in float64 and falls back to
// milliseconds otherwise. A zero total divides by zero: the result is
// ±Inf, or NaN when the task duration is zero too. Values above 100 are
// legal, total is whatever the caller says it is.
func (t CompletedTask) PercentOf(total time.Duration) float64 {
	us, totalUS := t.Time().Microseconds(), total.Microseconds()
	if exactInFloat64(us) && exactInFloat64(totalUS) {
		return float64(us) / float64(totalUS) * 100
	}
	return float64(t.Time().Milliseconds()) / float64(total.Milliseconds()) * 100
}

func exactInFloat64(v int64) bool {
	if v < 0 {
		v = -v
	}
	return v <= maxExactMicros
}

// Compare orders tasks by duration: -1 when t is shorter than other, 0
// when equal, +1 when longer.
func (t CompletedTask) Compare(other CompletedTask) int {
	d, od := t.Time(), other.Time()
	switch {
	case d < od:
		return -1
	case d > od:
		return 1
	default:
		return 0
	}
}

// Equal reports whether both tasks carry the same name and the same start
// and end instants.
func (t CompletedTask) Equal(other CompletedTask) bool {
	return t.Name == other.Name && t.Start.Equal(other.Start) && t.End.Equal(other.End)
}
