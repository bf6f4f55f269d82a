package track

import (
	"math"
	"testing"
	"time"
)

var testStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func completed(name string, d time.Duration) CompletedTask {
	return NewTaskAt(name, testStart).CompleteAt(testStart.Add(d))
}

func TestCompletedTaskTime(t *testing.T) {
	ct := completed("build", 90*time.Minute)
	if got := ct.Time(); got != 90*time.Minute {
		t.Fatalf("Time() = %v, want 90m", got)
	}

	backwards := CompletedTask{Name: "odd", Start: testStart, End: testStart.Add(-time.Minute)}
	if got := backwards.Time(); got != -time.Minute {
		t.Fatalf("Time() = %v, want -1m", got)
	}
}

func TestExtendPushesEndOnly(t *testing.T) {
	first := completed("review", 30*time.Minute)
	second := NewTaskAt("review", testStart.Add(2*time.Hour)).CompleteAt(testStart.Add(2*time.Hour + 15*time.Minute))

	first.Extend(second)

	if !first.Start.Equal(testStart) {
		t.Fatalf("Start moved to %v", first.Start)
	}
	if got := first.Time(); got != 45*time.Minute {
		t.Fatalf("Time() after Extend = %v, want 45m", got)
	}
	if first.Name != "review" {
		t.Fatalf("Name changed to %q", first.Name)
	}
}

func TestExtendChains(t *testing.T) {
	ct := completed("poll", 10*time.Millisecond)
	ct.Extend(completed("poll", 5*time.Millisecond))
	ct.Extend(completed("poll", 20*time.Millisecond))

	if got := ct.Time(); got != 35*time.Millisecond {
		t.Fatalf("Time() after two extends = %v, want 35ms", got)
	}
	if !ct.Start.Equal(testStart) {
		t.Fatalf("Start moved to %v", ct.Start)
	}
}

func TestPercentOfOwnTimeIsFull(t *testing.T) {
	for _, d := range []time.Duration{time.Microsecond, time.Second, 7 * time.Hour, 400 * 24 * time.Hour} {
		ct := completed("solo", d)
		if got := ct.PercentOf(ct.Time()); math.Abs(got-100) > 0.01 {
			t.Fatalf("PercentOf(own time) for %v = %v, want ~100", d, got)
		}
	}
}

func TestPercentOfMicrosecondPrecision(t *testing.T) {
	// 1500us of 1s is 0.15%; a millisecond-based division would say 0.10%.
	ct := completed("tiny", 1500*time.Microsecond)
	if got := ct.PercentOf(time.Second); got != 0.15 {
		t.Fatalf("PercentOf = %v, want 0.15", got)
	}
}

func TestPercentOfHugeDurations(t *testing.T) {
	// Microsecond counts beyond 2^53 are not exact in float64; the
	// division falls back to milliseconds and must still come out right.
	huge := time.Duration(9_100_000_000_000_000) * time.Microsecond
	ct := completed("era", huge/2)
	got := ct.PercentOf(huge)
	if math.Abs(got-50) > 0.01 {
		t.Fatalf("PercentOf = %v, want ~50", got)
	}
}

func TestPercentOfZeroTotal(t *testing.T) {
	ct := completed("work", time.Minute)
	if got := ct.PercentOf(0); !math.IsInf(got, 1) {
		t.Fatalf("PercentOf(0) = %v, want +Inf", got)
	}
	empty := completed("idle", 0)
	if got := empty.PercentOf(0); !math.IsNaN(got) {
		t.Fatalf("PercentOf(0) with zero duration = %v, want NaN", got)
	}
}

func TestCompare(t *testing.T) {
	short := completed("a", time.Minute)
	long := completed("b", time.Hour)
	same := completed("c", time.Minute)

	if got := short.Compare(long); got != -1 {
		t.Errorf("short.Compare(long) = %d, want -1", got)
	}
	if got := long.Compare(short); got != 1 {
		t.Errorf("long.Compare(short) = %d, want 1", got)
	}
	if got := short.Compare(same); got != 0 {
		t.Errorf("short.Compare(same) = %d, want 0", got)
	}
}

func TestEqual(t *testing.T) {
	a := completed("task", time.Hour)
	b := completed("task", time.Hour)
	if !a.Equal(b) {
		t.Fatal("identical tasks reported unequal")
	}
	c := completed("other", time.Hour)
	if a.Equal(c) {
		t.Fatal("tasks with different names reported equal")
	}
	// Same instant in another zone still compares equal.
	d := b
	d.Start = b.Start.In(time.FixedZone("X", 3600))
	d.End = b.End.In(time.FixedZone("X", 3600))
	if !a.Equal(d) {
		t.Fatal("same instants in different zones reported unequal")
	}
}
