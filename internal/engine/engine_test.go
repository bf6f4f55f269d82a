package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"timeledger/internal/config"
	"timeledger/internal/db"
	"timeledger/internal/domain"
	"timeledger/internal/engine"
	"timeledger/internal/migrate"
	"timeledger/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	now     *time.Time
}

func (env *testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("app"))
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	p, err := eng.InitProject(ctx, "app", "tester")
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	return &testEnv{Engine: eng, Ctx: ctx, Project: p, now: &now}
}

func taskDuration(t *testing.T, row domain.TaskRow) time.Duration {
	t.Helper()
	start, err := time.Parse(domain.TimeFormat, row.Start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	end, err := time.Parse(domain.TimeFormat, row.End)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	return end.Sub(start)
}

func TestBeginFinishRecordsTask(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Begin(env.Ctx, env.Project.ID, "coding", "tester"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	// a second session under the same name must be rejected
	if _, err := env.Engine.Begin(env.Ctx, env.Project.ID, "coding", "tester"); err == nil {
		t.Fatalf("expected duplicate begin error")
	}
	env.advance(90 * time.Minute)
	row, err := env.Engine.Finish(env.Ctx, env.Project.ID, "coding", false, "tester")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got := taskDuration(t, row); got != 90*time.Minute {
		t.Fatalf("duration = %v, want 90m", got)
	}
	rows, err := env.Engine.Repo.ListTasks(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "coding" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	// the session is gone
	if _, err := env.Engine.Finish(env.Ctx, env.Project.ID, "coding", false, "tester"); err == nil {
		t.Fatalf("expected finish without session to fail")
	}
}

func TestFinishMergeExtendsFirstRow(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Log(env.Ctx, env.Project.ID, "review", 10*time.Minute, false, "tester"); err != nil {
		t.Fatalf("log: %v", err)
	}
	firstRows, _ := env.Engine.Repo.ListTasks(env.Ctx, env.Project.ID)
	row, err := env.Engine.Log(env.Ctx, env.Project.ID, "review", 5*time.Minute, true, "tester")
	if err != nil {
		t.Fatalf("log merge: %v", err)
	}
	if got := taskDuration(t, row); got != 15*time.Minute {
		t.Fatalf("merged duration = %v, want 15m", got)
	}
	if row.Start != firstRows[0].Start {
		t.Fatalf("merge changed start: %s != %s", row.Start, firstRows[0].Start)
	}
	rows, _ := env.Engine.Repo.ListTasks(env.Ctx, env.Project.ID)
	if len(rows) != 1 {
		t.Fatalf("expected single merged row, got %d", len(rows))
	}
	// matching is case-sensitive: a different-case name appends
	if _, err := env.Engine.Log(env.Ctx, env.Project.ID, "Review", 1*time.Minute, true, "tester"); err != nil {
		t.Fatalf("log cased: %v", err)
	}
	rows, _ = env.Engine.Repo.ListTasks(env.Ctx, env.Project.ID)
	if len(rows) != 2 {
		t.Fatalf("expected appended row for cased name, got %d", len(rows))
	}
}

func TestLogBackdatesStart(t *testing.T) {
	env := newTestEnv(t)
	row, err := env.Engine.Log(env.Ctx, env.Project.ID, "ops", 45*time.Minute, false, "tester")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	end, _ := time.Parse(domain.TimeFormat, row.End)
	start, _ := time.Parse(domain.TimeFormat, row.Start)
	if !end.Equal(env.now.UTC()) {
		t.Fatalf("end = %v, want now", end)
	}
	if end.Sub(start) != 45*time.Minute {
		t.Fatalf("duration = %v, want 45m", end.Sub(start))
	}
	if _, err := env.Engine.Log(env.Ctx, env.Project.ID, "ops", 0, false, "tester"); err == nil {
		t.Fatalf("expected zero duration rejection")
	}
}

func TestAbsorbAppendsSyntheticAndReparents(t *testing.T) {
	env := newTestEnv(t)
	lib, err := env.Engine.InitProject(env.Ctx, "lib", "tester")
	if err != nil {
		t.Fatalf("init lib: %v", err)
	}
	if _, err := env.Engine.Log(env.Ctx, lib.ID, "api design", 30*time.Minute, false, "tester"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := env.Engine.Log(env.Ctx, env.Project.ID, "coding", 1*time.Hour, false, "tester"); err != nil {
		t.Fatalf("log: %v", err)
	}
	row, err := env.Engine.Absorb(env.Ctx, env.Project.ID, lib.ID, "tester")
	if err != nil {
		t.Fatalf("absorb: %v", err)
	}
	if row.Name != "lib" {
		t.Fatalf("synthetic row name = %q, want lib", row.Name)
	}
	if got := taskDuration(t, row); got != 30*time.Minute {
		t.Fatalf("synthetic duration = %v, want 30m", got)
	}
	child, _ := env.Engine.Repo.GetProject(env.Ctx, lib.ID)
	if child.ParentID == nil || *child.ParentID != env.Project.ID {
		t.Fatalf("child not re-parented: %+v", child)
	}
	tracker, err := env.Engine.Tracker(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	if tracker.TotalTime() != 90*time.Minute {
		t.Fatalf("total = %v, want 90m", tracker.TotalTime())
	}
	if len(tracker.SubTrackers) != 1 || tracker.SubTrackers[0].Name != "lib" {
		t.Fatalf("unexpected sub-trackers: %+v", tracker.SubTrackers)
	}
	// absorbed projects cannot be absorbed again, nor can a project
	// absorb itself
	if _, err := env.Engine.Absorb(env.Ctx, env.Project.ID, lib.ID, "tester"); err == nil {
		t.Fatalf("expected re-absorb rejection")
	}
	if _, err := env.Engine.Absorb(env.Ctx, env.Project.ID, env.Project.ID, "tester"); err == nil {
		t.Fatalf("expected self-absorb rejection")
	}
}

func TestRenderReportNestsAbsorbedProjects(t *testing.T) {
	env := newTestEnv(t)
	lib, _ := env.Engine.InitProject(env.Ctx, "lib", "tester")
	if _, err := env.Engine.Log(env.Ctx, lib.ID, "parsing", 20*time.Minute, false, "tester"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := env.Engine.Absorb(env.Ctx, env.Project.ID, lib.ID, "tester"); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	out, err := env.Engine.RenderReport(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "# Time Report for app\n") {
		t.Fatalf("missing root heading:\n%s", out)
	}
	if !strings.Contains(out, "## Time Report for lib\n") {
		t.Fatalf("missing nested heading:\n%s", out)
	}
}

func TestSnapshotSaveAndImport(t *testing.T) {
	env := newTestEnv(t)
	side, err := env.Engine.InitProject(env.Ctx, "side", "tester")
	if err != nil {
		t.Fatalf("init side: %v", err)
	}
	if _, err := env.Engine.Log(env.Ctx, side.ID, "sketching", 25*time.Minute, false, "tester"); err != nil {
		t.Fatalf("log: %v", err)
	}
	path, err := env.Engine.SaveSnapshot(env.Ctx, side.ID, t.TempDir(), "tester")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// importing into a ledger that already holds the name must fail
	if _, err := env.Engine.ImportSnapshot(env.Ctx, path, "tester"); err == nil {
		t.Fatalf("expected duplicate import rejection")
	}
	other := newTestEnv(t)
	imported, err := other.Engine.ImportSnapshot(other.Ctx, path, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	tracker, err := other.Engine.Tracker(other.Ctx, imported.ID)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	if tracker.Name != "side" || tracker.TotalTime() != 25*time.Minute {
		t.Fatalf("imported tracker = %s %v", tracker.Name, tracker.TotalTime())
	}
}

func TestStatusReportsElapsed(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Begin(env.Ctx, env.Project.ID, "thinking", "tester"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	env.advance(10 * time.Minute)
	statuses, err := env.Engine.Status(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Elapsed != 10*time.Minute {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	raw, tok, err := env.Engine.CreateToken(env.Ctx, "ci", "tester")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected raw token")
	}
	got, err := env.Engine.Repo.GetTokenByHash(env.Ctx, repo.HashToken(raw))
	if err != nil || got.ID != tok.ID {
		t.Fatalf("lookup by hash: %v", err)
	}
	if err := env.Engine.RevokeToken(env.Ctx, tok.ID, "tester"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := env.Engine.RevokeToken(env.Ctx, tok.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventsAppendedOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Begin(env.Ctx, env.Project.ID, "coding", "tester"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	env.advance(time.Minute)
	if _, err := env.Engine.Finish(env.Ctx, env.Project.ID, "coding", false, "tester"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 100, 0, env.Project.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, e := range evts {
		types = append(types, e.Type)
	}
	joined := strings.Join(types, ",")
	for _, want := range []string{"project_created", "task_begun", "task_finished"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %s in %s", want, joined)
		}
	}
	// cursor paging: everything after the last ID is empty
	last := evts[len(evts)-1].ID
	rest, err := env.Engine.Repo.EventsAfter(env.Ctx, 100, last, env.Project.ID)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no events after cursor, got %d", len(rest))
	}
}
