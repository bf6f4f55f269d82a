package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"timeledger/internal/config"
	"timeledger/internal/domain"
	"timeledger/internal/events"
	"timeledger/internal/repo"
	"timeledger/internal/track"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(domain.TimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func rowToCompleted(row domain.TaskRow) (track.CompletedTask, error) {
	start, err := parseTime(row.Start)
	if err != nil {
		return track.CompletedTask{}, err
	}
	end, err := parseTime(row.End)
	if err != nil {
		return track.CompletedTask{}, err
	}
	return track.CompletedTask{Name: row.Name, Start: start, End: end}, nil
}

// InitProject creates a new root project with migrations already run.
func (e Engine) InitProject(ctx context.Context, name, actor string) (domain.Project, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Project{}, errors.New("project name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectByNameTx(ctx, tx, name); err == nil {
		return domain.Project{}, fmt.Errorf("project %q already exists", name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	now := e.now().UTC()
	p := domain.Project{
		ID:        uuid.NewString(),
		Name:      name,
		Start:     now.Format(domain.TimeFormat),
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, p.ID, actor, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Begin starts a work session on the project. A project holds at most one
// open session per task name.
func (e Engine) Begin(ctx context.Context, projectID, name, actor string) (domain.Session, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Session{}, errors.New("task name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetSession(ctx, tx, projectID, name); err == nil {
		return domain.Session{}, fmt.Errorf("task %q already begun", name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, err
	}
	s := domain.Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Start:     e.now().UTC().Format(domain.TimeFormat),
	}
	if err := e.Repo.InsertSession(ctx, tx, s); err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskBegun, projectID, s.ID, actor, events.EventPayload{"name": name}); err != nil {
		return domain.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// Finish closes the open session and records the completed task. With
// merge the task folds into the first existing row of the same name
// instead of appending; matching is case-sensitive.
func (e Engine) Finish(ctx context.Context, projectID, name string, merge bool, actor string) (domain.TaskRow, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskRow{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSession(ctx, tx, projectID, name)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TaskRow{}, fmt.Errorf("task %q not begun: %w", name, err)
		}
		return domain.TaskRow{}, err
	}
	if err := e.Repo.DeleteSession(ctx, tx, s.ID); err != nil {
		return domain.TaskRow{}, err
	}
	start, err := parseTime(s.Start)
	if err != nil {
		return domain.TaskRow{}, err
	}
	done := track.NewTaskAt(s.Name, start).CompleteAt(e.now().UTC())
	row, merged, err := e.recordCompleted(ctx, tx, projectID, done, merge)
	if err != nil {
		return domain.TaskRow{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskFinished, projectID, row.ID, actor, events.EventPayload{
		"name":   name,
		"merged": merged,
	}); err != nil {
		return domain.TaskRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskRow{}, err
	}
	return row, nil
}

// Log records a task that took d, ending now. No session is involved.
func (e Engine) Log(ctx context.Context, projectID, name string, d time.Duration, merge bool, actor string) (domain.TaskRow, error) {
	if strings.TrimSpace(name) == "" {
		return domain.TaskRow{}, errors.New("task name is required")
	}
	if d <= 0 {
		return domain.TaskRow{}, errors.New("duration must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskRow{}, err
	}
	defer tx.Rollback()

	end := e.now().UTC()
	done := track.NewTaskAt(name, end.Add(-d)).CompleteAt(end)
	row, merged, err := e.recordCompleted(ctx, tx, projectID, done, merge)
	if err != nil {
		return domain.TaskRow{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskLogged, projectID, row.ID, actor, events.EventPayload{
		"name":     name,
		"duration": d.String(),
		"merged":   merged,
	}); err != nil {
		return domain.TaskRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskRow{}, err
	}
	return row, nil
}

// recordCompleted appends the completed task, or extends the first row of
// the same name when merge is set. A merged row keeps its own start and
// name; only its end moves out by the new task's duration.
func (e Engine) recordCompleted(ctx context.Context, tx *sql.Tx, projectID string, done track.CompletedTask, merge bool) (domain.TaskRow, bool, error) {
	if merge {
		existing, err := e.Repo.FirstTaskByName(ctx, tx, projectID, done.Name)
		switch {
		case err == nil:
			ct, err := rowToCompleted(existing)
			if err != nil {
				return domain.TaskRow{}, false, err
			}
			ct.Extend(done)
			existing.End = ct.End.Format(domain.TimeFormat)
			if err := e.Repo.SetTaskEnd(ctx, tx, existing.ID, existing.End); err != nil {
				return domain.TaskRow{}, false, err
			}
			return existing, true, nil
		case !errors.Is(err, repo.ErrNotFound):
			return domain.TaskRow{}, false, err
		}
	}
	pos, err := e.Repo.NextTaskPosition(ctx, tx, projectID)
	if err != nil {
		return domain.TaskRow{}, false, err
	}
	row := domain.TaskRow{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      done.Name,
		Start:     done.Start.Format(domain.TimeFormat),
		End:       done.End.Format(domain.TimeFormat),
		Position:  pos,
	}
	if err := e.Repo.InsertTask(ctx, tx, row); err != nil {
		return domain.TaskRow{}, false, fmt.Errorf("insert task: %w", err)
	}
	return row, false, nil
}

// Absorb folds the child project into the parent: the child's total time
// is appended to the parent as one synthetic task row, and the child is
// re-parented under it. Only root projects can be absorbed, so a project
// never ends up under two parents.
func (e Engine) Absorb(ctx context.Context, parentID, childID, actor string) (domain.TaskRow, error) {
	if parentID == childID {
		return domain.TaskRow{}, errors.New("project cannot absorb itself")
	}
	parent, err := e.Repo.GetProject(ctx, parentID)
	if err != nil {
		return domain.TaskRow{}, err
	}
	child, err := e.Repo.GetProject(ctx, childID)
	if err != nil {
		return domain.TaskRow{}, err
	}
	if child.ParentID != nil {
		return domain.TaskRow{}, fmt.Errorf("project %q is already absorbed", child.Name)
	}
	// climb up from the parent; absorbing an ancestor would loop the
	// hierarchy
	for cur := parent.ParentID; cur != nil; {
		if *cur == childID {
			return domain.TaskRow{}, errors.New("project hierarchy cycle detected")
		}
		p, err := e.Repo.GetProject(ctx, *cur)
		if err != nil {
			return domain.TaskRow{}, err
		}
		cur = p.ParentID
	}
	childTracker, err := e.Tracker(ctx, childID)
	if err != nil {
		return domain.TaskRow{}, err
	}
	synthetic := childTracker.AsCompletedTask()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskRow{}, err
	}
	defer tx.Rollback()

	pos, err := e.Repo.NextTaskPosition(ctx, tx, parentID)
	if err != nil {
		return domain.TaskRow{}, err
	}
	row := domain.TaskRow{
		ID:        uuid.NewString(),
		ProjectID: parentID,
		Name:      synthetic.Name,
		Start:     synthetic.Start.Format(domain.TimeFormat),
		End:       synthetic.End.Format(domain.TimeFormat),
		Position:  pos,
	}
	if err := e.Repo.InsertTask(ctx, tx, row); err != nil {
		return domain.TaskRow{}, fmt.Errorf("insert synthetic task: %w", err)
	}
	childPos, err := e.Repo.NextChildPosition(ctx, tx, parentID)
	if err != nil {
		return domain.TaskRow{}, err
	}
	if err := e.Repo.ReparentProject(ctx, tx, childID, parentID, childPos); err != nil {
		return domain.TaskRow{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectAbsorbed, parentID, childID, actor, events.EventPayload{
		"child":      child.Name,
		"total_time": synthetic.Time().String(),
	}); err != nil {
		return domain.TaskRow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskRow{}, err
	}
	return row, nil
}

// Tracker materializes the project and everything absorbed into it. Task
// rows already include the synthetic rows written by Absorb, so totals
// come out right without recursing here.
func (e Engine) Tracker(ctx context.Context, projectID string) (track.TimeTracker, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return track.TimeTracker{}, err
	}
	return e.trackerFor(ctx, p)
}

func (e Engine) trackerFor(ctx context.Context, p domain.Project) (track.TimeTracker, error) {
	start, err := parseTime(p.Start)
	if err != nil {
		return track.TimeTracker{}, err
	}
	t := track.NewTrackerAt(p.Name, start)
	rows, err := e.Repo.ListTasks(ctx, p.ID)
	if err != nil {
		return track.TimeTracker{}, err
	}
	for _, row := range rows {
		ct, err := rowToCompleted(row)
		if err != nil {
			return track.TimeTracker{}, err
		}
		t.Tasks = append(t.Tasks, ct)
	}
	children, err := e.Repo.ListChildProjects(ctx, p.ID)
	if err != nil {
		return track.TimeTracker{}, err
	}
	for _, child := range children {
		sub, err := e.trackerFor(ctx, child)
		if err != nil {
			return track.TimeTracker{}, err
		}
		t.SubTrackers = append(t.SubTrackers, sub)
	}
	return t, nil
}

// RenderReport returns the project's markdown report.
func (e Engine) RenderReport(ctx context.Context, projectID string) (string, error) {
	t, err := e.Tracker(ctx, projectID)
	if err != nil {
		return "", err
	}
	return track.NewReport(t).Text(0), nil
}

// WriteReport renders the project's report into the file at path.
func (e Engine) WriteReport(ctx context.Context, projectID, path, actor string) error {
	t, err := e.Tracker(ctx, projectID)
	if err != nil {
		return err
	}
	if err := t.Write(path); err != nil {
		return err
	}
	return e.appendEvent(ctx, events.ReportWritten, projectID, "", actor, events.EventPayload{"path": path})
}

// SaveSnapshot writes the project's JSON snapshot into dir and returns
// the file path.
func (e Engine) SaveSnapshot(ctx context.Context, projectID, dir, actor string) (string, error) {
	t, err := e.Tracker(ctx, projectID)
	if err != nil {
		return "", err
	}
	if err := t.Save(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, t.Name+".json")
	if err := e.appendEvent(ctx, events.SnapshotSaved, projectID, "", actor, events.EventPayload{"path": path}); err != nil {
		return "", err
	}
	return path, nil
}

// ImportSnapshot loads a snapshot file written by SaveSnapshot and
// recreates the project hierarchy, synthetic task rows included.
func (e Engine) ImportSnapshot(ctx context.Context, path, actor string) (domain.Project, error) {
	t, err := track.Load(path)
	if err != nil {
		return domain.Project{}, err
	}
	if strings.TrimSpace(t.Name) == "" {
		return domain.Project{}, errors.New("snapshot has no project name")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectByNameTx(ctx, tx, t.Name); err == nil {
		return domain.Project{}, fmt.Errorf("project %q already exists", t.Name)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	p, err := e.importTracker(ctx, tx, t, nil, 0)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SnapshotLoaded, p.ID, p.ID, actor, events.EventPayload{
		"name": p.Name,
		"path": path,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) importTracker(ctx context.Context, tx *sql.Tx, t track.TimeTracker, parentID *string, position int) (domain.Project, error) {
	p := domain.Project{
		ID:        uuid.NewString(),
		Name:      t.Name,
		Start:     t.Start.Format(domain.TimeFormat),
		ParentID:  parentID,
		Position:  position,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project %q: %w", t.Name, err)
	}
	for i, task := range t.Tasks {
		row := domain.TaskRow{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			Name:      task.Name,
			Start:     task.Start.Format(domain.TimeFormat),
			End:       task.End.Format(domain.TimeFormat),
			Position:  i + 1,
		}
		if err := e.Repo.InsertTask(ctx, tx, row); err != nil {
			return domain.Project{}, fmt.Errorf("insert task %q: %w", task.Name, err)
		}
	}
	for i, sub := range t.SubTrackers {
		if _, err := e.importTracker(ctx, tx, sub, &p.ID, i+1); err != nil {
			return domain.Project{}, err
		}
	}
	return p, nil
}

// SessionStatus is an open session with its elapsed time so far.
type SessionStatus struct {
	Session domain.Session `json:"session"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Status returns the project's open sessions with elapsed times.
func (e Engine) Status(ctx context.Context, projectID string) ([]SessionStatus, error) {
	sessions, err := e.Repo.ListSessions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	var res []SessionStatus
	for _, s := range sessions {
		start, err := parseTime(s.Start)
		if err != nil {
			return nil, err
		}
		res = append(res, SessionStatus{Session: s, Elapsed: now.Sub(start)})
	}
	return res, nil
}

// CreateToken mints an API token and stores its hash. The raw token is
// returned once and never persisted.
func (e Engine) CreateToken(ctx context.Context, name, actor string) (string, domain.APIToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIToken{}, err
	}
	raw := hex.EncodeToString(buf)
	t := domain.APIToken{
		ID:        uuid.NewString(),
		Name:      name,
		TokenHash: repo.HashToken(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIToken{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertToken(ctx, tx, t); err != nil {
		return "", domain.APIToken{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TokenCreated, "", t.ID, actor, events.EventPayload{"name": name}); err != nil {
		return "", domain.APIToken{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIToken{}, err
	}
	return raw, t, nil
}

// RevokeToken deletes an API token by ID.
func (e Engine) RevokeToken(ctx context.Context, id, actor string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteToken(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TokenRevoked, "", id, actor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendEvent(ctx context.Context, evtType, projectID, entityID, actor string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, projectID, entityID, actor, payload); err != nil {
		return err
	}
	return tx.Commit()
}
