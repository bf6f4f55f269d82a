package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"timeledger/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var parent sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Start, &parent, &p.Position, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if parent.Valid {
		p.ParentID = &parent.String
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,start,parent_id,position,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.Start, nullableStringPtr(p.ParentID), p.Position, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,start,parent_id,position,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,start,parent_id,position,created_at FROM projects WHERE name=?`, name))
}

func (r Repo) GetProjectByNameTx(ctx context.Context, tx *sql.Tx, name string) (domain.Project, error) {
	var p domain.Project
	var parent sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,name,start,parent_id,position,created_at FROM projects WHERE name=?`, name).
		Scan(&p.ID, &p.Name, &p.Start, &parent, &p.Position, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if parent.Valid {
		p.ParentID = &parent.String
	}
	return p, err
}

// SingleRootProject returns the only root project, so commands can omit
// --project in single-project workspaces.
func (r Repo) SingleRootProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListRootProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListRootProjects(ctx context.Context) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT id,name,start,parent_id,position,created_at FROM projects WHERE parent_id IS NULL ORDER BY created_at, id`)
}

func (r Repo) ListChildProjects(ctx context.Context, parentID string) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT id,name,start,parent_id,position,created_at FROM projects WHERE parent_id=? ORDER BY position, id`, parentID)
}

func (r Repo) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var parent sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Start, &parent, &p.Position, &p.CreatedAt); err != nil {
			return nil, err
		}
		if parent.Valid {
			p.ParentID = &parent.String
		}
		res = append(res, p)
	}
	return res, nil
}

// ReparentProject moves a project under a new parent at the given child
// position. Absorption is the only caller.
func (r Repo) ReparentProject(ctx context.Context, tx *sql.Tx, id, parentID string, position int) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET parent_id=?, position=? WHERE id=?`, parentID, position, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) NextChildPosition(ctx context.Context, tx *sql.Tx, parentID string) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM projects WHERE parent_id=?`, parentID).Scan(&pos)
	return pos, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.TaskRow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,name,start,"end",position) VALUES (?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Name, t.Start, t.End, t.Position)
	return err
}

// ListTasks returns the project's completed tasks in insertion order.
func (r Repo) ListTasks(ctx context.Context, projectID string) ([]domain.TaskRow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,start,"end",position FROM tasks WHERE project_id=? ORDER BY position, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRow
	for rows.Next() {
		var t domain.TaskRow
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Start, &t.End, &t.Position); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.TaskRow, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,project_id,name,start,"end",position FROM tasks WHERE project_id=? ORDER BY position, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRow
	for rows.Next() {
		var t domain.TaskRow
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Start, &t.End, &t.Position); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// FirstTaskByName returns the earliest-inserted task with exactly the
// given name. Merging extends this one and leaves later same-name rows
// untouched.
func (r Repo) FirstTaskByName(ctx context.Context, tx *sql.Tx, projectID, name string) (domain.TaskRow, error) {
	var t domain.TaskRow
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,name,start,"end",position FROM tasks WHERE project_id=? AND name=? ORDER BY position, id LIMIT 1`, projectID, name).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.Start, &t.End, &t.Position)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) SetTaskEnd(ctx context.Context, tx *sql.Tx, id, end string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET "end"=? WHERE id=?`, end, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) NextTaskPosition(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM tasks WHERE project_id=?`, projectID).Scan(&pos)
	return pos, err
}

func (r Repo) InsertSession(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,project_id,name,start) VALUES (?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, s.Start)
	return err
}

func (r Repo) GetSession(ctx context.Context, tx *sql.Tx, projectID, name string) (domain.Session, error) {
	var s domain.Session
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,name,start FROM sessions WHERE project_id=? AND name=?`, projectID, name).
		Scan(&s.ID, &s.ProjectID, &s.Name, &s.Start)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) DeleteSession(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	return err
}

func (r Repo) ListSessions(ctx context.Context, projectID string) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,name,start FROM sessions WHERE project_id=? ORDER BY start, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Start); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_id,actor,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in
// ascending order. The webhook dispatcher pages with it.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_id,actor,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &entityID, &e.Actor, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
