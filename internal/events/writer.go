package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProjectCreated  = "project_created"
	TaskBegun       = "task_begun"
	TaskFinished    = "task_finished"
	TaskLogged      = "task_logged"
	ProjectAbsorbed = "project_absorbed"
	SnapshotSaved   = "snapshot_saved"
	SnapshotLoaded  = "snapshot_loaded"
	ReportWritten   = "report_written"
	TokenCreated    = "token_created"
	TokenRevoked    = "token_revoked"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityID, actor string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), nullable(entityID), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
