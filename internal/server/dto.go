package server

import (
	"encoding/json"
	"time"

	"timeledger/internal/domain"
	"timeledger/internal/humanize"
)

// Request payloads

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type LogTaskRequest struct {
	Name     string `json:"name"`
	Duration string `json:"duration" example:"1h30m"`
	Merge    bool   `json:"merge,omitempty"`
}

type BeginSessionRequest struct {
	Name string `json:"name"`
}

type FinishSessionRequest struct {
	Merge *bool `json:"merge,omitempty"`
}

type AbsorbRequest struct {
	Child string `json:"child"`
}

// Response payloads

type ProjectResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Start     string  `json:"start" format:"date-time"`
	ParentID  *string `json:"parent_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start" format:"date-time"`
	End       string `json:"end" format:"date-time"`
	Duration  string `json:"duration,omitempty"`
}

type SessionResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start" format:"date-time"`
	Elapsed   string `json:"elapsed,omitempty"`
}

type ProjectDetailResponse struct {
	Project   ProjectResponse   `json:"project"`
	TotalTime string            `json:"total_time"`
	Tasks     []TaskResponse    `json:"tasks"`
	Sessions  []SessionResponse `json:"sessions"`
}

type SlowestTaskResponse struct {
	Name       string  `json:"name"`
	Duration   string  `json:"duration"`
	Percentage float64 `json:"percentage"`
}

type EventResponse struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts" format:"date-time"`
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	EntityID  string          `json:"entity_id,omitempty"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Start:     p.Start,
		ParentID:  p.ParentID,
		CreatedAt: p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func taskResponse(t domain.TaskRow) TaskResponse {
	res := TaskResponse{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		Name:      t.Name,
		Start:     t.Start,
		End:       t.End,
	}
	start, err1 := time.Parse(domain.TimeFormat, t.Start)
	end, err2 := time.Parse(domain.TimeFormat, t.End)
	if err1 == nil && err2 == nil {
		res.Duration = humanize.Precise(end.Sub(start))
	}
	return res
}

func mapTasks(items []domain.TaskRow) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		ProjectID: s.ProjectID,
		Name:      s.Name,
		Start:     s.Start,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ProjectID: e.ProjectID,
		EntityID:  e.EntityID,
		Actor:     e.Actor,
		Payload:   payload,
	}
}
