package domain

// TimeFormat is the timestamp layout stored in the ledger. Task rows can
// carry sub-second durations, so the nanosecond layout is used everywhere.
const TimeFormat = "2006-01-02T15:04:05.999999999Z07:00"

// Project is a tracker row. Root projects have no parent; absorbed
// projects are re-parented under the absorbing tracker.
type Project struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Start     string  `json:"start" format:"date-time"`
	ParentID  *string `json:"parent_id,omitempty"`
	Position  int     `json:"position"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// TaskRow is a completed task in insertion order, synthetic absorption
// rows included.
type TaskRow struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start" format:"date-time"`
	End       string `json:"end" format:"date-time"`
	Position  int    `json:"position"`
}

// Session is a begun-but-unfinished task.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Start     string `json:"start" format:"date-time"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	Actor     string `json:"actor"`
	Payload   string `json:"payload_json"`
}

type APIToken struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	TokenHash string `json:"token_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
