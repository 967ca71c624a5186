package marvin

import "time"

// Envelope is the uniform response shape every tool operation returns.
// Failures local to one upstream call are reported in-band via Success=false
// rather than as transport errors.
type Envelope struct {
	Data     any      `json:"data"`
	Metadata Metadata `json:"metadata"`
	Summary  Summary  `json:"summary"`
	Success  bool     `json:"success"`
}

// Metadata describes where and when the enclosed data was produced.
type Metadata struct {
	Source     string    `json:"source"` // "api", "cache", or "changefeed"
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TotalItems int       `json:"total_items,omitempty"`
}

// Summary is the human-readable half of the envelope.
type Summary struct {
	Message   string `json:"message"`
	ItemCount int    `json:"item_count,omitempty"`
	Status    string `json:"status"`
}

// Envelope data sources.
const (
	SourceAPI        = "api"
	SourceCache      = "cache"
	SourceChangeFeed = "changefeed"
)

const (
	statusOK    = "ok"
	statusError = "error"
)

// Item is a single Marvin document (task, project, category, label, goal,
// time track). Marvin documents are schemaless CouchDB records; the fields a
// client needs vary per document type, so they are kept as loose maps and
// reshaped only where an operation requires a specific field.
type Item = map[string]any

// CreateTaskRequest are the fields accepted when creating a task.
type CreateTaskRequest struct {
	Title        string   `json:"title"`
	Day          string   `json:"day,omitempty"`
	DueDate      string   `json:"dueDate,omitempty"`
	ParentID     string   `json:"parentId,omitempty"`
	LabelIDs     []string `json:"labelIds,omitempty"`
	Note         string   `json:"note,omitempty"`
	TimeEstimate int64    `json:"timeEstimate,omitempty"` // milliseconds
}

// CreateProjectRequest are the fields accepted when creating a project.
type CreateProjectRequest struct {
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
	Note     string `json:"note,omitempty"`
}

// BatchItemResult is the per-item outcome of a batch write. A failing item
// never aborts its siblings.
type BatchItemResult struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Item    Item   `json:"item,omitempty"`
}
