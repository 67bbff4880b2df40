package cloud

import (
	"bytes"
	"encoding/json"
)

// State is the lifecycle state of a Luau execution task as reported by the API.
type State string

const (
	StateProcessing State = "PROCESSING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
	StateCancelled  State = "CANCELLED"
	StateQueued     State = "QUEUED"
)

// Task is a remote script run. Only Path and State are required; the rest depends on the state.
type Task struct {
	Path       string          `json:"path"`
	State      State           `json:"state"`
	User       string          `json:"user,omitempty"`
	CreateTime string          `json:"createTime,omitempty"`
	UpdateTime string          `json:"updateTime,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	Output     *Output         `json:"output,omitempty"`
}

type Output struct {
	Results json.RawMessage `json:"results,omitempty"`
}

// Processing reports whether the task has not reached a terminal state yet.
func (t *Task) Processing() bool { return t.State == StateProcessing }

// Results returns the compacted results payload, or nil when the task returned nothing.
// null, [], {}, "", false and any numeric zero all count as nothing.
func (t *Task) Results() json.RawMessage {
	if t.Output == nil {
		return nil
	}
	raw := bytes.TrimSpace(t.Output.Results)
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	compact := buf.Bytes()
	switch string(compact) {
	case "null", "[]", "{}", `""`, "false":
		return nil
	}
	var n float64
	if err := json.Unmarshal(compact, &n); err == nil && n == 0 {
		return nil
	}
	return compact
}

type uploadResponse struct {
	VersionNumber *int64 `json:"versionNumber"`
}

type createTaskRequest struct {
	Script string `json:"script"`
}

type taskLogs struct {
	Path     string   `json:"path"`
	Messages []string `json:"messages"`
}

type logsResponse struct {
	Logs          []taskLogs `json:"luauExecutionSessionTaskLogs"`
	NextPageToken string     `json:"nextPageToken"`
}
