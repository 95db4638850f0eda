package storage

import (
	"encoding/json"
	"time"
)

// ActivityRecordsBucket is the BBolt bucket name for activity records
const ActivityRecordsBucket = "activity_records"

// ActivityType represents the type of activity being recorded
type ActivityType string

const (
	// ActivityTypeToolCall represents a tool execution event
	ActivityTypeToolCall ActivityType = "tool_call"
	// ActivityTypeAuth represents an interactive OAuth flow or sign-out
	ActivityTypeAuth ActivityType = "auth"
)

// ActivitySource indicates how the activity was triggered
type ActivitySource string

const (
	// ActivitySourceMCP indicates the activity was triggered via the meta-tool (AI agent)
	ActivitySourceMCP ActivitySource = "mcp"
	// ActivitySourceCLI indicates the activity was triggered via CLI command
	ActivitySourceCLI ActivitySource = "cli"
)

// Status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActivityRecord represents a single activity log entry stored in BBolt
type ActivityRecord struct {
	ID                string         `json:"id"`                           // ULID
	Type              ActivityType   `json:"type"`
	Source            ActivitySource `json:"source,omitempty"`
	ServerName        string         `json:"server_name,omitempty"`
	ToolName          string         `json:"tool_name,omitempty"`
	Arguments         map[string]any `json:"arguments,omitempty"`
	Response          string         `json:"response,omitempty"`           // possibly truncated
	ResponseTruncated bool           `json:"response_truncated,omitempty"`
	Status            string         `json:"status"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	DurationMs        int64          `json:"duration_ms,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	CallID            string         `json:"call_id,omitempty"` // meta-tool call ID for correlation
}

// MarshalBinary implements encoding.BinaryMarshaler for BBolt storage
func (a *ActivityRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BBolt storage
func (a *ActivityRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

// ActivityFilter represents query parameters for filtering activity records
type ActivityFilter struct {
	Type      string    // Filter by activity type
	Server    string    // Filter by server name
	Tool      string    // Filter by tool name
	Status    string    // Filter by status (success/error)
	StartTime time.Time // Activities after this time
	EndTime   time.Time // Activities before this time
	Limit     int       // Max records to return (default 50, max 100)
	Offset    int       // Pagination offset
}

// DefaultActivityFilter returns an ActivityFilter with sensible defaults
func DefaultActivityFilter() ActivityFilter {
	return ActivityFilter{
		Limit:  50,
		Offset: 0,
	}
}

// Validate validates and normalizes the filter
func (f *ActivityFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches checks if an activity record matches the filter criteria
func (f *ActivityFilter) Matches(record *ActivityRecord) bool {
	if f.Type != "" && string(record.Type) != f.Type {
		return false
	}
	if f.Server != "" && record.ServerName != f.Server {
		return false
	}
	if f.Tool != "" && record.ToolName != f.Tool {
		return false
	}
	if f.Status != "" && record.Status != f.Status {
		return false
	}
	if !f.StartTime.IsZero() && record.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && record.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
