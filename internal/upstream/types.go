package upstream

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"k8s.io/utils/clock"

	"github.com/smart-mcp-proxy/mcpgate/internal/config"
	"github.com/smart-mcp-proxy/mcpgate/internal/oauth"
)

// Status is the connection state of one managed server.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets Status render as its name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// connState is the per-server state. Exactly one variant is held at a time,
// so a client handle exists only while connected.
type connState interface {
	status() Status
}

type stateDisconnected struct{}

type stateConnecting struct{}

type stateConnected struct {
	client      *client.Client
	transport   mcptransport.Interface
	since       time.Time
	idle        clock.Timer
	idleTimeout time.Duration
	lastUsed    time.Time
}

type stateFailed struct {
	message      string
	authRequired bool
}

func (stateDisconnected) status() Status { return StatusDisconnected }
func (stateConnecting) status() Status   { return StatusConnecting }
func (*stateConnected) status() Status   { return StatusConnected }
func (stateFailed) status() Status       { return StatusError }

// ToolInfo is one tool exposed by a server. Names are unique per server only.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Server      string          `json:"server"`
}

// SearchResult is a scored tool.
type SearchResult struct {
	Tool  ToolInfo `json:"tool"`
	Score int      `json:"score"`
}

// Content part kinds.
const (
	ContentText  = "text"
	ContentImage = "image"
)

// ContentPart is a normalized piece of a tool result: text, or a base64
// image with its MIME type.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is a normalized tool result. IsError is the tool's own flag.
type CallResult struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ServerStatus is a point-in-time view of one managed server.
type ServerStatus struct {
	Name         string               `json:"name"`
	Transport    config.TransportKind `json:"transport"`
	Enabled      bool                 `json:"enabled"`
	Status       Status               `json:"status"`
	Error        string               `json:"error,omitempty"`
	AuthRequired bool                 `json:"authRequired,omitempty"`
	ToolCount    int                  `json:"toolCount"`
	AuthStatus   oauth.Status         `json:"authStatus,omitempty"`
	ConnectedAt  *time.Time           `json:"connectedAt,omitempty"`
}
