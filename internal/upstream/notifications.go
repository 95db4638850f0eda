package upstream

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NotificationLevel represents the level of a notification
type NotificationLevel int

const (
	NotificationInfo NotificationLevel = iota
	NotificationWarning
	NotificationError
)

// String returns the string representation of the notification level
func (l NotificationLevel) String() string {
	switch l {
	case NotificationInfo:
		return "Info"
	case NotificationWarning:
		return "Warning"
	case NotificationError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Notification is a user-facing event about a server's connection.
type Notification struct {
	Level      NotificationLevel `json:"level"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	ServerName string            `json:"server_name,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NotificationHandler defines the interface for handling notifications
type NotificationHandler interface {
	SendNotification(notification *Notification)
}

// NotificationHandlerFunc adapts a function to NotificationHandler.
type NotificationHandlerFunc func(*Notification)

// SendNotification implements NotificationHandler.
func (f NotificationHandlerFunc) SendNotification(n *Notification) { f(n) }

// NotificationManager fans notifications out to handlers. A nil manager
// drops everything.
type NotificationManager struct {
	mu       sync.RWMutex
	handlers []NotificationHandler
}

// NewNotificationManager creates a new notification manager
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{}
}

// AddHandler adds a notification handler
func (nm *NotificationManager) AddHandler(handler NotificationHandler) {
	nm.mu.Lock()
	nm.handlers = append(nm.handlers, handler)
	nm.mu.Unlock()
}

// SendNotification delivers to every handler. Handlers run on their own
// goroutines so a slow handler never blocks a state transition.
func (nm *NotificationManager) SendNotification(notification *Notification) {
	if nm == nil {
		return
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	nm.mu.RLock()
	defer nm.mu.RUnlock()
	for _, handler := range nm.handlers {
		go handler.SendNotification(notification)
	}
}

// NotifyStateChange turns a significant state transition into a notification.
// Transitions into connecting are not reported.
func (nm *NotificationManager) NotifyStateChange(server string, from, to Status, reason string, authRequired bool) {
	if nm == nil {
		return
	}
	switch {
	case to == StatusConnected:
		nm.SendNotification(&Notification{
			Level:      NotificationInfo,
			Title:      "Server Connected",
			Message:    fmt.Sprintf("Successfully connected to %s", server),
			ServerName: server,
		})
	case to == StatusError && authRequired:
		nm.SendNotification(&Notification{
			Level:      NotificationWarning,
			Title:      "Authentication Required",
			Message:    fmt.Sprintf("OAuth authentication required for %s", server),
			ServerName: server,
		})
	case to == StatusError:
		nm.SendNotification(&Notification{
			Level:      NotificationError,
			Title:      "Server Error",
			Message:    fmt.Sprintf("Error with %s: %s", server, reason),
			ServerName: server,
		})
	case to == StatusDisconnected && from == StatusConnected:
		nm.SendNotification(&Notification{
			Level:      NotificationInfo,
			Title:      "Server Disconnected",
			Message:    fmt.Sprintf("Disconnected from %s", server),
			ServerName: server,
		})
	}
}

// LogNotificationHandler writes notifications to a zap logger.
type LogNotificationHandler struct {
	Logger *zap.Logger
}

// SendNotification implements NotificationHandler.
func (h LogNotificationHandler) SendNotification(n *Notification) {
	fields := []zap.Field{
		zap.String("server", n.ServerName),
		zap.String("title", n.Title),
	}
	switch n.Level {
	case NotificationError:
		h.Logger.Error(n.Message, fields...)
	case NotificationWarning:
		h.Logger.Warn(n.Message, fields...)
	default:
		h.Logger.Info(n.Message, fields...)
	}
}
