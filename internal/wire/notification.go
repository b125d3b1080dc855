package wire

import "encoding/json"

// Notification types published by the server.
const (
	NotificationPostPublished       = "post_published"
	NotificationPostFailed          = "post_failed"
	NotificationPostScheduled       = "post_scheduled"
	NotificationAccountConnected    = "account_connected"
	NotificationAccountDisconnected = "account_disconnected"
	NotificationAccountExpired      = "account_expired"
	NotificationChallengeRequired   = "challenge_required"
	NotificationQuotaWarning        = "quota_warning"
	NotificationError               = "error"
	NotificationInfo                = "info"
	NotificationBotTaskStarted      = "bot_task_started"
	NotificationBotTaskCompleted    = "bot_task_completed"
	NotificationBotTaskFailed       = "bot_task_failed"
	NotificationBotTaskProgress     = "bot_task_progress"
	NotificationBotStatsUpdate      = "bot_stats_update"
	NotificationBotScreenshot       = "bot_screenshot"
	NotificationBotWorkerStarted    = "bot_worker_started"
	NotificationBotWorkerStopped    = "bot_worker_stopped"
)

// Notification is the data of a notification frame.
type Notification struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Platform  *string         `json:"platform"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Timestamp Timestamp       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Read      bool            `json:"read"`
}

// PlatformName returns the platform or "" when the notification has none.
func (n Notification) PlatformName() string {
	if n.Platform == nil {
		return ""
	}
	return *n.Platform
}
