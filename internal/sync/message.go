// Package sync keeps schedule state consistent across clients sharing a
// named room on a pub/sub channel. The adapter owns the connection
// lifecycle, stamps and routes messages, suppresses self-echo, enforces
// last-write-wins ordering per stream, and runs the bootstrap catch-up
// exchange for newly connected peers.
package sync

import "github.com/surnin/schedule-planner/internal/application"

// Message topics. These names are the wire contract shared with every
// client version in a room; renaming one breaks interop.
const (
	TopicScheduleUpdate   = "schedule-update"
	TopicSettingsUpdate   = "settings-update"
	TopicCellTagsUpdate   = "celltags-update"
	TopicAuthStateUpdate  = "auth-state-update"
	TopicTestMessage      = "test-message"
	TopicPushNotification = "push-notification"
	TopicDataRequest      = "data-request"
	TopicDataResponse     = "data-response"
)

// Stream identifiers for last-write-wins bookkeeping. Each logical stream
// keeps its own applied-timestamp watermark.
const (
	streamSchedule = "schedule"
	streamSettings = "settings"
	streamCellTags = "cellTags"
)

// Stamp carries the fields every message is tagged with at send time.
type Stamp struct {
	Timestamp string `json:"timestamp"`
	UserID    string `json:"userId"`
}

// SchedulePayload is the body of a schedule-update message.
type SchedulePayload struct {
	Schedule application.Schedule `json:"schedule"`
	Stamp
}

// SettingsPayload is the body of a settings-update message. The patch only
// ever carries shared configuration fields, never view or computed state.
type SettingsPayload struct {
	Settings application.SettingsPatch `json:"settings"`
	Stamp
}

// CellTagsPayload is the body of a celltags-update message.
type CellTagsPayload struct {
	CellTags application.CellTags `json:"cellTags"`
	Stamp
}

// AuthStatePayload is the body of an auth-state-update message.
type AuthStatePayload struct {
	IsAuthenticated bool                `json:"isAuthenticated"`
	Admins          []application.Admin `json:"admins"`
	Stamp
}

// TestPayload is the body of a test-message used to verify a room end to end.
type TestPayload struct {
	Test bool `json:"test"`
	Stamp
}

// PushPayload is the body of a push-notification message.
type PushPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Stamp
}

// DataRequestPayload asks attached peers for their current state.
type DataRequestPayload struct {
	Type string `json:"type"`
	Stamp
}

// DataResponsePayload answers a data-request with a full state snapshot.
type DataResponsePayload struct {
	Type string               `json:"type"`
	Data application.Snapshot `json:"data"`
	Stamp
}

// PresenceData is the document a client enters presence with.
type PresenceData struct {
	Username string `json:"username"`
	JoinedAt string `json:"joinedAt"`
}
