package model

import "time"

// EventTypeWindowStateChanged tags window-state events sent to subscribers.
const EventTypeWindowStateChanged = "WINDOW_STATE_CHANGED"

// WindowEvent describes an observed change of the foreground window.
type WindowEvent struct {
	Type          string `json:"type"`
	PackageName   string `json:"package_name"`
	ActivityName  string `json:"activity_name"`
	Timestamp     int64  `json:"timestamp"`
	SourceChanged bool   `json:"source_changed"`
}

// NewWindowEvent builds a WindowEvent stamped with the given time in milliseconds.
func NewWindowEvent(packageName, activityName string, sourceChanged bool, at time.Time) WindowEvent {
	return WindowEvent{
		Type:          EventTypeWindowStateChanged,
		PackageName:   packageName,
		ActivityName:  activityName,
		Timestamp:     at.UnixMilli(),
		SourceChanged: sourceChanged,
	}
}
