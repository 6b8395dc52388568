package models

import "time"

// NotificationKind identifies the event a student is notified about.
type NotificationKind string

const (
	NotificationRegistered       NotificationKind = "REGISTERED"
	NotificationUnregistered     NotificationKind = "UNREGISTERED"
	NotificationSwapRequested    NotificationKind = "SWAP_REQUESTED"
	NotificationSwapResolved     NotificationKind = "SWAP_RESOLVED"
	NotificationManualJoinResult NotificationKind = "MANUAL_JOIN_RESULT"
	NotificationDropResult       NotificationKind = "DROP_RESULT"
)

// Notification is a fire-and-forget message to a student.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	StudentID string           `json:"student_id"`
	Subject   string           `json:"subject"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}
