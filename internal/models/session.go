package models

import "time"

// SessionStatus is the lifecycle state of a scheduled class.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// ClassSession is a scheduled class between one teacher and its students.
type ClassSession struct {
	ID             string        `json:"id"`
	RoomID         string        `json:"roomId"` // Signaling room code, e.g. "class-k3j9x0qa"
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	TeacherID      string        `json:"teacherId"`
	TeacherName    string        `json:"teacherName,omitempty"`
	StudentIDs     []string      `json:"studentIds"`
	ScheduledStart time.Time     `json:"scheduledStart"`
	ScheduledEnd   time.Time     `json:"scheduledEnd"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// CreateSessionRequest is the request body for scheduling a class
type CreateSessionRequest struct {
	Title          string    `json:"title" binding:"required,max=200"`
	Description    string    `json:"description" binding:"max=2000"`
	ScheduledStart time.Time `json:"scheduledStart" binding:"required"`
	ScheduledEnd   time.Time `json:"scheduledEnd" binding:"required"`
	StudentIDs     []string  `json:"studentIds"`
}

type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
}

type UpdateSessionStatusRequest struct {
	Status SessionStatus `json:"status" binding:"required,oneof=scheduled active completed cancelled"`
}

// UpdateSessionRequest replaces the editable details of a class. A nil
// StudentIDs keeps the current participants.
type UpdateSessionRequest struct {
	Title          string    `json:"title" binding:"required,max=200"`
	Description    string    `json:"description" binding:"max=2000"`
	ScheduledStart time.Time `json:"scheduledStart" binding:"required"`
	ScheduledEnd   time.Time `json:"scheduledEnd" binding:"required"`
	StudentIDs     []string  `json:"studentIds"`
}

type UpdateSessionResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}
