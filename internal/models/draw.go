package models

import "time"

// Participant represents a person entering the draw.
// The email address is the identity key and must be unique within a draw.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Assignment links a giver to the participant they must get a gift for.
type Assignment struct {
	Giver    Participant `json:"giver"`
	Receiver Participant `json:"receiver"`
}

// DeliveryConfig holds the credentials of the external email endpoint.
type DeliveryConfig struct {
	ServiceID  string `json:"service_id" form:"service_id"`
	TemplateID string `json:"template_id" form:"template_id"`
	PublicKey  string `json:"public_key" form:"public_key"`
}

// Complete reports whether every credential is set.
func (c DeliveryConfig) Complete() bool {
	return c.ServiceID != "" && c.TemplateID != "" && c.PublicKey != ""
}

// Notification is the message sent to one giver.
// It names the receiver but never carries the receiver's email.
type Notification struct {
	ToName       string
	ToEmail      string
	SecretFriend string
}

// NotificationFor builds the notification for an assignment.
func NotificationFor(a Assignment) Notification {
	return Notification{
		ToName:       a.Giver.Name,
		ToEmail:      a.Giver.Email,
		SecretFriend: a.Receiver.Name,
	}
}

// Outcome is the delivery result of a single request.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
)

// ProgressEvent is emitted after every resolved request of a dispatch.
type ProgressEvent struct {
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	LastOutcome Outcome `json:"lastOutcome"`
}

// DeliveryFailure records an assignment whose notification could not be delivered.
type DeliveryFailure struct {
	Assignment Assignment
	Error      string
}

// DispatchStatus summarizes a finished dispatch.
type DispatchStatus string

const (
	StatusAllSent        DispatchStatus = "all_sent"
	StatusPartialFailure DispatchStatus = "partial_failure"
	StatusAllFailed      DispatchStatus = "all_failed"
	StatusCancelled      DispatchStatus = "cancelled"
)

// DispatchReport is the aggregate outcome of a dispatch.
type DispatchReport struct {
	Sent   int
	Failed []DeliveryFailure
	Status DispatchStatus
}

// RunStatus is the lifecycle state of a draw run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// GiverOutcome is the delivery state for one giver. Receivers are
// deliberately absent so run snapshots can be shown to the operator.
type GiverOutcome struct {
	Name  string  `json:"name"`
	Email string  `json:"email"`
	State Outcome `json:"state"`
	Error string  `json:"error,omitempty"`
}

// DrawRun is the in-memory state of one draw.
type DrawRun struct {
	ID         string         `json:"id"`
	Status     RunStatus      `json:"status"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Outcomes   []GiverOutcome `json:"outcomes"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}
