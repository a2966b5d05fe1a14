package model

import "time"

type Status string

const (
	// StatusPendingApproval is the initial state for public bookings. It does
	// not occupy calendar time until an administrator approves it.
	StatusPendingApproval Status = "pending_approval"
	StatusScheduled       Status = "scheduled"
	StatusConfirmed       Status = "confirmed"
	// StatusPending is the initial state for system-triggered bookings (a paid
	// consultation from checkout): already committed, so it blocks the slot.
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses occupy calendar time for conflict purposes. The database
// exclusion constraint filters on the same set.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusPending}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusScheduled, StatusConfirmed, StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Appointment struct {
	ID               string
	ResourceID       string
	ClientName       string
	ClientEmail      string
	StartTime        time.Time
	EndTime          time.Time
	DurationMinutes  int
	Status           Status
	RequiresApproval bool
	IsApproved       bool
	SessionToken     string
	ConsultationType string
	Notes            string
	WorkNotes        string
	BillableHours    float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AvailabilityWindow is one recurring weekly open period. Times are minutes
// from UTC midnight, half-open [StartMinute, EndMinute). Several windows may
// exist for the same day.
type AvailabilityWindow struct {
	ID          string
	ResourceID  string
	DayOfWeek   int // 0 = Sunday, matching time.Weekday
	StartMinute int
	EndMinute   int
	IsActive    bool
	CreatedAt   time.Time
}
