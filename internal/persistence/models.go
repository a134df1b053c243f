package persistence

import "time"

// MemberKind distinguishes the people a booking can reference.
type MemberKind string

const (
	MemberTrainer MemberKind = "trainer"
	MemberClient  MemberKind = "client"
)

// Member is a trainer or client identity as seen by scheduling. Accounts are
// managed elsewhere; scheduling only needs existence and the active flag.
type Member struct {
	ID          string
	Kind        MemberKind
	DisplayName string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Booking is a scheduled training session row.
type Booking struct {
	ID        string
	TrainerID string
	ClientID  string
	Start     time.Time
	End       time.Time
	Status    string
	Title     string
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contract is a membership contract row.
type Contract struct {
	ID           string
	SubjectID    string
	MembershipID string
	Start        time.Time
	End          time.Time
	Price        int64
	State        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContractHistory is an immutable lifecycle record. FromState is nil only for
// the inception record.
type ContractHistory struct {
	ID         string
	ContractID string
	FromState  *string
	ToState    string
	ChangedAt  time.Time
	ChangedBy  string
	Reason     *string
}
