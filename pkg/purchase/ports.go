package purchase

import "context"

// WalletReader returns the most recently fetched, server-authoritative
// balance. Implementations must never return a value computed locally
// from prior transactions.
type WalletReader interface {
	Balance(ctx context.Context) (Amount, error)
}

// CourseCatalog resolves the purchase-relevant projection of a course.
type CourseCatalog interface {
	Course(ctx context.Context, id CourseID) (Course, error)
}

// Enroller performs the buy/enroll call against the backend. It returns
// ErrAlreadyEnrolled, ErrInsufficientFunds, ErrCourseValidation, or a
// wrapped transport error.
type Enroller interface {
	Enroll(ctx context.Context, id CourseID) error
}

// Gateway talks to the external payment gateway through the backend.
type Gateway interface {
	// Initiate requests a one-time payment URL for the given amount.
	Initiate(ctx context.Context, amount Amount) (string, error)
	// Verify confirms a deposit attempt identified by the correlation
	// token. It is the only trustworthy signal that money moved.
	Verify(ctx context.Context, token CorrelationToken, status CallbackStatus) (VerifiedDeposit, error)
}

// IntentStore persists the single pending-purchase slot. The record must
// survive full loss of process memory; implementations are backed by the
// durable client store, never by RAM.
type IntentStore interface {
	// Save records the course the user intends to buy (last write wins).
	Save(ctx context.Context, id CourseID) error
	// Read returns the stored intent, if any.
	Read(ctx context.Context) (CourseID, bool, error)
	// Clear removes the stored intent.
	Clear(ctx context.Context) error
}
