package purchase

// OutcomeState enumerates the terminal states of one saga entry point.
type OutcomeState string

const (
	// OutcomeEnrolled means the course purchase completed.
	OutcomeEnrolled OutcomeState = "enrolled"
	// OutcomeAlreadyEnrolled means the desired end state already held.
	OutcomeAlreadyEnrolled OutcomeState = "already_enrolled"
	// OutcomeRedirect means the balance fell short and the caller must
	// send the user to the returned gateway URL.
	OutcomeRedirect OutcomeState = "redirect_to_gateway"
	// OutcomeDepositOnly means a deposit verified with no pending intent.
	OutcomeDepositOnly OutcomeState = "deposit_recorded"
	// OutcomePurchasePending means the deposit verified but still does
	// not cover the intended course; the intent is kept for a retry.
	OutcomePurchasePending OutcomeState = "purchase_still_pending"
	// OutcomeDuplicate means another attempt for the same course or
	// token was already in flight and this call did nothing.
	OutcomeDuplicate OutcomeState = "duplicate_request"
	// OutcomeFailed means the saga stopped with a user-visible failure.
	OutcomeFailed OutcomeState = "failed"
)

// Outcome is the user-visible terminal result of a saga entry point.
// Every operation produces one; the orchestrator never goes silent.
type Outcome struct {
	State        OutcomeState
	Course       CourseID
	Message      string
	RedirectURL  string
	NewBalance   Amount
	BalanceKnown bool
}
