package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Orchestrator sequences the purchase-and-top-up saga: confirm, check
// balance, enroll or persist intent and redirect, verify the returned
// deposit, and resume the stored intent. It holds no durable state of
// its own; everything that must survive the gateway round trip lives in
// the IntentStore.
type Orchestrator struct {
	wallet   WalletReader
	catalog  CourseCatalog
	enroller Enroller
	gateway  Gateway
	intents  IntentStore
	logger   OperationLogger

	mutex    sync.Mutex
	buying   map[string]struct{}
	verified map[string]struct{}
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(wallet WalletReader, catalog CourseCatalog, enroller Enroller, gateway Gateway, intents IntentStore, options ...OrchestratorOption) (*Orchestrator, error) {
	if wallet == nil {
		return nil, fmt.Errorf("%w: wallet dependency is nil", ErrInvalidOrchestrator)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidOrchestrator)
	}
	if enroller == nil {
		return nil, fmt.Errorf("%w: enroller dependency is nil", ErrInvalidOrchestrator)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidOrchestrator)
	}
	if intents == nil {
		return nil, fmt.Errorf("%w: intent store dependency is nil", ErrInvalidOrchestrator)
	}
	orchestrator := &Orchestrator{
		wallet:   wallet,
		catalog:  catalog,
		enroller: enroller,
		gateway:  gateway,
		intents:  intents,
		buying:   map[string]struct{}{},
		verified: map[string]struct{}{},
	}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	return orchestrator, nil
}

// Buy attempts to purchase a course. With sufficient balance (or a free
// course) it enrolls directly; otherwise it persists the pending intent
// and returns a gateway redirect URL for the shortfall. Concurrent
// attempts for the same course collapse into one: later callers get a
// duplicate outcome and no second enroll call is made.
func (orchestrator *Orchestrator) Buy(ctx context.Context, courseID CourseID) (Outcome, error) {
	if !orchestrator.beginBuy(courseID) {
		return Outcome{
			State:   OutcomeDuplicate,
			Course:  courseID,
			Message: "a purchase for this course is already in progress",
		}, nil
	}
	defer orchestrator.endBuy(courseID)

	outcome, err := orchestrator.buy(ctx, courseID)
	orchestrator.logOperation(ctx, OperationLog{
		Operation: operationBuy,
		Course:    courseID,
		Outcome:   outcome.State,
		Error:     err,
	})
	return outcome, err
}

func (orchestrator *Orchestrator) buy(ctx context.Context, courseID CourseID) (Outcome, error) {
	course, err := orchestrator.catalog.Course(ctx, courseID)
	if err != nil {
		return failedOutcome(courseID, "course could not be loaded"), err
	}
	if course.IsEnrolled {
		orchestrator.clearMatchingIntent(ctx, courseID)
		return Outcome{
			State:   OutcomeAlreadyEnrolled,
			Course:  courseID,
			Message: "you already own this course",
		}, nil
	}

	balance := Amount(0)
	if !course.Free() {
		balance, err = orchestrator.wallet.Balance(ctx)
		if err != nil {
			return failedOutcome(courseID, "wallet balance could not be confirmed"),
				WrapError(operationBuy, "wallet", "fetch", errors.Join(ErrWalletUnavailable, err))
		}
	}

	if course.Free() || balance >= course.Price {
		return orchestrator.enroll(ctx, courseID)
	}

	// Persist the intent before leaving for the gateway; once the
	// redirect happens this record is all that is left of the purchase.
	if err := orchestrator.intents.Save(ctx, courseID); err != nil {
		return failedOutcome(courseID, "pending purchase could not be saved"),
			WrapError(operationBuy, "intent", "save", err)
	}
	shortfall := course.Price - balance
	redirectURL, err := orchestrator.gateway.Initiate(ctx, shortfall)
	if err != nil {
		// The intent stays: a failed initiation does not mean the user
		// no longer wants the course.
		return failedOutcome(courseID, "payment could not be started"),
			WrapError(operationBuy, "gateway", "initiate", errors.Join(ErrGatewayInitiate, err))
	}
	return Outcome{
		State:       OutcomeRedirect,
		Course:      courseID,
		Message:     "balance is insufficient, continue at the payment gateway",
		RedirectURL: redirectURL,
	}, nil
}

// CompleteDeposit is the verification-route entry point. It verifies the
// returned correlation token exactly once per process, then re-derives
// the saga position from the durable intent and the server-reported
// balance: resume the enrollment, report a wallet-only deposit, or leave
// the intent pending when the funds still fall short.
func (orchestrator *Orchestrator) CompleteDeposit(ctx context.Context, token CorrelationToken, status CallbackStatus) (Outcome, error) {
	if !orchestrator.beginVerify(token) {
		return Outcome{
			State:   OutcomeDuplicate,
			Message: "this deposit was already processed",
		}, WrapError(operationCompleteDeposit, "gateway", "duplicate", ErrDuplicateVerify)
	}

	outcome, err := orchestrator.completeDeposit(ctx, token, status)
	orchestrator.logOperation(ctx, OperationLog{
		Operation: operationCompleteDeposit,
		Course:    outcome.Course,
		Token:     token,
		Outcome:   outcome.State,
		Error:     err,
	})
	return outcome, err
}

func (orchestrator *Orchestrator) completeDeposit(ctx context.Context, token CorrelationToken, status CallbackStatus) (Outcome, error) {
	verified, err := orchestrator.gateway.Verify(ctx, token, status)
	if err != nil {
		// The intent is left untouched so the user can retry the top-up
		// without re-selecting the course.
		return failedOutcome(CourseID{}, "payment could not be verified"),
			WrapError(operationCompleteDeposit, "gateway", "verify", errors.Join(ErrVerificationFailed, err))
	}

	// Prefer a fresh authoritative fetch; the verify response already
	// carries the server-reported balance if the fetch fails.
	balance, err := orchestrator.wallet.Balance(ctx)
	if err != nil {
		balance = verified.NewBalance
	}

	intentCourseID, hasIntent, err := orchestrator.intents.Read(ctx)
	if err != nil {
		return depositOutcome(OutcomeDepositOnly, CourseID{}, "deposit recorded", balance),
			WrapError(operationCompleteDeposit, "intent", "read", err)
	}
	if !hasIntent {
		return depositOutcome(OutcomeDepositOnly, CourseID{}, "deposit recorded", balance), nil
	}

	course, err := orchestrator.catalog.Course(ctx, intentCourseID)
	if err != nil {
		return depositOutcome(OutcomePurchasePending, intentCourseID, "deposit recorded, pending course could not be loaded", balance),
			WrapError(operationCompleteDeposit, "catalog", "get", err)
	}
	if balance < course.Price && !course.Free() {
		return depositOutcome(OutcomePurchasePending, intentCourseID, "deposit recorded, balance still below the course price", balance), nil
	}

	outcome, err := orchestrator.enroll(ctx, intentCourseID)
	outcome.NewBalance = balance
	outcome.BalanceKnown = true
	return outcome, err
}

// Abandon explicitly drops the pending purchase intent.
func (orchestrator *Orchestrator) Abandon(ctx context.Context) error {
	operationError := orchestrator.intents.Clear(ctx)
	orchestrator.logOperation(ctx, OperationLog{
		Operation: operationAbandon,
		Error:     operationError,
	})
	if operationError != nil {
		return WrapError(operationAbandon, "intent", "clear", operationError)
	}
	return nil
}

// enroll performs the enrollment call and maps its taxonomy onto terminal
// outcomes. AlreadyEnrolled is success-equivalent; insufficient funds at
// this point is the check-then-act race and is never retried here.
func (orchestrator *Orchestrator) enroll(ctx context.Context, courseID CourseID) (Outcome, error) {
	err := orchestrator.enroller.Enroll(ctx, courseID)
	switch {
	case err == nil:
		orchestrator.clearMatchingIntent(ctx, courseID)
		return Outcome{
			State:   OutcomeEnrolled,
			Course:  courseID,
			Message: "course purchased",
		}, nil
	case errors.Is(err, ErrAlreadyEnrolled):
		orchestrator.clearMatchingIntent(ctx, courseID)
		return Outcome{
			State:   OutcomeAlreadyEnrolled,
			Course:  courseID,
			Message: "you already own this course",
		}, nil
	case errors.Is(err, ErrInsufficientFunds):
		return failedOutcome(courseID, "balance is no longer sufficient, top up and retry"),
			WrapError(operationBuy, "enroll", "insufficient_funds", err)
	case errors.Is(err, ErrCourseValidation):
		return failedOutcome(courseID, "this course cannot be purchased"),
			WrapError(operationBuy, "enroll", "validation", err)
	}
	return failedOutcome(courseID, "purchase failed, try again"),
		WrapError(operationBuy, "enroll", "unknown", err)
}

// clearMatchingIntent drops the stored intent only when it names this
// course; an unrelated pending purchase must survive.
func (orchestrator *Orchestrator) clearMatchingIntent(ctx context.Context, courseID CourseID) {
	storedCourseID, hasIntent, err := orchestrator.intents.Read(ctx)
	if err != nil || !hasIntent {
		return
	}
	if storedCourseID == courseID {
		_ = orchestrator.intents.Clear(ctx)
	}
}

func (orchestrator *Orchestrator) beginBuy(courseID CourseID) bool {
	orchestrator.mutex.Lock()
	defer orchestrator.mutex.Unlock()
	if _, inFlight := orchestrator.buying[courseID.String()]; inFlight {
		return false
	}
	orchestrator.buying[courseID.String()] = struct{}{}
	return true
}

func (orchestrator *Orchestrator) endBuy(courseID CourseID) {
	orchestrator.mutex.Lock()
	defer orchestrator.mutex.Unlock()
	delete(orchestrator.buying, courseID.String())
}

func (orchestrator *Orchestrator) beginVerify(token CorrelationToken) bool {
	orchestrator.mutex.Lock()
	defer orchestrator.mutex.Unlock()
	if _, seen := orchestrator.verified[token.String()]; seen {
		return false
	}
	orchestrator.verified[token.String()] = struct{}{}
	return true
}

func (orchestrator *Orchestrator) logOperation(ctx context.Context, entry OperationLog) {
	if orchestrator.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	orchestrator.logger.LogOperation(ctx, entry)
}

func failedOutcome(courseID CourseID, message string) Outcome {
	return Outcome{
		State:   OutcomeFailed,
		Course:  courseID,
		Message: message,
	}
}

func depositOutcome(state OutcomeState, courseID CourseID, message string, balance Amount) Outcome {
	return Outcome{
		State:        state,
		Course:       courseID,
		Message:      message,
		NewBalance:   balance,
		BalanceKnown: true,
	}
}
