package purchase

import (
	"context"
	"sync"
	"testing"
)

// stubWallet serves a scripted sequence of balances, simulating fresh
// authoritative fetches.
type stubWallet struct {
	mutex    sync.Mutex
	balances []Amount
	err      error
	fetches  int
}

func (wallet *stubWallet) Balance(_ context.Context) (Amount, error) {
	wallet.mutex.Lock()
	defer wallet.mutex.Unlock()
	wallet.fetches++
	if wallet.err != nil {
		return 0, wallet.err
	}
	if len(wallet.balances) == 0 {
		return 0, nil
	}
	balance := wallet.balances[0]
	if len(wallet.balances) > 1 {
		wallet.balances = wallet.balances[1:]
	}
	return balance, nil
}

type stubCatalog struct {
	courses map[string]Course
	err     error
}

func (catalog *stubCatalog) Course(_ context.Context, id CourseID) (Course, error) {
	if catalog.err != nil {
		return Course{}, catalog.err
	}
	course, ok := catalog.courses[id.String()]
	if !ok {
		return Course{}, ErrCourseValidation
	}
	return course, nil
}

// stubEnroller counts enroll calls and replays a scripted error sequence.
type stubEnroller struct {
	mutex   sync.Mutex
	errs    []error
	calls   []CourseID
	started chan struct{}
	release chan struct{}
}

func (enroller *stubEnroller) Enroll(_ context.Context, id CourseID) error {
	enroller.mutex.Lock()
	enroller.calls = append(enroller.calls, id)
	var err error
	if len(enroller.errs) > 0 {
		err = enroller.errs[0]
		enroller.errs = enroller.errs[1:]
	}
	enroller.mutex.Unlock()
	if enroller.started != nil {
		enroller.started <- struct{}{}
	}
	if enroller.release != nil {
		<-enroller.release
	}
	return err
}

func (enroller *stubEnroller) callCount() int {
	enroller.mutex.Lock()
	defer enroller.mutex.Unlock()
	return len(enroller.calls)
}

type stubGateway struct {
	redirectURL  string
	initiateErr  error
	initiated    []Amount
	verifyResult VerifiedDeposit
	verifyErr    error
	verifies     int
}

func (gateway *stubGateway) Initiate(_ context.Context, amount Amount) (string, error) {
	gateway.initiated = append(gateway.initiated, amount)
	if gateway.initiateErr != nil {
		return "", gateway.initiateErr
	}
	return gateway.redirectURL, nil
}

func (gateway *stubGateway) Verify(_ context.Context, _ CorrelationToken, status CallbackStatus) (VerifiedDeposit, error) {
	gateway.verifies++
	if gateway.verifyErr != nil {
		return VerifiedDeposit{}, gateway.verifyErr
	}
	if status != CallbackStatusOK {
		return VerifiedDeposit{}, ErrVerificationFailed
	}
	return gateway.verifyResult, nil
}

// memIntentStore is a durable-store stand-in: a single slot that outlives
// any orchestrator instance handed to it.
type memIntentStore struct {
	mutex    sync.Mutex
	courseID CourseID
	present  bool
	saveErr  error
}

func (store *memIntentStore) Save(_ context.Context, id CourseID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.saveErr != nil {
		return store.saveErr
	}
	store.courseID = id
	store.present = true
	return nil
}

func (store *memIntentStore) Read(_ context.Context) (CourseID, bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.courseID, store.present, nil
}

func (store *memIntentStore) Clear(_ context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.courseID = CourseID{}
	store.present = false
	return nil
}

func mustCourseID(test *testing.T, raw string) CourseID {
	test.Helper()
	id, err := NewCourseID(raw)
	if err != nil {
		test.Fatalf("course id %q: %v", raw, err)
	}
	return id
}

func mustToken(test *testing.T, raw string) CorrelationToken {
	test.Helper()
	token, err := NewCorrelationToken(raw)
	if err != nil {
		test.Fatalf("token %q: %v", raw, err)
	}
	return token
}

func mustOrchestrator(test *testing.T, wallet WalletReader, catalog CourseCatalog, enroller Enroller, gateway Gateway, intents IntentStore, options ...OrchestratorOption) *Orchestrator {
	test.Helper()
	orchestrator, err := NewOrchestrator(wallet, catalog, enroller, gateway, intents, options...)
	if err != nil {
		test.Fatalf("orchestrator init: %v", err)
	}
	return orchestrator
}
