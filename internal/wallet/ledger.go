package wallet

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/learnmarket/coursewallet/pkg/purchase"
)

const (
	fetchRetries  = 2
	retryBaseWait = time.Second
)

// Transaction is one ledger line as reported by the backend. The list is
// append-only from the client's perspective and server-ordered.
type Transaction struct {
	ID           string    `json:"id"`
	Amount       int64     `json:"amount"`
	Type         string    `json:"transaction_type"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	BalanceAfter int64     `json:"balance_after"`
}

// BalanceInfo is the backend's balance projection.
type BalanceInfo struct {
	Balance  purchase.Amount
	IsActive bool
}

// Snapshot is one authoritative wallet read. FetchedAt orders snapshots;
// a newer fetch always supersedes an older one, values are never merged.
type Snapshot struct {
	Balance      purchase.Amount
	IsActive     bool
	Transactions []Transaction
	FetchedAt    time.Time
}

// API is the backend surface the ledger client consumes.
type API interface {
	WalletBalance(ctx context.Context) (BalanceInfo, error)
	WalletTransactions(ctx context.Context) ([]Transaction, error)
	WalletDeposit(ctx context.Context, amount purchase.Amount) (purchase.Amount, error)
}

// SnapshotStore persists the latest snapshot as a display hint.
type SnapshotStore interface {
	SaveWalletSnapshot(ctx context.Context, snapshot Snapshot) error
	LoadWalletSnapshot(ctx context.Context) (Snapshot, bool, error)
	ClearWalletSnapshot(ctx context.Context) error
}

// State describes what the ledger client currently knows. Unknown and a
// zero balance are distinct: after a failed fetch the wallet is unknown,
// never zero.
type State string

const (
	StateUnknown State = "unknown"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateError   State = "error"
)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithSnapshotStore persists fetched snapshots for display between runs.
func WithSnapshotStore(store SnapshotStore) LedgerOption {
	return func(ledger *Ledger) {
		ledger.snapshots = store
	}
}

// WithLogger wires a zap logger.
func WithLogger(logger *zap.Logger) LedgerOption {
	return func(ledger *Ledger) {
		ledger.logger = logger
	}
}

// WithSleeper replaces the retry sleeper (used by tests).
func WithSleeper(sleep func(ctx context.Context, wait time.Duration) error) LedgerOption {
	return func(ledger *Ledger) {
		ledger.sleep = sleep
	}
}

// WithClock replaces the snapshot clock (used by tests).
func WithClock(now func() time.Time) LedgerOption {
	return func(ledger *Ledger) {
		ledger.now = now
	}
}

// Ledger is the wallet client. Balances come only from server responses;
// the client never does its own arithmetic beyond displaying what the
// last fetch or deposit reported.
type Ledger struct {
	api       API
	snapshots SnapshotStore
	logger    *zap.Logger
	sleep     func(ctx context.Context, wait time.Duration) error
	now       func() time.Time

	mutex    sync.Mutex
	state    State
	snapshot Snapshot
}

// NewLedger wires a Ledger.
func NewLedger(api API, options ...LedgerOption) (*Ledger, error) {
	if api == nil {
		return nil, purchase.WrapError("wallet", "config", "nil_api", purchase.ErrWalletUnavailable)
	}
	ledger := &Ledger{
		api:    api,
		logger: zap.NewNop(),
		sleep:  sleepContext,
		now:    time.Now,
		state:  StateUnknown,
	}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger, nil
}

// Fetch loads balance and transactions in parallel, retrying the pair up
// to two extra times with 1s/2s backoff. After exhausting retries the
// state is terminal error and the wallet stays unknown.
func (ledger *Ledger) Fetch(ctx context.Context) (Snapshot, error) {
	ledger.setState(StateLoading)

	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<uint(attempt-1))
			if err := ledger.sleep(ctx, wait); err != nil {
				ledger.setState(StateError)
				return Snapshot{}, purchase.WrapError("wallet", "fetch", "canceled", err)
			}
		}

		snapshot, err := ledger.fetchOnce(ctx)
		if err == nil {
			ledger.storeSnapshot(ctx, snapshot)
			return snapshot, nil
		}
		lastErr = err
		ledger.logger.Warn("wallet fetch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	ledger.setState(StateError)
	return Snapshot{}, purchase.WrapError("wallet", "fetch", "exhausted", lastErr)
}

func (ledger *Ledger) fetchOnce(ctx context.Context) (Snapshot, error) {
	var balance BalanceInfo
	var transactions []Transaction

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		info, err := ledger.api.WalletBalance(groupCtx)
		if err != nil {
			return err
		}
		balance = info
		return nil
	})
	group.Go(func() error {
		list, err := ledger.api.WalletTransactions(groupCtx)
		if err != nil {
			return err
		}
		transactions = list
		return nil
	})
	if err := group.Wait(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Balance:      balance.Balance,
		IsActive:     balance.IsActive,
		Transactions: transactions,
		FetchedAt:    ledger.now(),
	}, nil
}

// Balance satisfies purchase.WalletReader with a fresh authoritative
// fetch; affordability decisions never run on a stale or derived value.
func (ledger *Ledger) Balance(ctx context.Context) (purchase.Amount, error) {
	snapshot, err := ledger.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return snapshot.Balance, nil
}

// Deposit sends a direct (non-gateway) deposit and overwrites the local
// balance with the server-reported new balance.
func (ledger *Ledger) Deposit(ctx context.Context, amount purchase.Amount) (purchase.Amount, error) {
	newBalance, err := ledger.api.WalletDeposit(ctx, amount)
	if err != nil {
		return 0, purchase.WrapError("wallet", "deposit", "request", err)
	}

	ledger.mutex.Lock()
	snapshot := ledger.snapshot
	snapshot.Balance = newBalance
	snapshot.FetchedAt = ledger.now()
	ledger.snapshot = snapshot
	ledger.state = StateLoaded
	ledger.mutex.Unlock()

	ledger.persistSnapshot(ctx, snapshot)
	return newBalance, nil
}

// Clear resets to the no-wallet-loaded state; invoked on logout.
func (ledger *Ledger) Clear(ctx context.Context) {
	ledger.mutex.Lock()
	ledger.snapshot = Snapshot{}
	ledger.state = StateUnknown
	ledger.mutex.Unlock()
	if ledger.snapshots != nil {
		if err := ledger.snapshots.ClearWalletSnapshot(ctx); err != nil {
			ledger.logger.Warn("wallet snapshot clear failed", zap.Error(err))
		}
	}
}

// State returns the current fetch state.
func (ledger *Ledger) State() State {
	ledger.mutex.Lock()
	defer ledger.mutex.Unlock()
	return ledger.state
}

// Cached returns the persisted snapshot, if any. It is a display hint
// only; the next Fetch supersedes it wholesale.
func (ledger *Ledger) Cached(ctx context.Context) (Snapshot, bool) {
	if ledger.snapshots == nil {
		return Snapshot{}, false
	}
	snapshot, ok, err := ledger.snapshots.LoadWalletSnapshot(ctx)
	if err != nil {
		return Snapshot{}, false
	}
	return snapshot, ok
}

func (ledger *Ledger) storeSnapshot(ctx context.Context, snapshot Snapshot) {
	ledger.mutex.Lock()
	ledger.snapshot = snapshot
	ledger.state = StateLoaded
	ledger.mutex.Unlock()
	ledger.persistSnapshot(ctx, snapshot)
}

func (ledger *Ledger) persistSnapshot(ctx context.Context, snapshot Snapshot) {
	if ledger.snapshots == nil {
		return
	}
	if err := ledger.snapshots.SaveWalletSnapshot(ctx, snapshot); err != nil {
		ledger.logger.Warn("wallet snapshot persist failed", zap.Error(err))
	}
}

func (ledger *Ledger) setState(state State) {
	ledger.mutex.Lock()
	ledger.state = state
	ledger.mutex.Unlock()
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
