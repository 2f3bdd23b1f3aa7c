package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/learnmarket/coursewallet/internal/backend"
	"github.com/learnmarket/coursewallet/internal/wallet"
	"github.com/learnmarket/coursewallet/pkg/purchase"
)

func openTestDB(test *testing.T) *gorm.DB {
	test.Helper()
	path := filepath.Join(test.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return db
}

func mustStoreCourseID(test *testing.T, raw string) purchase.CourseID {
	test.Helper()
	id, err := purchase.NewCourseID(raw)
	if err != nil {
		test.Fatalf("course id %q: %v", raw, err)
	}
	return id
}

func TestTokenPairRoundTrip(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	tokens := store.Tokens()
	ctx := context.Background()

	if _, has, err := tokens.Load(ctx); err != nil || has {
		test.Fatalf("expected empty store, got has=%v err=%v", has, err)
	}

	pair := backend.TokenPair{Access: "access-1", Refresh: "refresh-1"}
	if err := tokens.Save(ctx, pair); err != nil {
		test.Fatalf("save: %v", err)
	}
	loaded, has, err := tokens.Load(ctx)
	if err != nil || !has {
		test.Fatalf("load: has=%v err=%v", has, err)
	}
	if loaded != pair {
		test.Fatalf("loaded %+v, want %+v", loaded, pair)
	}

	if err := tokens.UpdateAccess(ctx, "access-2"); err != nil {
		test.Fatalf("update access: %v", err)
	}
	loaded, _, _ = tokens.Load(ctx)
	if loaded.Access != "access-2" || loaded.Refresh != "refresh-1" {
		test.Fatalf("expected refreshed access only, got %+v", loaded)
	}

	if err := tokens.Clear(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if _, has, _ := tokens.Load(ctx); has {
		test.Fatal("expected cleared store")
	}
}

func TestUpdateAccessWithoutSessionFails(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	err := store.Tokens().UpdateAccess(context.Background(), "access-1")
	if !errors.Is(err, purchase.ErrNotAuthenticated) {
		test.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSaveOverwritesExistingTokenPair(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	tokens := store.Tokens()
	ctx := context.Background()

	if err := tokens.Save(ctx, backend.TokenPair{Access: "a1", Refresh: "r1"}); err != nil {
		test.Fatalf("first save: %v", err)
	}
	if err := tokens.Save(ctx, backend.TokenPair{Access: "a2", Refresh: "r2"}); err != nil {
		test.Fatalf("second save: %v", err)
	}
	loaded, _, _ := tokens.Load(ctx)
	if loaded.Access != "a2" || loaded.Refresh != "r2" {
		test.Fatalf("expected last pair to win, got %+v", loaded)
	}
}

func TestIntentSlotLastWriteWins(test *testing.T) {
	test.Parallel()

	db := openTestDB(test)
	store := New(db)
	intents := store.Intents()
	ctx := context.Background()

	if _, has, err := intents.Read(ctx); err != nil || has {
		test.Fatalf("expected empty slot, got has=%v err=%v", has, err)
	}

	if err := intents.Save(ctx, mustStoreCourseID(test, "go-101")); err != nil {
		test.Fatalf("save first: %v", err)
	}
	if err := intents.Save(ctx, mustStoreCourseID(test, "go-201")); err != nil {
		test.Fatalf("save second: %v", err)
	}

	// A fresh Store over the same database must see the slot: the intent
	// survives process loss, not just this handle.
	reopened := New(db)
	id, has, err := reopened.Intents().Read(ctx)
	if err != nil || !has {
		test.Fatalf("read after reopen: has=%v err=%v", has, err)
	}
	if id.String() != "go-201" {
		test.Fatalf("expected last write to win, got %q", id.String())
	}

	if err := intents.Clear(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if _, has, _ := intents.Read(ctx); has {
		test.Fatal("expected cleared slot")
	}
}

func TestWalletSnapshotRoundTrip(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	snapshots := store.Snapshots()
	ctx := context.Background()

	balance, err := purchase.NewAmount(45000)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	fetchedAt := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	snapshot := wallet.Snapshot{
		Balance:  balance,
		IsActive: true,
		Transactions: []wallet.Transaction{
			{ID: "txn-1", Amount: 45000, Type: "deposit", Description: "gateway top-up", CreatedAt: fetchedAt, BalanceAfter: 45000},
		},
		FetchedAt: fetchedAt,
	}
	if err := snapshots.SaveWalletSnapshot(ctx, snapshot); err != nil {
		test.Fatalf("save: %v", err)
	}

	loaded, has, err := snapshots.LoadWalletSnapshot(ctx)
	if err != nil || !has {
		test.Fatalf("load: has=%v err=%v", has, err)
	}
	if loaded.Balance.Int64() != 45000 || !loaded.IsActive {
		test.Fatalf("unexpected snapshot %+v", loaded)
	}
	if len(loaded.Transactions) != 1 || loaded.Transactions[0].ID != "txn-1" {
		test.Fatalf("unexpected transactions %+v", loaded.Transactions)
	}
	if !loaded.FetchedAt.Equal(fetchedAt) {
		test.Fatalf("fetched at %v, want %v", loaded.FetchedAt, fetchedAt)
	}

	if err := snapshots.ClearWalletSnapshot(ctx); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if _, has, _ := snapshots.LoadWalletSnapshot(ctx); has {
		test.Fatal("expected cleared snapshot")
	}
}

func TestCourseCacheUpsertAndMarkEnrolled(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	courses := store.Courses()
	ctx := context.Background()

	err := courses.UpsertCourses(ctx, []backend.CourseSummary{
		{ID: "go-101", Title: "Go Basics", Price: 150000},
		{ID: "go-201", Title: "Concurrency", Price: 250000},
	})
	if err != nil {
		test.Fatalf("upsert: %v", err)
	}

	// Second upsert updates in place instead of duplicating.
	err = courses.UpsertCourses(ctx, []backend.CourseSummary{
		{ID: "go-101", Title: "Go Basics, 2nd ed.", Price: 180000},
	})
	if err != nil {
		test.Fatalf("re-upsert: %v", err)
	}

	if err := courses.MarkEnrolled(ctx, "go-201"); err != nil {
		test.Fatalf("mark enrolled: %v", err)
	}

	records, err := courses.List(ctx)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		test.Fatalf("expected 2 records, got %d", len(records))
	}
	byID := map[string]CourseRecord{}
	for _, record := range records {
		byID[record.CourseID] = record
	}
	if byID["go-101"].Price != 180000 || byID["go-101"].Title != "Go Basics, 2nd ed." {
		test.Fatalf("expected updated record, got %+v", byID["go-101"])
	}
	if !byID["go-201"].IsEnrolled {
		test.Fatalf("expected go-201 enrolled, got %+v", byID["go-201"])
	}
}

func TestClearSessionKeepsCourseCache(test *testing.T) {
	test.Parallel()

	store := New(openTestDB(test))
	ctx := context.Background()

	if err := store.Tokens().Save(ctx, backend.TokenPair{Access: "a", Refresh: "r"}); err != nil {
		test.Fatalf("save tokens: %v", err)
	}
	if err := store.Intents().Save(ctx, mustStoreCourseID(test, "go-101")); err != nil {
		test.Fatalf("save intent: %v", err)
	}
	balance, _ := purchase.NewAmount(100)
	if err := store.Snapshots().SaveWalletSnapshot(ctx, wallet.Snapshot{Balance: balance, FetchedAt: time.Now()}); err != nil {
		test.Fatalf("save snapshot: %v", err)
	}
	if err := store.Courses().UpsertCourses(ctx, []backend.CourseSummary{{ID: "go-101", Price: 100}}); err != nil {
		test.Fatalf("upsert courses: %v", err)
	}

	if err := store.ClearSession(ctx); err != nil {
		test.Fatalf("clear session: %v", err)
	}

	if _, has, _ := store.Tokens().Load(ctx); has {
		test.Fatal("expected tokens cleared")
	}
	if _, has, _ := store.Intents().Read(ctx); has {
		test.Fatal("expected intent cleared")
	}
	if _, has, _ := store.Snapshots().LoadWalletSnapshot(ctx); has {
		test.Fatal("expected snapshot cleared")
	}
	records, err := store.Courses().List(ctx)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		test.Fatalf("course cache must survive session clear, got %d records", len(records))
	}
}
