package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnmarket/coursewallet/internal/backend"
	"github.com/learnmarket/coursewallet/internal/wallet"
	"github.com/learnmarket/coursewallet/pkg/purchase"
)

const (
	tokenRowID      int64 = 1
	intentSlotID    int64 = 1
	snapshotRowID   int64 = 1
	errorOperation        = "store"
	errorSubjectTokens    = "tokens"
	errorSubjectIntent    = "intent"
	errorSubjectSnapshot  = "snapshot"
	errorSubjectCourses   = "courses"
	errorCodeSave         = "save"
	errorCodeLoad         = "load"
	errorCodeClear        = "clear"
	errorCodeUpdate       = "update"
	errorCodeEncode       = "encode"
	errorCodeDecode       = "decode"
)

// Store bundles the durable client state behind typed views.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Tokens returns the auth-token view.
func (store *Store) Tokens() *Tokens {
	return &Tokens{db: store.db}
}

// Intents returns the pending-purchase view.
func (store *Store) Intents() *Intents {
	return &Intents{db: store.db}
}

// Snapshots returns the wallet-snapshot view.
func (store *Store) Snapshots() *Snapshots {
	return &Snapshots{db: store.db}
}

// Courses returns the course-cache view.
func (store *Store) Courses() *Courses {
	return &Courses{db: store.db}
}

// ClearSession wipes everything tied to the authenticated session in one
// transaction: token pair, pending intent, and wallet snapshot. The
// course cache survives; it is not session-scoped.
func (store *Store) ClearSession(ctx context.Context) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("id = ?", tokenRowID).Delete(&AuthToken{}).Error; err != nil {
			return err
		}
		if err := transaction.Where("slot = ?", intentSlotID).Delete(&PendingIntent{}).Error; err != nil {
			return err
		}
		return transaction.Where("id = ?", snapshotRowID).Delete(&WalletSnapshot{}).Error
	})
	if err != nil {
		return wrapStoreError(errorSubjectTokens, errorCodeClear, err)
	}
	return nil
}

// Tokens implements backend.TokenStore on the single auth_tokens row.
type Tokens struct {
	db *gorm.DB
}

func (tokens *Tokens) Load(ctx context.Context) (backend.TokenPair, bool, error) {
	var row AuthToken
	err := tokens.db.WithContext(ctx).Where("id = ?", tokenRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return backend.TokenPair{}, false, nil
	}
	if err != nil {
		return backend.TokenPair{}, false, wrapStoreError(errorSubjectTokens, errorCodeLoad, err)
	}
	return backend.TokenPair{Access: row.AccessToken, Refresh: row.RefreshToken}, true, nil
}

func (tokens *Tokens) Save(ctx context.Context, pair backend.TokenPair) error {
	row := AuthToken{
		ID:           tokenRowID,
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		UpdatedAt:    time.Now().UTC(),
	}
	err := tokens.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectTokens, errorCodeSave, err)
	}
	return nil
}

func (tokens *Tokens) UpdateAccess(ctx context.Context, access string) error {
	result := tokens.db.WithContext(ctx).
		Model(&AuthToken{}).
		Where("id = ?", tokenRowID).
		Updates(map[string]any{"access_token": access, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectTokens, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTokens, errorCodeUpdate, purchase.ErrNotAuthenticated)
	}
	return nil
}

func (tokens *Tokens) Clear(ctx context.Context) error {
	err := tokens.db.WithContext(ctx).Where("id = ?", tokenRowID).Delete(&AuthToken{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectTokens, errorCodeClear, err)
	}
	return nil
}

// Intents implements purchase.IntentStore on the single pending slot.
type Intents struct {
	db *gorm.DB
}

func (intents *Intents) Save(ctx context.Context, id purchase.CourseID) error {
	row := PendingIntent{
		Slot:      intentSlotID,
		CourseID:  id.String(),
		UpdatedAt: time.Now().UTC(),
	}
	err := intents.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"course_id", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectIntent, errorCodeSave, err)
	}
	return nil
}

func (intents *Intents) Read(ctx context.Context) (purchase.CourseID, bool, error) {
	var row PendingIntent
	err := intents.db.WithContext(ctx).Where("slot = ?", intentSlotID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return purchase.CourseID{}, false, nil
	}
	if err != nil {
		return purchase.CourseID{}, false, wrapStoreError(errorSubjectIntent, errorCodeLoad, err)
	}
	courseID, err := purchase.NewCourseID(row.CourseID)
	if err != nil {
		return purchase.CourseID{}, false, wrapStoreError(errorSubjectIntent, errorCodeDecode, err)
	}
	return courseID, true, nil
}

func (intents *Intents) Clear(ctx context.Context) error {
	err := intents.db.WithContext(ctx).Where("slot = ?", intentSlotID).Delete(&PendingIntent{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectIntent, errorCodeClear, err)
	}
	return nil
}

// Snapshots implements wallet.SnapshotStore on the single snapshot row.
type Snapshots struct {
	db *gorm.DB
}

func (snapshots *Snapshots) SaveWalletSnapshot(ctx context.Context, snapshot wallet.Snapshot) error {
	encoded, err := json.Marshal(snapshot.Transactions)
	if err != nil {
		return wrapStoreError(errorSubjectSnapshot, errorCodeEncode, err)
	}
	row := WalletSnapshot{
		ID:           snapshotRowID,
		Balance:      snapshot.Balance.Int64(),
		IsActive:     snapshot.IsActive,
		Transactions: datatypes.JSON(encoded),
		FetchedAt:    snapshot.FetchedAt.UTC(),
	}
	err = snapshots.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance", "is_active", "transactions", "fetched_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSnapshot, errorCodeSave, err)
	}
	return nil
}

func (snapshots *Snapshots) LoadWalletSnapshot(ctx context.Context) (wallet.Snapshot, bool, error) {
	var row WalletSnapshot
	err := snapshots.db.WithContext(ctx).Where("id = ?", snapshotRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Snapshot{}, false, nil
	}
	if err != nil {
		return wallet.Snapshot{}, false, wrapStoreError(errorSubjectSnapshot, errorCodeLoad, err)
	}
	balance, err := purchase.NewAmount(row.Balance)
	if err != nil {
		return wallet.Snapshot{}, false, wrapStoreError(errorSubjectSnapshot, errorCodeDecode, err)
	}
	var transactions []wallet.Transaction
	if len(row.Transactions) > 0 {
		if err := json.Unmarshal(row.Transactions, &transactions); err != nil {
			return wallet.Snapshot{}, false, wrapStoreError(errorSubjectSnapshot, errorCodeDecode, err)
		}
	}
	return wallet.Snapshot{
		Balance:      balance,
		IsActive:     row.IsActive,
		Transactions: transactions,
		FetchedAt:    row.FetchedAt,
	}, true, nil
}

func (snapshots *Snapshots) ClearWalletSnapshot(ctx context.Context) error {
	err := snapshots.db.WithContext(ctx).Where("id = ?", snapshotRowID).Delete(&WalletSnapshot{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSnapshot, errorCodeClear, err)
	}
	return nil
}

// Courses implements backend.CourseCache.
type Courses struct {
	db *gorm.DB
}

func (courses *Courses) UpsertCourses(ctx context.Context, summaries []backend.CourseSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	rows := make([]CourseRecord, 0, len(summaries))
	now := time.Now().UTC()
	for _, summary := range summaries {
		rows = append(rows, CourseRecord{
			CourseID:   summary.ID,
			Title:      summary.Title,
			Price:      summary.Price,
			IsEnrolled: summary.IsEnrolled,
			UpdatedAt:  now,
		})
	}
	err := courses.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "course_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "price", "is_enrolled", "updated_at"}),
		}).
		Create(&rows).Error
	if err != nil {
		return wrapStoreError(errorSubjectCourses, errorCodeSave, err)
	}
	return nil
}

func (courses *Courses) MarkEnrolled(ctx context.Context, courseID string) error {
	result := courses.db.WithContext(ctx).
		Model(&CourseRecord{}).
		Where("course_id = ?", courseID).
		Updates(map[string]any{"is_enrolled": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCourses, errorCodeUpdate, result.Error)
	}
	return nil
}

// List returns the cached course projections, most recently updated first.
func (courses *Courses) List(ctx context.Context) ([]CourseRecord, error) {
	var rows []CourseRecord
	err := courses.db.WithContext(ctx).Order("updated_at DESC").Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCourses, errorCodeLoad, err)
	}
	return rows, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return purchase.WrapError(errorOperation, subject, code, err)
}
