package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// AuthToken holds the single active access/refresh pair for this client
// profile. Exactly one row exists while a session is active.
type AuthToken struct {
	ID           int64     `gorm:"primaryKey"`
	AccessToken  string    `gorm:"not null"`
	RefreshToken string    `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (AuthToken) TableName() string { return "auth_tokens" }

// PendingIntent is the single pending-purchase slot. The fixed primary
// key makes every save a last-write-wins upsert.
type PendingIntent struct {
	Slot      int64     `gorm:"primaryKey"`
	CourseID  string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (PendingIntent) TableName() string { return "pending_intents" }

// WalletSnapshot caches the last authoritative wallet read for display
// between runs. Never used for affordability decisions.
type WalletSnapshot struct {
	ID           int64          `gorm:"primaryKey"`
	Balance      int64          `gorm:"not null"`
	IsActive     bool           `gorm:"not null"`
	Transactions datatypes.JSON `gorm:"not null"`
	FetchedAt    time.Time      `gorm:"not null"`
}

func (WalletSnapshot) TableName() string { return "wallet_snapshots" }

// CourseRecord mirrors the purchase-relevant course projection.
// IsEnrolled is eventually consistent with the backend.
type CourseRecord struct {
	CourseID   string    `gorm:"primaryKey"`
	Title      string    `gorm:""`
	Price      int64     `gorm:"not null"`
	IsEnrolled bool      `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (CourseRecord) TableName() string { return "course_records" }

// Models lists every table for schema migration.
func Models() []any {
	return []any{&AuthToken{}, &PendingIntent{}, &WalletSnapshot{}, &CourseRecord{}}
}
