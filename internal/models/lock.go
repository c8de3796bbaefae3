package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LockType string

const (
	LockExclusive LockType = "exclusive"
	LockShared    LockType = "shared"
)

// DocumentLock is both the wire representation of a lock and the store's
// lock row. At most one exclusive lock may be active per document; a shared
// lock and an exclusive lock held by different users exclude each other.
type DocumentLock struct {
	DocumentID string    `json:"document_id" gorm:"type:char(27);primaryKey"`
	UserID     string    `json:"user_id" gorm:"type:varchar(128);not null"`
	LockType   LockType  `json:"lock_type" gorm:"type:varchar(16);not null;default:'exclusive'"`
	Token      string    `json:"token" gorm:"type:char(36);not null"`
	AcquiredAt time.Time `json:"acquired_at" gorm:"column:acquired_at;autoCreateTime"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"column:expires_at;not null"`
}

// BeforeCreate hook mints the lock token before inserting
func (l *DocumentLock) BeforeCreate(tx *gorm.DB) error {
	if l.Token == "" {
		l.Token = uuid.NewString()
	}
	return nil
}

// Expired reports whether the lock's TTL has passed.
func (l *DocumentLock) Expired() bool {
	return l.ExpiresAt.Before(time.Now())
}

// HeldByOther reports whether the lock blocks writes by userID.
func (l *DocumentLock) HeldByOther(userID string) bool {
	return !l.Expired() && l.UserID != userID
}

// LockRequest is the body of POST lock.
type LockRequest struct {
	UserID   string   `json:"user_id"`
	LockType LockType `json:"lock_type"`
	TTL      Duration `json:"ttl"`
}

// Duration marshals as integer milliseconds on the wire.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Duration(d).Milliseconds(), 10)), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}
