package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type DocumentFormat string

const (
	FormatMarkdown DocumentFormat = "markdown"
	FormatJSON     DocumentFormat = "json"
	FormatText     DocumentFormat = "text"
)

// Document represents a library document held by the store.
// IDs are KSUIDs: time-ordered, index-friendly, 27 chars.
type Document struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	Content   string         `json:"content" gorm:"type:text;not null"`
	Format    DocumentFormat `json:"format" gorm:"type:varchar(50);not null;default:'markdown'"`
	Version   int            `json:"version" gorm:"not null;default:1"`
	Metadata  map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json;default:'{}'"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"` // Soft delete support
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

type DocumentCreate struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Format   DocumentFormat `json:"format"`
	Metadata map[string]any `json:"metadata"`
}

// DocumentContent is the payload returned by the store's content endpoint.
type DocumentContent struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
}

// SaveAck acknowledges a single auto-save request.
type SaveAck struct {
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	SavedAt    time.Time `json:"saved_at"`
}
