package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// VersionRecord is one entry of a document's append-only version history.
// Records are immutable once created; insertion order is significant.
type VersionRecord struct {
	ID                string    `json:"-" gorm:"type:char(27);primaryKey"`
	DocumentID        string    `json:"document_id" gorm:"type:char(27);not null;index:idx_doc_version,unique,priority:1"`
	Version           int       `json:"version" gorm:"not null;index:idx_doc_version,unique,priority:2"`
	Timestamp         time.Time `json:"timestamp" gorm:"column:timestamp;autoCreateTime"`
	Author            string    `json:"author" gorm:"type:varchar(128);not null"`
	ChangeDescription string    `json:"change_description" gorm:"type:text;not null"`
	SizeBytes         int64     `json:"size_bytes" gorm:"not null;default:0"`
	Promoted          bool      `json:"promoted,omitempty" gorm:"not null;default:false"`

	// Snapshot is the document content as of this version. Kept out of the
	// wire format; restore and promote read it server-side.
	Snapshot string `json:"-" gorm:"type:text"`
}

// BeforeCreate hook generates KSUID before inserting
func (v *VersionRecord) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = ksuid.New().String()
	}
	return nil
}

// VersionCreate is the body of POST versions.
type VersionCreate struct {
	Author            string `json:"author"`
	ChangeDescription string `json:"change_description"`
	Content           string `json:"content,omitempty"`
}
