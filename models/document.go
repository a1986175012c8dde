package models

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultDocumentKey names the single row holding the relay state.
const DefaultDocumentKey = "default"

// StateDocument stores the whole State as one JSON snapshot row.
// Version is bumped on every write so concurrent writers can be detected.
type StateDocument struct {
	Name      string         `json:"name" gorm:"primaryKey;size:64"`
	Snapshot  datatypes.JSON `json:"snapshot" gorm:"not null"`
	Version   int64          `json:"version" gorm:"not null;default:0"`
	UpdatedAt time.Time      `json:"updated_at"`
}
