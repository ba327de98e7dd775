// internal/storage/models/registration.go
package models

import "time"

// Registration is the creator metadata of a content token.
type Registration struct {
	BaseModel
	ContentID        string    `gorm:"unique;not null;type:varchar(512)"`
	Token            string    `gorm:"unique;not null;type:varchar(42)"`
	Creator          string    `gorm:"index;not null;type:varchar(42)"`
	PlatformReferrer string    `gorm:"type:varchar(42)"`
	Name             string    `gorm:"type:varchar(100)"`
	Symbol           string    `gorm:"type:varchar(20)"`
	URI              string    `gorm:"type:text"`
	RegisteredAt     time.Time `gorm:"not null"`
}
