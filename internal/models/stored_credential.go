package models

import "time"

// StoredCredential key-value row backing the Postgres credential store
type StoredCredential struct {
	Key       string    `json:"key" gorm:"primaryKey;size:128"`
	Value     string    `json:"-" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies table name
func (StoredCredential) TableName() string {
	return "emcp_credentials"
}
