package models

import "time"

// User is a mailbox account reached through a partner connection. Type carries the
// user kind paired with the connection's variant.
type User struct {
	BaseModel

	PartnerConnectionID string `gorm:"type:uuid;not null;uniqueIndex:idx_users_connection_email,priority:1" json:"partner_connection_id"`
	Type                Kind   `gorm:"not null;size:32;index" json:"type"`
	Email               string `gorm:"not null;size:191;uniqueIndex:idx_users_connection_email,priority:2" json:"email"`
	Username            string `json:"username"`
	Secret              string `gorm:"type:text" json:"-"`
	IsActive            bool   `json:"is_active"`

	LastSyncedAt *time.Time `json:"last_synced_at"`
}
