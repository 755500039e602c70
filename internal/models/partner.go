package models

// Partner is an organisation owning IMAP provider connections.
type Partner struct {
	BaseModel

	Name         string `gorm:"not null;uniqueIndex;size:191" json:"name" validate:"required"`
	Description  string `json:"description"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`

	PartnerConnectionsCount int64 `gorm:"not null;default:0" json:"partner_connections_count"`

	PartnerConnections []PartnerConnection `gorm:"foreignKey:PartnerID" json:"partner_connections,omitempty"`
}
