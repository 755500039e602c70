package models

import (
	"strings"

	"gorm.io/gorm"
)

// ImapProvider describes a mail provider reachable through one authentication mechanism.
type ImapProvider struct {
	BaseModel

	Name          string        `gorm:"not null" json:"name"`
	AuthMechanism AuthMechanism `gorm:"not null;uniqueIndex;size:32" json:"auth_mechanism"`
	Kind          Kind          `gorm:"column:type;not null;size:32" json:"type"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	UseTLS        bool          `json:"use_tls"`

	AuthURL  string `json:"auth_url"`
	TokenURL string `json:"token_url"`
	Scopes   string `json:"scopes"`

	PartnerConnectionsCount int64 `gorm:"not null;default:0" json:"partner_connections_count"`

	PartnerConnections []PartnerConnection `gorm:"foreignKey:ImapProviderID" json:"-"`
}

// BeforeSave normalises the mechanism and derives the subtype tag from the registry.
func (p *ImapProvider) BeforeSave(tx *gorm.DB) error {
	if p.AuthMechanism == "" {
		return nil
	}
	variant, err := LookupMechanism(string(p.AuthMechanism))
	if err != nil {
		return err
	}
	p.AuthMechanism = variant.Mechanism
	p.Kind = variant.Kind
	return nil
}

// ScopeList splits the comma separated scope column.
func (p *ImapProvider) ScopeList() []string {
	if p == nil || strings.TrimSpace(p.Scopes) == "" {
		return nil
	}
	parts := strings.Split(p.Scopes, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
