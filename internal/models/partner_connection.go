package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appValidator "github.com/charlesng35/mailbridge/pkg/validator"
)

var (
	// ErrPartnerRequired is returned when a connection has no partner reference.
	ErrPartnerRequired = errors.New("partner connection: partner is required")
	// ErrProviderRequired is returned when a connection has no imap provider reference.
	ErrProviderRequired = errors.New("partner connection: imap provider is required")
	// ErrDuplicateConnection signals a second connection for the same partner and provider.
	ErrDuplicateConnection = errors.New("partner connection: imap provider already connected for partner")
)

// PartnerConnection links one partner to one imap provider and owns the mailbox users
// authenticated through it. Type mirrors the provider's kind.
type PartnerConnection struct {
	BaseModel

	PartnerID      string         `gorm:"type:uuid;not null;uniqueIndex:idx_partner_connections_pair,priority:1" json:"partner_id" validate:"required"`
	ImapProviderID string         `gorm:"type:uuid;not null;index;uniqueIndex:idx_partner_connections_pair,priority:2" json:"imap_provider_id" validate:"required"`
	Type           Kind           `gorm:"not null;size:32;index" json:"type"`
	Settings       datatypes.JSON `json:"-"`

	Partner      *Partner      `gorm:"foreignKey:PartnerID" json:"partner,omitempty"`
	ImapProvider *ImapProvider `gorm:"foreignKey:ImapProviderID" json:"imap_provider,omitempty"`
	Users        []User        `gorm:"foreignKey:PartnerConnectionID" json:"users,omitempty"`

	stored bool
}

// BeforeCreate assigns an ID, checks presence of both references and rejects duplicate pairs.
func (c *PartnerConnection) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}

	var count int64
	if err := tx.Session(&gorm.Session{NewDB: true}).Model(&PartnerConnection{}).
		Where("partner_id = ? AND imap_provider_id = ?", c.PartnerID, c.ImapProviderID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateConnection
	}
	return nil
}

// AfterCreate bumps the denormalised counters on both parents.
func (c *PartnerConnection) AfterCreate(tx *gorm.DB) error {
	return c.adjustCounters(tx, 1)
}

// BeforeDelete locks the row and destroys dependent mailbox users. A row that is
// already gone is remembered so AfterDelete leaves the counters alone.
func (c *PartnerConnection) BeforeDelete(tx *gorm.DB) error {
	c.stored = false
	if c.ID == "" {
		return nil
	}
	session := tx.Session(&gorm.Session{NewDB: true})

	var ids []string
	if err := session.Model(&PartnerConnection{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", c.ID).
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c.stored = true

	return session.Where("partner_connection_id = ?", c.ID).Delete(&User{}).Error
}

// AfterDelete decrements the denormalised counters on both parents.
func (c *PartnerConnection) AfterDelete(tx *gorm.DB) error {
	if !c.stored {
		return nil
	}
	c.stored = false
	return c.adjustCounters(tx, -1)
}

// Validate enforces presence of the partner and provider references.
func (c *PartnerConnection) Validate() error {
	err := appValidator.ValidateStruct(c)
	if err == nil {
		return nil
	}
	var failures appValidator.ValidationErrors
	if errors.As(err, &failures) {
		for _, failure := range failures {
			switch failure.Field {
			case "imap_provider_id":
				return ErrProviderRequired
			case "partner_id":
				return ErrPartnerRequired
			}
		}
	}
	return err
}

// DisplayName is the label shown in list views.
func (c *PartnerConnection) DisplayName() string {
	return string(c.AuthMechanism())
}

// AuthMechanism returns the mechanism of the loaded provider.
func (c *PartnerConnection) AuthMechanism() AuthMechanism {
	if c == nil || c.ImapProvider == nil {
		return ""
	}
	return c.ImapProvider.AuthMechanism
}

// Variant resolves the registry entry for the connection's type.
func (c *PartnerConnection) Variant() (Variant, bool) {
	return VariantForKind(c.Type)
}

// ConnectionFields lists the settings keys required by the connection's variant.
func (c *PartnerConnection) ConnectionFields() []string {
	variant, ok := c.Variant()
	if !ok {
		return []string{}
	}
	return variant.ConnectionFields
}

// SettingsMap decodes the stored settings payload.
func (c *PartnerConnection) SettingsMap() (map[string]string, error) {
	out := map[string]string{}
	if c == nil || len(c.Settings) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(c.Settings, &out); err != nil {
		return nil, fmt.Errorf("partner connection: decode settings: %w", err)
	}
	return out, nil
}

// SetSettings encodes settings into the JSON column.
func (c *PartnerConnection) SetSettings(settings map[string]string) error {
	if settings == nil {
		settings = map[string]string{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	c.Settings = datatypes.JSON(data)
	return nil
}

// UsersScope narrows a query to the mailbox users matching this connection's variant.
func (c *PartnerConnection) UsersScope(tx *gorm.DB) *gorm.DB {
	userKind := Kind("")
	if variant, ok := c.Variant(); ok {
		userKind = variant.UserKind
	}
	return tx.Model(&User{}).
		Where("partner_connection_id = ? AND type = ?", c.ID, userKind)
}

func (c *PartnerConnection) adjustCounters(tx *gorm.DB, delta int) error {
	if c.PartnerID == "" || c.ImapProviderID == "" {
		return nil
	}
	db := tx.Session(&gorm.Session{NewDB: true})
	expr := gorm.Expr("partner_connections_count + ?", delta)

	partnerQuery := db.Model(&Partner{}).Where("id = ?", c.PartnerID)
	providerQuery := db.Model(&ImapProvider{}).Where("id = ?", c.ImapProviderID)
	if delta < 0 {
		partnerQuery = partnerQuery.Where("partner_connections_count > 0")
		providerQuery = providerQuery.Where("partner_connections_count > 0")
	}

	if err := partnerQuery.UpdateColumn("partner_connections_count", expr).Error; err != nil {
		return err
	}
	return providerQuery.UpdateColumn("partner_connections_count", expr).Error
}
