package database

import (
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Partner{},
		&models.ImapProvider{},
		&models.PartnerConnection{},
		&models.User{},
		&models.AuditLog{},
	)
}

// defaultProviders seeds one provider per registered mechanism.
var defaultProviders = []models.ImapProvider{
	{
		Name:          "Generic IMAP (password)",
		AuthMechanism: models.MechanismPlain,
		Port:          993,
		UseTLS:        true,
	},
	{
		Name:          "Google Workspace (XOAUTH2)",
		AuthMechanism: models.MechanismXOAuth2,
		Host:          "imap.gmail.com",
		Port:          993,
		UseTLS:        true,
		AuthURL:       "https://accounts.google.com/o/oauth2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		Scopes:        "https://mail.google.com/",
	},
	{
		Name:          "Legacy OAuth 1.0 (XOAUTH)",
		AuthMechanism: models.MechanismXOAuth,
		Port:          993,
		UseTLS:        true,
	},
}

// SeedData inserts the default imap providers when their mechanism has no provider yet.
func SeedData(db *gorm.DB) error {
	for _, provider := range defaultProviders {
		provider := provider
		if err := db.Where(models.ImapProvider{AuthMechanism: provider.AuthMechanism}).
			Attrs(provider).
			FirstOrCreate(&models.ImapProvider{}).Error; err != nil {
			return err
		}
	}
	return nil
}
