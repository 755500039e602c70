package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/database/testutil"
	"github.com/charlesng35/mailbridge/internal/models"
)

type stubSealer struct {
	err error
}

func (s stubSealer) Encrypt(plaintext []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "stub:" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (s stubSealer) Decrypt(ciphertext string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !strings.HasPrefix(ciphertext, "stub:") {
		return nil, errors.New("stub sealer: unexpected payload")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, "stub:"))
}

type serviceFixture struct {
	db          *gorm.DB
	audit       *AuditService
	partners    *PartnerService
	providers   *ImapProviderService
	connections *PartnerConnectionService
	users       *MailboxUserService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	audit, err := NewAuditService(db)
	require.NoError(t, err)
	partners, err := NewPartnerService(db, audit)
	require.NoError(t, err)
	providers, err := NewImapProviderService(db, audit)
	require.NoError(t, err)
	connections, err := NewPartnerConnectionService(db, audit)
	require.NoError(t, err)
	users, err := NewMailboxUserService(db, connections, stubSealer{}, audit)
	require.NoError(t, err)

	return &serviceFixture{
		db:          db,
		audit:       audit,
		partners:    partners,
		providers:   providers,
		connections: connections,
		users:       users,
	}
}

func (f *serviceFixture) createPartner(t *testing.T, name string) *models.Partner {
	t.Helper()
	partner, err := f.partners.Create(context.Background(), CreatePartnerInput{Name: name})
	require.NoError(t, err)
	return partner
}

func settingsFor(mechanism models.AuthMechanism) map[string]string {
	switch mechanism {
	case models.MechanismXOAuth2:
		return map[string]string{"client_id": "client", "client_secret": "shh"}
	case models.MechanismXOAuth:
		return map[string]string{"consumer_key": "key", "consumer_secret": "shh"}
	default:
		return nil
	}
}

func (f *serviceFixture) auditActions(t *testing.T) []string {
	t.Helper()
	var actions []string
	require.NoError(t, f.db.Model(&models.AuditLog{}).Order("created_at ASC").Pluck("action", &actions).Error)
	return actions
}
