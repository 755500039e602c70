package services

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/mailbridge/internal/models"
	apperrors "github.com/charlesng35/mailbridge/pkg/errors"
)

func TestPartnerConnectionServiceForAuthMechanismEachVariant(t *testing.T) {
	for _, variant := range models.Mechanisms() {
		variant := variant
		t.Run(string(variant.Mechanism), func(t *testing.T) {
			f := newServiceFixture(t)
			ctx := context.Background()
			partner := f.createPartner(t, "Acme")

			conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, string(variant.Mechanism), settingsFor(variant.Mechanism))
			require.NoError(t, err)
			require.Equal(t, variant.Kind, conn.Type)
			require.Equal(t, partner.ID, conn.PartnerID)
			require.Equal(t, variant.Mechanism, conn.AuthMechanism())
			require.Equal(t, string(variant.Mechanism), conn.DisplayName())

			loaded, err := f.connections.Get(ctx, conn.ID)
			require.NoError(t, err)
			require.Equal(t, variant.Kind, loaded.Type)
			require.Equal(t, variant.ConnectionFields, loaded.ConnectionFields())

			user, err := f.users.Create(ctx, conn.ID, CreateMailboxUserInput{Email: "box@example.com", Secret: "s3cret"})
			require.NoError(t, err)
			require.Equal(t, variant.UserKind, user.Type)
		})
	}
}

func TestPartnerConnectionServiceForAuthMechanismIsCaseInsensitive(t *testing.T) {
	f := newServiceFixture(t)
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(context.Background(), partner.ID, " plain ", nil)
	require.NoError(t, err)
	require.Equal(t, models.KindPlain, conn.Type)
}

func TestPartnerConnectionServiceUnknownMechanism(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	_, err := f.connections.ForAuthMechanism(ctx, partner.ID, "KERBEROS", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, models.ErrUnknownAuthMechanism))
	assert.Contains(t, err.Error(), "Unknown auth mechanism: KERBEROS")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "UNKNOWN_AUTH_MECHANISM", appErr.Code)

	_, err = f.connections.WhereAuthMechanism(ctx, "KERBEROS", ConnectionFilter{})
	require.True(t, errors.Is(err, models.ErrUnknownAuthMechanism))

	var count int64
	require.NoError(t, f.db.Model(&models.PartnerConnection{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPartnerConnectionServiceRegisteredMechanismWithoutProvider(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	provider, err := f.providers.FindByAuthMechanism(ctx, "XOAUTH")
	require.NoError(t, err)
	require.NoError(t, f.providers.Delete(ctx, provider.ID))

	_, err = f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH", settingsFor(models.MechanismXOAuth))
	require.True(t, errors.Is(err, models.ErrUnknownAuthMechanism))

	_, err = f.connections.WhereAuthMechanism(ctx, "XOAUTH", ConnectionFilter{})
	require.True(t, errors.Is(err, models.ErrUnknownAuthMechanism))
}

func TestPartnerConnectionServiceDuplicate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	_, err := f.connections.ForAuthMechanism(ctx, partner.ID, "PLAIN", nil)
	require.NoError(t, err)

	_, err = f.connections.ForAuthMechanism(ctx, partner.ID, "PLAIN", nil)
	require.ErrorIs(t, err, ErrConnectionExists)
	require.ErrorIs(t, err, models.ErrDuplicateConnection)

	other := f.createPartner(t, "Globex")
	_, err = f.connections.ForAuthMechanism(ctx, other.ID, "PLAIN", nil)
	require.NoError(t, err)
}

func TestPartnerConnectionServiceValidatesPartnerAndFields(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.connections.ForAuthMechanism(ctx, "", "PLAIN", nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = f.connections.ForAuthMechanism(ctx, "missing", "PLAIN", nil)
	require.ErrorIs(t, err, ErrPartnerNotFound)

	partner := f.createPartner(t, "Acme")
	_, err = f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", map[string]string{"client_id": "abc"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.Contains(t, err.Error(), "client_secret")
}

func TestPartnerConnectionServiceCountersAndDelete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "PLAIN", nil)
	require.NoError(t, err)
	_, err = f.users.Create(ctx, conn.ID, CreateMailboxUserInput{Email: "one@example.com", Secret: "pw"})
	require.NoError(t, err)

	reloaded, err := f.partners.Get(ctx, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.PartnerConnectionsCount)

	provider, err := f.providers.FindByAuthMechanism(ctx, "PLAIN")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.PartnerConnectionsCount)

	require.NoError(t, f.connections.Delete(ctx, conn.ID))

	reloaded, err = f.partners.Get(ctx, partner.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.PartnerConnectionsCount)

	provider, err = f.providers.FindByAuthMechanism(ctx, "PLAIN")
	require.NoError(t, err)
	assert.Zero(t, provider.PartnerConnectionsCount)

	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Where("partner_connection_id = ?", conn.ID).Count(&users).Error)
	assert.Zero(t, users)

	_, err = f.connections.Get(ctx, conn.ID)
	require.ErrorIs(t, err, ErrConnectionNotFound)

	assert.Contains(t, f.auditActions(t), "partner_connection.delete")
}

func TestPartnerConnectionServiceWhereAuthMechanism(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	acme := f.createPartner(t, "Acme")
	globex := f.createPartner(t, "Globex")

	for _, partner := range []string{acme.ID, globex.ID} {
		_, err := f.connections.ForAuthMechanism(ctx, partner, "PLAIN", nil)
		require.NoError(t, err)
	}
	_, err := f.connections.ForAuthMechanism(ctx, acme.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	plain, err := f.connections.WhereAuthMechanism(ctx, "plain", ConnectionFilter{})
	require.NoError(t, err)
	require.Len(t, plain, 2)
	for _, conn := range plain {
		assert.Equal(t, models.KindPlain, conn.Type)
		assert.Equal(t, models.MechanismPlain, conn.AuthMechanism())
	}

	scoped, err := f.connections.WhereAuthMechanism(ctx, "XOAUTH2", ConnectionFilter{PartnerID: globex.ID})
	require.NoError(t, err)
	assert.Empty(t, scoped)

	byPartner, err := f.connections.ListByPartner(ctx, acme.ID)
	require.NoError(t, err)
	assert.Len(t, byPartner, 2)

	_, err = f.connections.ListByPartner(ctx, "missing")
	require.ErrorIs(t, err, ErrPartnerNotFound)
}

func TestPartnerConnectionServiceUpdateSettingsAndDTO(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	updated, err := f.connections.UpdateSettings(ctx, conn.ID, map[string]string{"client_id": "rotated", "tenant": "common"})
	require.NoError(t, err)
	settings, err := updated.SettingsMap()
	require.NoError(t, err)
	assert.Equal(t, "rotated", settings["client_id"])
	assert.Equal(t, "shh", settings["client_secret"])
	assert.Equal(t, "common", settings["tenant"])

	_, err = f.connections.UpdateSettings(ctx, conn.ID, map[string]string{"client_secret": " "})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	fields, err := f.connections.ConnectionFields(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"client_id", "client_secret"}, fields)

	_, err = f.users.Create(ctx, conn.ID, CreateMailboxUserInput{Email: "a@example.com", Secret: "refresh"})
	require.NoError(t, err)

	dto, err := f.connections.ToDTO(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", dto.DisplayName)
	assert.Equal(t, "rotated", dto.Settings["client_id"])
	assert.Equal(t, redacted, dto.Settings["client_secret"])
	assert.Equal(t, int64(1), dto.UserCount)
}

func TestPartnerConnectionServiceUpdateSettingsKeepsRedactedSecrets(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	dto, err := f.connections.ToDTO(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, redacted, dto.Settings["client_secret"])

	dto.Settings["client_id"] = "rotated"
	_, err = f.connections.UpdateSettings(ctx, conn.ID, dto.Settings)
	require.NoError(t, err)

	reloaded, err := f.connections.Get(ctx, conn.ID)
	require.NoError(t, err)
	settings, err := reloaded.SettingsMap()
	require.NoError(t, err)
	assert.Equal(t, "rotated", settings["client_id"])
	assert.Equal(t, "shh", settings["client_secret"])

	cfg, err := f.connections.OAuth2Config(ctx, conn.ID, "https://app.example.com/callback")
	require.NoError(t, err)
	assert.Equal(t, "shh", cfg.ClientSecret)
}

func TestPartnerConnectionServiceCorruptSettings(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	corrupt := datatypes.JSON(`{"client_id":`)
	require.NoError(t, f.db.Model(conn).UpdateColumn("settings", corrupt).Error)

	_, err = f.connections.UpdateSettings(ctx, conn.ID, map[string]string{"client_id": "rotated"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode settings")

	var stored models.PartnerConnection
	require.NoError(t, f.db.First(&stored, "id = ?", conn.ID).Error)
	assert.Equal(t, string(corrupt), string(stored.Settings))

	_, err = f.connections.OAuth2Config(ctx, conn.ID, "https://app.example.com/callback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode settings")

	_, err = f.connections.ToDTO(ctx, &stored)
	require.Error(t, err)
}

func TestPartnerConnectionServiceDeleteTwice(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	plain, err := f.connections.ForAuthMechanism(ctx, partner.ID, "PLAIN", nil)
	require.NoError(t, err)
	_, err = f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	var stale models.PartnerConnection
	require.NoError(t, f.db.First(&stale, "id = ?", plain.ID).Error)

	require.NoError(t, f.connections.Delete(ctx, plain.ID))
	require.ErrorIs(t, f.connections.Delete(ctx, plain.ID), ErrConnectionNotFound)
	require.NoError(t, f.db.Delete(&stale).Error)

	reloaded, err := f.partners.Get(ctx, partner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.PartnerConnectionsCount)

	provider, err := f.providers.FindByAuthMechanism(ctx, "PLAIN")
	require.NoError(t, err)
	assert.Zero(t, provider.PartnerConnectionsCount)
}

func TestPartnerConnectionServiceUsersFiltersByKind(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH", settingsFor(models.MechanismXOAuth))
	require.NoError(t, err)

	_, err = f.users.Create(ctx, conn.ID, CreateMailboxUserInput{Email: "b@example.com", Secret: "t"})
	require.NoError(t, err)
	stray := &models.User{PartnerConnectionID: conn.ID, Type: models.KindPlain, Email: "stray@example.com"}
	require.NoError(t, f.db.Create(stray).Error)

	users, err := f.connections.Users(ctx, conn.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, models.KindOAuth1, users[0].Type)
}

func TestPartnerConnectionServiceAuthorizationURL(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	partner := f.createPartner(t, "Acme")

	conn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "XOAUTH2", settingsFor(models.MechanismXOAuth2))
	require.NoError(t, err)

	raw, err := f.connections.AuthorizationURL(ctx, conn.ID, "https://bridge.example.com/callback", "state-123")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", parsed.Host)
	query := parsed.Query()
	assert.Equal(t, "client", query.Get("client_id"))
	assert.Equal(t, "state-123", query.Get("state"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "https://mail.google.com/", query.Get("scope"))

	plainConn, err := f.connections.ForAuthMechanism(ctx, partner.ID, "PLAIN", nil)
	require.NoError(t, err)
	_, err = f.connections.AuthorizationURL(ctx, plainConn.ID, "", "x")
	require.ErrorIs(t, err, ErrUnsupportedMechanism)
}
