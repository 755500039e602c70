package handlers_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/mailbridge/internal/handlers/testutil"
	"github.com/charlesng35/mailbridge/internal/models"
	"github.com/charlesng35/mailbridge/internal/services"
)

func createPartner(t *testing.T, env *testutil.Env, name string) models.Partner {
	t.Helper()
	var partner models.Partner
	testutil.MustCreate(env, "/api/partners", map[string]any{"name": name}, &partner)
	return partner
}

func createConnection(t *testing.T, env *testutil.Env, partnerID, mechanism string, settings map[string]string) services.PartnerConnectionDTO {
	t.Helper()
	var dto services.PartnerConnectionDTO
	testutil.MustCreate(env, "/api/partners/"+partnerID+"/connections", map[string]any{
		"auth_mechanism": mechanism,
		"settings":       settings,
	}, &dto)
	return dto
}

func TestConnectionHandlers_FactoryPerMechanism(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")

	settings := map[models.AuthMechanism]map[string]string{
		models.MechanismPlain:   nil,
		models.MechanismXOAuth2: {"client_id": "cid", "client_secret": "shh"},
		models.MechanismXOAuth:  {"consumer_key": "ck", "consumer_secret": "cs"},
	}

	for _, variant := range models.Mechanisms() {
		dto := createConnection(t, env, partner.ID, string(variant.Mechanism), settings[variant.Mechanism])
		require.Equal(t, variant.Kind, dto.Type)
		require.Equal(t, variant.Mechanism, dto.AuthMechanism)
		require.Equal(t, string(variant.Mechanism), dto.DisplayName)
		require.Equal(t, partner.ID, dto.PartnerID)
		for _, field := range variant.ConnectionFields {
			require.Contains(t, dto.Settings, field)
		}
	}

	w := env.Request(http.MethodGet, "/api/partners/"+partner.ID+"/connections", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var listed []services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &listed)
	require.Len(t, listed, len(models.Mechanisms()))
}

func TestConnectionHandlers_UnknownMechanism(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")

	w := env.Request(http.MethodPost, "/api/partners/"+partner.ID+"/connections", map[string]any{
		"auth_mechanism": "KERBEROS",
	}, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "UNKNOWN_AUTH_MECHANISM", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "KERBEROS")

	w = env.Request(http.MethodGet, "/api/connections?auth_mechanism=KERBEROS", nil, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "UNKNOWN_AUTH_MECHANISM", testutil.DecodeResponse(t, w).Error.Code)

	var count int64
	require.NoError(t, env.DB.Model(&models.PartnerConnection{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestConnectionHandlers_WhereAuthMechanism(t *testing.T) {
	env := testutil.NewEnv(t)
	acme := createPartner(t, env, "Acme")
	globex := createPartner(t, env, "Globex")

	createConnection(t, env, acme.ID, "PLAIN", nil)
	createConnection(t, env, globex.ID, "PLAIN", nil)
	createConnection(t, env, acme.ID, "XOAUTH2", map[string]string{"client_id": "cid", "client_secret": "shh"})

	w := env.Request(http.MethodGet, "/api/connections?auth_mechanism=plain", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plain []services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &plain)
	require.Len(t, plain, 2)
	for _, dto := range plain {
		require.Equal(t, models.KindPlain, dto.Type)
	}

	w = env.Request(http.MethodGet, "/api/connections?auth_mechanism=PLAIN&partner_id="+acme.ID, nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var scoped []services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &scoped)
	require.Len(t, scoped, 1)
	require.Equal(t, acme.ID, scoped[0].PartnerID)

	w = env.Request(http.MethodGet, "/api/connections", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var all []services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &all)
	require.Len(t, all, 3)
}

func TestConnectionHandlers_DuplicateConflicts(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")
	createConnection(t, env, partner.ID, "PLAIN", nil)

	w := env.Request(http.MethodPost, "/api/partners/"+partner.ID+"/connections", map[string]any{
		"auth_mechanism": "PLAIN",
	}, env.Token)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "PARTNER_CONNECTION_EXISTS", testutil.DecodeResponse(t, w).Error.Code)
}

func TestConnectionHandlers_MissingFieldsAndPartner(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")

	w := env.Request(http.MethodPost, "/api/partners/"+partner.ID+"/connections", map[string]any{
		"auth_mechanism": "XOAUTH2",
		"settings":       map[string]string{"client_id": "cid"},
	}, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "client_secret")

	w = env.Request(http.MethodPost, "/api/partners/missing/connections", map[string]any{
		"auth_mechanism": "PLAIN",
	}, env.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "PARTNER_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/partners/"+partner.ID+"/connections", map[string]any{}, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "auth mechanism is required")
}

func TestConnectionHandlers_UsersLifecycle(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")
	conn := createConnection(t, env, partner.ID, "XOAUTH2", map[string]string{"client_id": "cid", "client_secret": "shh"})

	var user models.User
	testutil.MustCreate(env, "/api/connections/"+conn.ID+"/users", map[string]any{
		"email":  "jane@acme.test",
		"secret": "refresh-token",
	}, &user)
	require.Equal(t, models.KindOAuth2, user.Type)
	require.Equal(t, conn.ID, user.PartnerConnectionID)

	w := env.Request(http.MethodGet, "/api/connections/"+conn.ID+"/users", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "refresh-token")
	var users []models.User
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &users)
	require.Len(t, users, 1)

	w = env.Request(http.MethodGet, "/api/connections/"+conn.ID, nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &fetched)
	require.EqualValues(t, 1, fetched.UserCount)

	other := createConnection(t, env, partner.ID, "PLAIN", nil)
	w = env.Request(http.MethodDelete, "/api/connections/"+other.ID+"/users/"+user.ID, nil, env.Token)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.Request(http.MethodDelete, "/api/connections/"+conn.ID, nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var remaining int64
	require.NoError(t, env.DB.Model(&models.User{}).Where("partner_connection_id = ?", conn.ID).Count(&remaining).Error)
	require.Zero(t, remaining)

	w = env.Request(http.MethodGet, "/api/partners/"+partner.ID, nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var reloaded models.Partner
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &reloaded)
	require.EqualValues(t, 1, reloaded.PartnerConnectionsCount)
}

func TestConnectionHandlers_UpdateSettings(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")
	conn := createConnection(t, env, partner.ID, "XOAUTH", map[string]string{"consumer_key": "ck", "consumer_secret": "cs"})

	w := env.Request(http.MethodPatch, "/api/connections/"+conn.ID+"/settings", map[string]any{
		"settings": map[string]string{"consumer_key": "rotated"},
	}, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var dto services.PartnerConnectionDTO
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &dto)
	require.Equal(t, "rotated", dto.Settings["consumer_key"])
	require.Contains(t, dto.Settings, "consumer_secret")

	w = env.Request(http.MethodPatch, "/api/connections/"+conn.ID+"/settings", map[string]any{
		"settings": dto.Settings,
	}, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stored models.PartnerConnection
	require.NoError(t, env.DB.First(&stored, "id = ?", conn.ID).Error)
	settings, err := stored.SettingsMap()
	require.NoError(t, err)
	require.Equal(t, "cs", settings["consumer_secret"])
	require.Equal(t, "rotated", settings["consumer_key"])
}

func TestConnectionHandlers_Authorize(t *testing.T) {
	env := testutil.NewEnv(t)
	partner := createPartner(t, env, "Acme")
	oauth := createConnection(t, env, partner.ID, "XOAUTH2", map[string]string{"client_id": "cid", "client_secret": "shh"})
	plain := createConnection(t, env, partner.ID, "PLAIN", nil)

	w := env.Request(http.MethodGet, "/api/connections/"+oauth.ID+"/authorize", nil, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.Request(http.MethodGet, "/api/connections/"+oauth.ID+"/authorize?state=xyz", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payload struct {
		AuthorizationURL string `json:"authorization_url"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &payload)

	parsed, err := url.Parse(payload.AuthorizationURL)
	require.NoError(t, err)
	require.Equal(t, "accounts.google.com", parsed.Host)
	query := parsed.Query()
	require.Equal(t, "cid", query.Get("client_id"))
	require.Equal(t, "xyz", query.Get("state"))
	require.Equal(t, "https://bridge.test/oauth/callback", query.Get("redirect_uri"))

	w = env.Request(http.MethodGet, "/api/connections/"+plain.ID+"/authorize?state=xyz", nil, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "UNSUPPORTED_AUTH_MECHANISM", testutil.DecodeResponse(t, w).Error.Code)
}
