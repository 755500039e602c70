package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/mailbridge/internal/handlers/testutil"
	"github.com/charlesng35/mailbridge/internal/models"
)

func TestPartnerHandlers_CRUD(t *testing.T) {
	env := testutil.NewEnv(t)

	var created models.Partner
	testutil.MustCreate(env, "/api/partners", map[string]any{
		"name":          "Acme",
		"description":   "Mail relay customer",
		"contact_email": "ops@acme.test",
	}, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Acme", created.Name)

	w := env.Request(http.MethodGet, "/api/partners", nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	var partners []models.Partner
	testutil.DecodeInto(t, resp.Data, &partners)
	require.Len(t, partners, 1)
	require.NotNil(t, resp.Meta)
	require.Equal(t, 1, resp.Meta.Total)

	w = env.Request(http.MethodPatch, "/api/partners/"+created.ID, map[string]any{
		"description": "Renamed",
	}, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Partner
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &updated)
	require.Equal(t, "Renamed", updated.Description)
	require.Equal(t, "Acme", updated.Name)

	w = env.Request(http.MethodDelete, "/api/partners/"+created.ID, nil, env.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/partners/"+created.ID, nil, env.Token)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp = testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "PARTNER_NOT_FOUND", resp.Error.Code)
}

func TestPartnerHandlers_Validation(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/partners", map[string]any{"contact_email": "not-an-email"}, env.Token)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "name is required")
	require.Contains(t, resp.Error.Message, "contact email must be a valid email address")
}

func TestAPI_RequiresTokenAndScopes(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/api/partners", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/partners", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	readOnly := env.IssueToken("viewer@test", "read")
	w = env.Request(http.MethodGet, "/api/partners", nil, readOnly)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodPost, "/api/partners", map[string]any{"name": "Blocked"}, readOnly)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "FORBIDDEN", testutil.DecodeResponse(t, w).Error.Code)
}
