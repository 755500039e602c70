package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/mailbridge/internal/models"
	"github.com/charlesng35/mailbridge/internal/services"
	"github.com/charlesng35/mailbridge/pkg/errors"
	"github.com/charlesng35/mailbridge/pkg/response"
)

// ConnectionHandler serves partner connections and the mailbox users they own.
type ConnectionHandler struct {
	connections *services.PartnerConnectionService
	users       *services.MailboxUserService
	redirectURL string
}

type createConnectionRequest struct {
	AuthMechanism string            `json:"auth_mechanism" validate:"required"`
	Settings      map[string]string `json:"settings"`
}

type updateSettingsRequest struct {
	Settings map[string]string `json:"settings" validate:"required"`
}

type createMailboxUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"omitempty,max=255"`
	Secret   string `json:"secret" validate:"required"`
}

func NewConnectionHandler(connections *services.PartnerConnectionService, users *services.MailboxUserService, redirectURL string) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, users: users, redirectURL: redirectURL}
}

// GET /api/connections?auth_mechanism=&partner_id=
func (h *ConnectionHandler) List(c *gin.Context) {
	ctx := requestContext(c)
	filter := services.ConnectionFilter{PartnerID: c.Query("partner_id")}

	var (
		connections []models.PartnerConnection
		err         error
	)
	if mechanism, ok := c.GetQuery("auth_mechanism"); ok {
		connections, err = h.connections.WhereAuthMechanism(ctx, mechanism, filter)
	} else {
		connections, err = h.connections.List(ctx, filter)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondList(c, connections)
}

// GET /api/partners/:id/connections
func (h *ConnectionHandler) ListByPartner(c *gin.Context) {
	connections, err := h.connections.ListByPartner(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.respondList(c, connections)
}

// POST /api/partners/:id/connections
func (h *ConnectionHandler) Create(c *gin.Context) {
	var body createConnectionRequest
	if !bindAndValidate(c, &body) {
		return
	}

	ctx := requestContext(c)
	conn, err := h.connections.ForAuthMechanism(ctx, c.Param("id"), body.AuthMechanism, body.Settings)
	if err != nil {
		response.Error(c, err)
		return
	}
	dto, err := h.connections.ToDTO(ctx, conn)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, dto)
}

// GET /api/connections/:id
func (h *ConnectionHandler) Get(c *gin.Context) {
	ctx := requestContext(c)
	conn, err := h.connections.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	dto, err := h.connections.ToDTO(ctx, conn)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// DELETE /api/connections/:id
func (h *ConnectionHandler) Delete(c *gin.Context) {
	if err := h.connections.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// PATCH /api/connections/:id/settings
func (h *ConnectionHandler) UpdateSettings(c *gin.Context) {
	var body updateSettingsRequest
	if !bindAndValidate(c, &body) {
		return
	}

	ctx := requestContext(c)
	conn, err := h.connections.UpdateSettings(ctx, c.Param("id"), body.Settings)
	if err != nil {
		response.Error(c, err)
		return
	}
	dto, err := h.connections.ToDTO(ctx, conn)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// GET /api/connections/:id/users
func (h *ConnectionHandler) ListUsers(c *gin.Context) {
	users, err := h.users.List(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, users)
}

// POST /api/connections/:id/users
func (h *ConnectionHandler) CreateUser(c *gin.Context) {
	var body createMailboxUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.users.Create(requestContext(c), c.Param("id"), services.CreateMailboxUserInput{
		Email:    body.Email,
		Username: body.Username,
		Secret:   body.Secret,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// DELETE /api/connections/:id/users/:userID
func (h *ConnectionHandler) DeleteUser(c *gin.Context) {
	ctx := requestContext(c)
	user, err := h.users.Get(ctx, c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if user.PartnerConnectionID != c.Param("id") {
		response.Error(c, services.ErrMailboxUserNotFound)
		return
	}
	if err := h.users.Delete(ctx, user.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/connections/:id/authorize?state=
func (h *ConnectionHandler) Authorize(c *gin.Context) {
	state := strings.TrimSpace(c.Query("state"))
	if state == "" {
		response.Error(c, errors.NewBadRequest("state is required"))
		return
	}

	url, err := h.connections.AuthorizationURL(requestContext(c), c.Param("id"), h.redirectURL, state)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"authorization_url": url})
}

func (h *ConnectionHandler) respondList(c *gin.Context, connections []models.PartnerConnection) {
	ctx := requestContext(c)
	dtos := make([]services.PartnerConnectionDTO, 0, len(connections))
	for i := range connections {
		dto, err := h.connections.ToDTO(ctx, &connections[i])
		if err != nil {
			response.Error(c, err)
			return
		}
		dtos = append(dtos, dto)
	}
	response.List(c, dtos)
}
