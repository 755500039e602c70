package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/mailbridge/internal/models"
	"github.com/charlesng35/mailbridge/internal/services"
	"github.com/charlesng35/mailbridge/pkg/response"
)

type ProviderHandler struct {
	svc *services.ImapProviderService
}

type createProviderRequest struct {
	Name          string   `json:"name" validate:"required,max=255"`
	AuthMechanism string   `json:"auth_mechanism" validate:"required,auth_mechanism"`
	Host          string   `json:"host" validate:"omitempty,hostname|ip"`
	Port          int      `json:"port" validate:"omitempty,min=1,max=65535"`
	UseTLS        bool     `json:"use_tls"`
	AuthURL       string   `json:"auth_url" validate:"omitempty,url"`
	TokenURL      string   `json:"token_url" validate:"omitempty,url"`
	Scopes        []string `json:"scopes"`
}

func NewProviderHandler(svc *services.ImapProviderService) *ProviderHandler {
	return &ProviderHandler{svc: svc}
}

// GET /api/providers
func (h *ProviderHandler) List(c *gin.Context) {
	providers, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, providers)
}

// GET /api/providers/:id
func (h *ProviderHandler) Get(c *gin.Context) {
	provider, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, provider)
}

// POST /api/providers
func (h *ProviderHandler) Create(c *gin.Context) {
	var body createProviderRequest
	if !bindAndValidate(c, &body) {
		return
	}

	provider, err := h.svc.Create(requestContext(c), services.CreateImapProviderInput{
		Name:          body.Name,
		AuthMechanism: body.AuthMechanism,
		Host:          body.Host,
		Port:          body.Port,
		UseTLS:        body.UseTLS,
		AuthURL:       body.AuthURL,
		TokenURL:      body.TokenURL,
		Scopes:        body.Scopes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, provider)
}

// DELETE /api/providers/:id
func (h *ProviderHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/mechanisms
func Mechanisms(c *gin.Context) {
	response.List(c, models.Mechanisms())
}
