package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/mailbridge/internal/services"
	"github.com/charlesng35/mailbridge/pkg/errors"
	"github.com/charlesng35/mailbridge/pkg/response"
)

type PartnerHandler struct {
	svc *services.PartnerService
}

type createPartnerRequest struct {
	Name         string `json:"name" validate:"required,max=191"`
	Description  string `json:"description" validate:"omitempty,max=1024"`
	ContactEmail string `json:"contact_email" validate:"omitempty,email"`
}

type updatePartnerRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=191"`
	Description  *string `json:"description" validate:"omitempty,max=1024"`
	ContactEmail *string `json:"contact_email"`
}

func NewPartnerHandler(svc *services.PartnerService) *PartnerHandler {
	return &PartnerHandler{svc: svc}
}

// GET /api/partners
func (h *PartnerHandler) List(c *gin.Context) {
	partners, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, partners)
}

// GET /api/partners/:id
func (h *PartnerHandler) Get(c *gin.Context) {
	partner, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, partner)
}

// POST /api/partners
func (h *PartnerHandler) Create(c *gin.Context) {
	var body createPartnerRequest
	if !bindAndValidate(c, &body) {
		return
	}

	partner, err := h.svc.Create(requestContext(c), services.CreatePartnerInput{
		Name:         body.Name,
		Description:  body.Description,
		ContactEmail: body.ContactEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, partner)
}

// PATCH /api/partners/:id
func (h *PartnerHandler) Update(c *gin.Context) {
	var body updatePartnerRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if body.Name == nil && body.Description == nil && body.ContactEmail == nil {
		response.Error(c, errors.NewBadRequest("no fields provided for update"))
		return
	}

	partner, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdatePartnerInput{
		Name:         body.Name,
		Description:  body.Description,
		ContactEmail: body.ContactEmail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, partner)
}

// DELETE /api/partners/:id
func (h *PartnerHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
