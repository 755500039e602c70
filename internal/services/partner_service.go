package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
	apperrors "github.com/charlesng35/mailbridge/pkg/errors"
	appValidator "github.com/charlesng35/mailbridge/pkg/validator"
)

// CreatePartnerInput captures new partner metadata.
type CreatePartnerInput struct {
	Name         string
	Description  string
	ContactEmail string
}

// UpdatePartnerInput describes mutable partner fields.
type UpdatePartnerInput struct {
	Name         *string
	Description  *string
	ContactEmail *string
}

// PartnerService handles partner lifecycle.
type PartnerService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewPartnerService constructs a PartnerService instance.
func NewPartnerService(db *gorm.DB, auditService *AuditService) (*PartnerService, error) {
	if db == nil {
		return nil, errors.New("partner service: db is required")
	}
	return &PartnerService{db: db, auditService: auditService}, nil
}

// Create registers a new partner.
func (s *PartnerService) Create(ctx context.Context, input CreatePartnerInput) (*models.Partner, error) {
	ctx = ensureContext(ctx)

	partner := &models.Partner{
		Name:         strings.TrimSpace(input.Name),
		Description:  strings.TrimSpace(input.Description),
		ContactEmail: strings.TrimSpace(input.ContactEmail),
	}
	if err := appValidator.ValidateStruct(partner); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	if err := s.db.WithContext(ctx).Create(partner).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("partner name already exists")
		}
		return nil, fmt.Errorf("partner service: create partner: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner.create",
		Resource: partner.ID,
		Result:   "success",
		Metadata: map[string]any{"name": partner.Name},
	})

	return partner, nil
}

// Get loads a partner by ID.
func (s *PartnerService) Get(ctx context.Context, id string) (*models.Partner, error) {
	ctx = ensureContext(ctx)

	var partner models.Partner
	err := s.db.WithContext(ctx).First(&partner, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("partner service: get partner: %w", err)
	}
	return &partner, nil
}

// List returns all partners ordered by name.
func (s *PartnerService) List(ctx context.Context) ([]models.Partner, error) {
	ctx = ensureContext(ctx)

	var partners []models.Partner
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&partners).Error; err != nil {
		return nil, fmt.Errorf("partner service: list partners: %w", err)
	}
	return partners, nil
}

// Update modifies partner metadata.
func (s *PartnerService) Update(ctx context.Context, id string, input UpdatePartnerInput) (*models.Partner, error) {
	ctx = ensureContext(ctx)

	partner, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != partner.Name {
			updates["name"] = name
		}
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.ContactEmail != nil {
		email := strings.TrimSpace(*input.ContactEmail)
		if email != "" {
			if err := appValidator.ValidateVar(email, "email"); err != nil {
				return nil, apperrors.NewBadRequest("contact email must be a valid email address")
			}
		}
		updates["contact_email"] = email
	}

	if len(updates) == 0 {
		return partner, nil
	}

	if err := s.db.WithContext(ctx).Model(partner).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewBadRequest("partner name already exists")
		}
		return nil, fmt.Errorf("partner service: update partner: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner.update",
		Resource: partner.ID,
		Result:   "success",
		Metadata: updates,
	})

	return s.Get(ctx, partner.ID)
}

// Delete removes a partner together with its connections and their mailbox users.
func (s *PartnerService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	partner, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var connections []models.PartnerConnection
		if err := tx.Where("partner_id = ?", partner.ID).Find(&connections).Error; err != nil {
			return err
		}
		for i := range connections {
			if err := tx.Delete(&connections[i]).Error; err != nil {
				return err
			}
		}
		return tx.Delete(partner).Error
	})
	if err != nil {
		return fmt.Errorf("partner service: delete partner: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner.delete",
		Resource: partner.ID,
		Result:   "success",
		Metadata: map[string]any{"name": partner.Name},
	})

	return nil
}
