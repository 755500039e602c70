package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
	apperrors "github.com/charlesng35/mailbridge/pkg/errors"
	"github.com/charlesng35/mailbridge/pkg/metrics"
)

// CreateImapProviderInput captures provider configuration.
type CreateImapProviderInput struct {
	Name          string
	AuthMechanism string
	Host          string
	Port          int
	UseTLS        bool
	AuthURL       string
	TokenURL      string
	Scopes        []string
}

// ImapProviderService manages provider records keyed by authentication mechanism.
type ImapProviderService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewImapProviderService constructs an ImapProviderService.
func NewImapProviderService(db *gorm.DB, auditService *AuditService) (*ImapProviderService, error) {
	if db == nil {
		return nil, errors.New("imap provider service: db is required")
	}
	return &ImapProviderService{db: db, auditService: auditService}, nil
}

// Create registers a provider for a registered mechanism. Only one provider may exist per mechanism.
func (s *ImapProviderService) Create(ctx context.Context, input CreateImapProviderInput) (*models.ImapProvider, error) {
	ctx = ensureContext(ctx)

	variant, err := models.LookupMechanism(input.AuthMechanism)
	if err != nil {
		return nil, unknownMechanism(input.AuthMechanism)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("provider name is required")
	}

	provider := &models.ImapProvider{
		Name:          name,
		AuthMechanism: variant.Mechanism,
		Host:          strings.TrimSpace(input.Host),
		Port:          input.Port,
		UseTLS:        input.UseTLS,
		AuthURL:       strings.TrimSpace(input.AuthURL),
		TokenURL:      strings.TrimSpace(input.TokenURL),
		Scopes:        strings.Join(input.Scopes, ","),
	}

	if err := s.db.WithContext(ctx).Create(provider).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrProviderExists.WithInternal(err)
		}
		return nil, fmt.Errorf("imap provider service: create provider: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "imap_provider.create",
		Resource: provider.ID,
		Result:   "success",
		Metadata: map[string]any{"auth_mechanism": string(provider.AuthMechanism)},
	})

	return provider, nil
}

// Get loads a provider by ID.
func (s *ImapProviderService) Get(ctx context.Context, id string) (*models.ImapProvider, error) {
	ctx = ensureContext(ctx)

	var provider models.ImapProvider
	err := s.db.WithContext(ctx).First(&provider, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("imap provider service: get provider: %w", err)
	}
	return &provider, nil
}

// List returns providers ordered by mechanism.
func (s *ImapProviderService) List(ctx context.Context) ([]models.ImapProvider, error) {
	ctx = ensureContext(ctx)

	var providers []models.ImapProvider
	if err := s.db.WithContext(ctx).Order("auth_mechanism ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("imap provider service: list providers: %w", err)
	}
	return providers, nil
}

// FindByAuthMechanism returns the provider registered for a mechanism name, failing with an
// unknown auth mechanism error when none exists.
func (s *ImapProviderService) FindByAuthMechanism(ctx context.Context, mechanism string) (*models.ImapProvider, error) {
	return findProviderByMechanism(ensureContext(ctx), s.db, mechanism, "find_provider")
}

// Delete removes a provider that no partner is connected to.
func (s *ImapProviderService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	provider, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PartnerConnection{}).
		Where("imap_provider_id = ?", provider.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("imap provider service: count connections: %w", err)
	}
	if count > 0 {
		return ErrProviderInUse
	}

	if err := s.db.WithContext(ctx).Delete(provider).Error; err != nil {
		return fmt.Errorf("imap provider service: delete provider: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "imap_provider.delete",
		Resource: provider.ID,
		Result:   "success",
		Metadata: map[string]any{"auth_mechanism": string(provider.AuthMechanism)},
	})
	return nil
}

func findProviderByMechanism(ctx context.Context, db *gorm.DB, mechanism, operation string) (*models.ImapProvider, error) {
	name := models.NormaliseMechanism(mechanism)
	if name == "" {
		metrics.UnknownMechanismLookups.WithLabelValues(operation).Inc()
		return nil, unknownMechanism(mechanism)
	}

	var provider models.ImapProvider
	err := db.WithContext(ctx).Where("auth_mechanism = ?", name).First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.UnknownMechanismLookups.WithLabelValues(operation).Inc()
		return nil, unknownMechanism(mechanism)
	}
	if err != nil {
		return nil, fmt.Errorf("imap provider lookup: %w", err)
	}
	return &provider, nil
}
