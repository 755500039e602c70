package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
	apperrors "github.com/charlesng35/mailbridge/pkg/errors"
	"github.com/charlesng35/mailbridge/pkg/metrics"
)

// PartnerConnectionDTO is the API view of a connection. Settings values for secret fields are redacted.
type PartnerConnectionDTO struct {
	ID               string               `json:"id"`
	PartnerID        string               `json:"partner_id"`
	ImapProviderID   string               `json:"imap_provider_id"`
	Type             models.Kind          `json:"type"`
	AuthMechanism    models.AuthMechanism `json:"auth_mechanism"`
	DisplayName      string               `json:"display_name"`
	ConnectionFields []string             `json:"connection_fields"`
	Settings         map[string]string    `json:"settings"`
	UserCount        int64                `json:"user_count"`
}

// ConnectionFilter narrows connection queries.
type ConnectionFilter struct {
	PartnerID string
}

// PartnerConnectionService creates and queries partner connections through the mechanism registry.
type PartnerConnectionService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewPartnerConnectionService constructs a PartnerConnectionService.
func NewPartnerConnectionService(db *gorm.DB, auditService *AuditService) (*PartnerConnectionService, error) {
	if db == nil {
		return nil, errors.New("partner connection service: db is required")
	}
	return &PartnerConnectionService{db: db, auditService: auditService}, nil
}

// ForAuthMechanism creates a connection for the partner using the provider registered for the
// mechanism. The connection's type is the variant kind of that mechanism.
func (s *PartnerConnectionService) ForAuthMechanism(ctx context.Context, partnerID, mechanism string, settings map[string]string) (*models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	provider, err := findProviderByMechanism(ctx, s.db, mechanism, "for_auth_mechanism")
	if err != nil {
		metrics.ConnectionsCreated.WithLabelValues(string(models.NormaliseMechanism(mechanism)), "unknown_mechanism").Inc()
		return nil, err
	}

	variant, err := models.LookupMechanism(string(provider.AuthMechanism))
	if err != nil {
		return nil, unknownMechanism(mechanism)
	}

	partnerID = strings.TrimSpace(partnerID)
	if partnerID != "" {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", partnerID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("partner connection service: load partner: %w", err)
		}
		if count == 0 {
			return nil, ErrPartnerNotFound
		}
	}

	settings = normaliseSettings(settings)
	if missing := variant.MissingFields(settings); len(missing) > 0 {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("missing connection fields for %s: %s", variant.Mechanism, strings.Join(missing, ", ")))
	}

	conn := &models.PartnerConnection{
		PartnerID:      partnerID,
		ImapProviderID: provider.ID,
		Type:           variant.Kind,
	}
	if err := conn.SetSettings(settings); err != nil {
		return nil, apperrors.NewBadRequest("invalid connection settings")
	}

	if err := s.db.WithContext(ctx).Omit("Partner", "ImapProvider", "Users").Create(conn).Error; err != nil {
		metrics.ConnectionsCreated.WithLabelValues(string(variant.Mechanism), "error").Inc()
		return nil, s.translateCreateError(err)
	}
	conn.ImapProvider = provider

	metrics.ConnectionsCreated.WithLabelValues(string(variant.Mechanism), "success").Inc()
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner_connection.create",
		Resource: conn.ID,
		Result:   "success",
		Metadata: map[string]any{
			"partner_id":     conn.PartnerID,
			"auth_mechanism": string(variant.Mechanism),
		},
	})

	return conn, nil
}

// WhereAuthMechanism returns the connections using the provider registered for the mechanism.
// An unknown mechanism fails the same way the factory does.
func (s *PartnerConnectionService) WhereAuthMechanism(ctx context.Context, mechanism string, filter ConnectionFilter) ([]models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	provider, err := findProviderByMechanism(ctx, s.db, mechanism, "where_auth_mechanism")
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Preload("ImapProvider").
		Where("imap_provider_id = ?", provider.ID)
	if partnerID := strings.TrimSpace(filter.PartnerID); partnerID != "" {
		query = query.Where("partner_id = ?", partnerID)
	}

	var connections []models.PartnerConnection
	if err := query.Order("created_at ASC").Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("partner connection service: narrow by mechanism: %w", err)
	}
	return connections, nil
}

// List returns connections, optionally restricted to one partner.
func (s *PartnerConnectionService) List(ctx context.Context, filter ConnectionFilter) ([]models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Preload("ImapProvider")
	if partnerID := strings.TrimSpace(filter.PartnerID); partnerID != "" {
		query = query.Where("partner_id = ?", partnerID)
	}

	var connections []models.PartnerConnection
	if err := query.Order("created_at ASC").Find(&connections).Error; err != nil {
		return nil, fmt.Errorf("partner connection service: list connections: %w", err)
	}
	return connections, nil
}

// ListByPartner returns the connections owned by a partner.
func (s *PartnerConnectionService) ListByPartner(ctx context.Context, partnerID string) ([]models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", strings.TrimSpace(partnerID)).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("partner connection service: load partner: %w", err)
	}
	if count == 0 {
		return nil, ErrPartnerNotFound
	}
	return s.List(ctx, ConnectionFilter{PartnerID: partnerID})
}

// Get loads a connection with its provider.
func (s *PartnerConnectionService) Get(ctx context.Context, id string) (*models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	var conn models.PartnerConnection
	err := s.db.WithContext(ctx).Preload("ImapProvider").First(&conn, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("partner connection service: get connection: %w", err)
	}
	return &conn, nil
}

// Delete destroys a connection and its mailbox users, decrementing both counters.
func (s *PartnerConnectionService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	conn, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(conn)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConnectionNotFound
		}
		return nil
	})
	if errors.Is(err, ErrConnectionNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("partner connection service: delete connection: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner_connection.delete",
		Resource: conn.ID,
		Result:   "success",
		Metadata: map[string]any{
			"partner_id":     conn.PartnerID,
			"auth_mechanism": string(conn.AuthMechanism()),
		},
	})
	return nil
}

// Users returns the mailbox users of the connection whose kind matches its variant.
func (s *PartnerConnectionService) Users(ctx context.Context, id string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var users []models.User
	if err := conn.UsersScope(s.db.WithContext(ctx)).Order("email ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("partner connection service: list users: %w", err)
	}
	return users, nil
}

// ConnectionFields lists the settings keys the connection's variant requires.
func (s *PartnerConnectionService) ConnectionFields(ctx context.Context, id string) ([]string, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return conn.ConnectionFields(), nil
}

// UpdateSettings merges settings into the connection. Required fields may not be cleared.
// Values still holding the redaction placeholder leave the stored value untouched.
func (s *PartnerConnectionService) UpdateSettings(ctx context.Context, id string, settings map[string]string) (*models.PartnerConnection, error) {
	ctx = ensureContext(ctx)

	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged, err := conn.SettingsMap()
	if err != nil {
		return nil, fmt.Errorf("partner connection service: update settings: %w", err)
	}
	keys := make([]string, 0, len(settings))
	for key, value := range normaliseSettings(settings) {
		if value == redacted {
			continue
		}
		merged[key] = value
		keys = append(keys, key)
	}

	if variant, ok := conn.Variant(); ok {
		if missing := variant.MissingFields(merged); len(missing) > 0 {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("missing connection fields for %s: %s", variant.Mechanism, strings.Join(missing, ", ")))
		}
	}

	if err := conn.SetSettings(merged); err != nil {
		return nil, apperrors.NewBadRequest("invalid connection settings")
	}
	if err := s.db.WithContext(ctx).Model(conn).UpdateColumn("settings", conn.Settings).Error; err != nil {
		return nil, fmt.Errorf("partner connection service: update settings: %w", err)
	}

	sort.Strings(keys)
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "partner_connection.update_settings",
		Resource: conn.ID,
		Result:   "success",
		Metadata: map[string]any{"keys": keys},
	})

	return conn, nil
}

// OAuth2Config builds the OAuth2 client configuration of an XOAUTH2 connection.
func (s *PartnerConnectionService) OAuth2Config(ctx context.Context, id, redirectURL string) (*oauth2.Config, error) {
	conn, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return oauth2ConfigFor(conn, redirectURL)
}

// AuthorizationURL returns the consent URL mailbox users visit to grant the connection access.
func (s *PartnerConnectionService) AuthorizationURL(ctx context.Context, id, redirectURL, state string) (string, error) {
	cfg, err := s.OAuth2Config(ctx, id, redirectURL)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ToDTO projects a connection for API responses.
func (s *PartnerConnectionService) ToDTO(ctx context.Context, conn *models.PartnerConnection) (PartnerConnectionDTO, error) {
	ctx = ensureContext(ctx)

	var userCount int64
	if err := conn.UsersScope(s.db.WithContext(ctx)).Count(&userCount).Error; err != nil {
		return PartnerConnectionDTO{}, fmt.Errorf("partner connection service: count users: %w", err)
	}

	fields := conn.ConnectionFields()
	settings, err := conn.SettingsMap()
	if err != nil {
		return PartnerConnectionDTO{}, fmt.Errorf("partner connection service: %w", err)
	}
	for key := range settings {
		if isSecretSetting(key) {
			settings[key] = redacted
		}
	}

	return PartnerConnectionDTO{
		ID:               conn.ID,
		PartnerID:        conn.PartnerID,
		ImapProviderID:   conn.ImapProviderID,
		Type:             conn.Type,
		AuthMechanism:    conn.AuthMechanism(),
		DisplayName:      conn.DisplayName(),
		ConnectionFields: fields,
		Settings:         settings,
		UserCount:        userCount,
	}, nil
}

func (s *PartnerConnectionService) translateCreateError(err error) error {
	switch {
	case errors.Is(err, models.ErrDuplicateConnection):
		return ErrConnectionExists.WithInternal(err)
	case errors.Is(err, models.ErrPartnerRequired), errors.Is(err, models.ErrProviderRequired):
		return apperrors.NewBadRequest(err.Error())
	case isUniqueConstraintError(err):
		return ErrConnectionExists.WithInternal(err)
	default:
		return fmt.Errorf("partner connection service: create connection: %w", err)
	}
}

const redacted = "********"

func isSecretSetting(key string) bool {
	key = strings.ToLower(key)
	return strings.Contains(key, "secret") || strings.Contains(key, "password") || strings.Contains(key, "token")
}

func oauth2ConfigFor(conn *models.PartnerConnection, redirectURL string) (*oauth2.Config, error) {
	variant, ok := conn.Variant()
	if !ok || variant.Kind != models.KindOAuth2 {
		return nil, ErrUnsupportedMechanism
	}
	provider := conn.ImapProvider
	if provider == nil || provider.AuthURL == "" || provider.TokenURL == "" {
		return nil, apperrors.NewBadRequest("imap provider has no oauth2 endpoints configured")
	}

	settings, err := conn.SettingsMap()
	if err != nil {
		return nil, fmt.Errorf("partner connection service: oauth2 config: %w", err)
	}
	return &oauth2.Config{
		ClientID:     settings["client_id"],
		ClientSecret: settings["client_secret"],
		RedirectURL:  strings.TrimSpace(redirectURL),
		Scopes:       provider.ScopeList(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  provider.AuthURL,
			TokenURL: provider.TokenURL,
		},
	}, nil
}
