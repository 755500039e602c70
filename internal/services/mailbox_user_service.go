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

// SecretSealer encrypts and decrypts mailbox credentials at rest.
type SecretSealer interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// CreateMailboxUserInput describes a mailbox user to attach to a connection. Secret holds the
// password or token named by the connection variant's secret label.
type CreateMailboxUserInput struct {
	Email    string
	Username string
	Secret   string
}

// MailboxUserService manages the mailbox users owned by partner connections.
type MailboxUserService struct {
	db           *gorm.DB
	connections  *PartnerConnectionService
	sealer       SecretSealer
	auditService *AuditService
}

// NewMailboxUserService constructs a MailboxUserService.
func NewMailboxUserService(db *gorm.DB, connections *PartnerConnectionService, sealer SecretSealer, auditService *AuditService) (*MailboxUserService, error) {
	if db == nil {
		return nil, errors.New("mailbox user service: db is required")
	}
	if sealer == nil {
		return nil, errors.New("mailbox user service: secret sealer is required")
	}
	if connections == nil {
		var err error
		connections, err = NewPartnerConnectionService(db, auditService)
		if err != nil {
			return nil, err
		}
	}
	return &MailboxUserService{
		db:           db,
		connections:  connections,
		sealer:       sealer,
		auditService: auditService,
	}, nil
}

// Create adds a user to the connection. The user's type is the user kind paired with the
// connection's variant.
func (s *MailboxUserService) Create(ctx context.Context, connectionID string, input CreateMailboxUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	variant, ok := conn.Variant()
	if !ok {
		return nil, unknownMechanism(string(conn.Type))
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := appValidator.ValidateVar(email, "required,email"); err != nil {
		return nil, apperrors.NewBadRequest("email must be a valid email address")
	}
	if strings.TrimSpace(input.Secret) == "" {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("%s is required", strings.ReplaceAll(variant.SecretLabel, "_", " ")))
	}

	sealed, err := s.sealer.Encrypt([]byte(input.Secret))
	if err != nil {
		return nil, fmt.Errorf("mailbox user service: encrypt secret: %w", err)
	}

	username := strings.TrimSpace(input.Username)
	if username == "" {
		username = email
	}

	user := &models.User{
		PartnerConnectionID: conn.ID,
		Type:                variant.UserKind,
		Email:               email,
		Username:            username,
		Secret:              sealed,
		IsActive:            true,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrMailboxUserExists
		}
		return nil, fmt.Errorf("mailbox user service: create user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "mailbox_user.create",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{
			"partner_connection_id": conn.ID,
			"type":                  string(user.Type),
		},
	})

	return user, nil
}

// List returns the connection's users of its variant kind.
func (s *MailboxUserService) List(ctx context.Context, connectionID string) ([]models.User, error) {
	return s.connections.Users(ctx, connectionID)
}

// Get loads a mailbox user.
func (s *MailboxUserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMailboxUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mailbox user service: get user: %w", err)
	}
	return &user, nil
}

// RevealSecret decrypts the stored credential for sync workers.
func (s *MailboxUserService) RevealSecret(ctx context.Context, id string) (string, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	plain, err := s.sealer.Decrypt(user.Secret)
	if err != nil {
		return "", fmt.Errorf("mailbox user service: decrypt secret: %w", err)
	}
	return string(plain), nil
}

// Delete removes a mailbox user.
func (s *MailboxUserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(user).Error; err != nil {
		return fmt.Errorf("mailbox user service: delete user: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "mailbox_user.delete",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"partner_connection_id": user.PartnerConnectionID},
	})
	return nil
}
