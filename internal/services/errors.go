package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/charlesng35/mailbridge/internal/models"
	apperrors "github.com/charlesng35/mailbridge/pkg/errors"
)

var (
	// ErrPartnerNotFound indicates the requested partner does not exist.
	ErrPartnerNotFound = apperrors.New("PARTNER_NOT_FOUND", "Partner not found", http.StatusNotFound)
	// ErrProviderNotFound indicates the requested imap provider does not exist.
	ErrProviderNotFound = apperrors.New("IMAP_PROVIDER_NOT_FOUND", "IMAP provider not found", http.StatusNotFound)
	// ErrProviderExists signals a second provider for the same auth mechanism.
	ErrProviderExists = apperrors.New("IMAP_PROVIDER_EXISTS", "A provider is already registered for this auth mechanism", http.StatusConflict)
	// ErrProviderInUse is returned when deleting a provider that still has connections.
	ErrProviderInUse = apperrors.New("IMAP_PROVIDER_IN_USE", "IMAP provider still has partner connections", http.StatusConflict)
	// ErrConnectionNotFound indicates the requested partner connection does not exist.
	ErrConnectionNotFound = apperrors.New("PARTNER_CONNECTION_NOT_FOUND", "Partner connection not found", http.StatusNotFound)
	// ErrConnectionExists signals a second connection for the same partner and provider.
	ErrConnectionExists = apperrors.New("PARTNER_CONNECTION_EXISTS", "IMAP provider already connected for partner", http.StatusConflict)
	// ErrMailboxUserNotFound indicates the requested mailbox user does not exist.
	ErrMailboxUserNotFound = apperrors.New("MAILBOX_USER_NOT_FOUND", "Mailbox user not found", http.StatusNotFound)
	// ErrMailboxUserExists signals a duplicate email on the same connection.
	ErrMailboxUserExists = apperrors.New("MAILBOX_USER_EXISTS", "Mailbox user already exists for connection", http.StatusConflict)
	// ErrUnsupportedMechanism is returned when an operation does not apply to the connection's variant.
	ErrUnsupportedMechanism = apperrors.New("UNSUPPORTED_AUTH_MECHANISM", "Operation not supported for this auth mechanism", http.StatusBadRequest)
)

// unknownMechanism wraps the model error so callers can match either the AppError code
// or models.ErrUnknownAuthMechanism.
func unknownMechanism(name string) *apperrors.AppError {
	cause := &models.UnknownAuthMechanismError{Mechanism: strings.TrimSpace(name)}
	return apperrors.New("UNKNOWN_AUTH_MECHANISM", cause.Error(), http.StatusBadRequest).WithInternal(cause)
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}
