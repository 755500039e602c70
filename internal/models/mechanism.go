package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// AuthMechanism names the IMAP authentication strategy a provider speaks.
type AuthMechanism string

const (
	MechanismPlain   AuthMechanism = "PLAIN"
	MechanismXOAuth2 AuthMechanism = "XOAUTH2"
	MechanismXOAuth  AuthMechanism = "XOAUTH"
)

// Kind tags the provider, connection and user subtype family of a mechanism.
// It is persisted in the type column of imap_providers, partner_connections and users.
type Kind string

const (
	KindPlain  Kind = "plain"
	KindOAuth2 Kind = "oauth2"
	KindOAuth1 Kind = "oauth1"
)

// ErrUnknownAuthMechanism is matched by every UnknownAuthMechanismError.
var ErrUnknownAuthMechanism = errors.New("unknown auth mechanism")

// UnknownAuthMechanismError reports a mechanism name with no registered variant or provider.
type UnknownAuthMechanismError struct {
	Mechanism string
}

func (e *UnknownAuthMechanismError) Error() string {
	return fmt.Sprintf("Unknown auth mechanism: %s", e.Mechanism)
}

// Is lets errors.Is match ErrUnknownAuthMechanism.
func (e *UnknownAuthMechanismError) Is(target error) bool {
	return target == ErrUnknownAuthMechanism
}

// Variant is one member of the closed mechanism registry.
type Variant struct {
	Mechanism AuthMechanism `json:"auth_mechanism"`
	Kind      Kind          `json:"kind"`
	UserKind  Kind          `json:"user_kind"`
	// ConnectionFields lists the settings keys a connection of this kind must carry.
	ConnectionFields []string `json:"connection_fields"`
	// SecretLabel names what a mailbox user's stored secret holds.
	SecretLabel string `json:"secret_label"`
}

var registry = map[AuthMechanism]Variant{
	MechanismPlain: {
		Mechanism:        MechanismPlain,
		Kind:             KindPlain,
		UserKind:         KindPlain,
		ConnectionFields: []string{},
		SecretLabel:      "password",
	},
	MechanismXOAuth2: {
		Mechanism:        MechanismXOAuth2,
		Kind:             KindOAuth2,
		UserKind:         KindOAuth2,
		ConnectionFields: []string{"client_id", "client_secret"},
		SecretLabel:      "refresh_token",
	},
	MechanismXOAuth: {
		Mechanism:        MechanismXOAuth,
		Kind:             KindOAuth1,
		UserKind:         KindOAuth1,
		ConnectionFields: []string{"consumer_key", "consumer_secret"},
		SecretLabel:      "token_secret",
	},
}

// NormaliseMechanism trims and upper-cases a mechanism name.
func NormaliseMechanism(name string) AuthMechanism {
	return AuthMechanism(strings.ToUpper(strings.TrimSpace(name)))
}

// LookupMechanism resolves a mechanism name to its variant.
func LookupMechanism(name string) (Variant, error) {
	variant, ok := registry[NormaliseMechanism(name)]
	if !ok {
		return Variant{}, &UnknownAuthMechanismError{Mechanism: strings.TrimSpace(name)}
	}
	return variant.clone(), nil
}

// VariantForKind returns the variant persisted under the supplied type tag.
func VariantForKind(kind Kind) (Variant, bool) {
	for _, variant := range registry {
		if variant.Kind == kind {
			return variant.clone(), true
		}
	}
	return Variant{}, false
}

// Mechanisms lists every registered variant ordered by mechanism name.
func Mechanisms() []Variant {
	out := make([]Variant, 0, len(registry))
	for _, variant := range registry {
		out = append(out, variant.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Mechanism < out[j].Mechanism
	})
	return out
}

// MissingFields returns the connection fields absent or blank in settings.
func (v Variant) MissingFields(settings map[string]string) []string {
	var missing []string
	for _, field := range v.ConnectionFields {
		if strings.TrimSpace(settings[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func (v Variant) clone() Variant {
	v.ConnectionFields = append([]string{}, v.ConnectionFields...)
	return v
}
