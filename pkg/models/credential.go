package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one provider API key plus its usage bookkeeping.
// Counters are only mutated by the credential pool after inference attempts;
// a credential is never deactivated or removed automatically.
type Credential struct {
	ID          uuid.UUID    `json:"id"`
	Secret      string       `json:"secret"`
	DisplayName string       `json:"name"`
	Provider    ProviderKind `json:"provider"`
	UsageCount  int          `json:"usage_count"`
	ErrorCount  int          `json:"errors"`
	Active      bool         `json:"is_active"`
	LastUsedAt  *time.Time   `json:"last_used,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MaskedSecret returns the first six characters of the secret followed by "...".
func (c Credential) MaskedSecret() string {
	if len(c.Secret) <= 6 {
		return c.Secret + "..."
	}
	return c.Secret[:6] + "..."
}
