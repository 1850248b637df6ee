package state

import (
	"context"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// CredentialStore persists the credential pool as one JSON list.
type CredentialStore struct {
	store Store
}

func NewCredentialStore(s Store) *CredentialStore {
	return &CredentialStore{store: s}
}

func (c *CredentialStore) SaveCredentials(ctx context.Context, creds []models.Credential) error {
	if creds == nil {
		creds = []models.Credential{}
	}
	return SetJSON(ctx, c.store, CredentialsKey, creds)
}

func (c *CredentialStore) LoadCredentials(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	if _, err := GetJSON(ctx, c.store, CredentialsKey, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}
