package repositories

import (
	"context"

	"github.com/upb/auditron/models"
)

// CredentialRepository reads the cloud credential bundles users saved.
// A user with no row yields an empty *models.StoredCredentials, not an error.
type CredentialRepository interface {
	// GetByUserID returns whatever bundles are stored for userID
	GetByUserID(ctx context.Context, userID string) (*models.StoredCredentials, error)
}
