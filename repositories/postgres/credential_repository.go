package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/repositories"
)

// CredentialRepository implements repositories.CredentialRepository over the
// Supabase credentials table
type CredentialRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB, logger *zap.Logger) repositories.CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
	}
}

// GetByUserID loads the stored bundles for a user. Columns that are NULL or
// do not decode are returned as nil bundles.
func (r *CredentialRepository) GetByUserID(ctx context.Context, userID string) (*models.StoredCredentials, error) {
	stored := &models.StoredCredentials{}

	// user_id is a uuid column; anything else cannot match a row.
	if _, err := uuid.Parse(userID); err != nil {
		r.logger.Debug("user id is not a uuid, no stored credentials", zap.String("user_id", userID))
		return stored, nil
	}

	query := `
		SELECT aws_credentials, azure_credentials, gcp_credentials
		FROM credentials
		WHERE user_id = $1
		LIMIT 1
	`

	var awsRaw, azureRaw, gcpRaw []byte
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&awsRaw, &azureRaw, &gcpRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stored, nil
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	if present(awsRaw) {
		var aws models.AWSCredentials
		if err := json.Unmarshal(awsRaw, &aws); err != nil {
			r.malformed(userID, models.ProviderAWS, err)
		} else {
			stored.AWS = &aws
		}
	}

	if present(azureRaw) {
		var azure models.AzureCredentials
		if err := json.Unmarshal(azureRaw, &azure); err != nil {
			r.malformed(userID, models.ProviderAzure, err)
		} else {
			stored.Azure = &azure
		}
	}

	if present(gcpRaw) {
		gcp, err := models.ParseGCPCredentials(gcpRaw)
		if err != nil {
			r.malformed(userID, models.ProviderGCP, err)
		} else {
			stored.GCP = gcp
		}
	}

	return stored, nil
}

func (r *CredentialRepository) malformed(userID string, provider models.Provider, err error) {
	r.logger.Warn("ignoring malformed stored credentials",
		zap.String("user_id", userID),
		zap.String("provider", string(provider)),
		zap.Error(err),
	)
}

func present(raw []byte) bool {
	return len(raw) > 0 && string(raw) != "null"
}
