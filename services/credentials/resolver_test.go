package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auditron/internal/observability"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services"
	"go.uber.org/zap"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetByUserID(ctx context.Context, userID string) (*models.StoredCredentials, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredCredentials), args.Error(1)
}

var (
	storedAWS = &models.AWSCredentials{AccessKeyID: "AKIASTORED", SecretAccessKey: "stored", Region: "eu-west-1"}
	envAWS    = &models.AWSCredentials{AccessKeyID: "AKIAENV", SecretAccessKey: "env", Region: "us-east-1"}
	envAzure  = &models.AzureCredentials{TenantID: "t", ClientID: "c", ClientSecret: "s", SubscriptionID: "sub"}
)

func newTestResolver(store Store, env *models.StoredCredentials) (*Resolver, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := Config{DefaultAWSRegion: "us-east-1", LookupTimeout: time.Second}
	return NewResolver(store, env, cfg, zap.NewNop(), metrics), metrics
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("stored bundle wins over environment", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{AWS: storedAWS}, nil)
		r, metrics := newTestResolver(store, &models.StoredCredentials{AWS: envAWS})

		creds, err := r.Resolve(ctx, models.ProviderAWS, "u1")
		require.NoError(t, err)
		assert.Equal(t, storedAWS, creds)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CredentialResolution.WithLabelValues("aws", observability.SourceStore)))
		store.AssertExpectations(t)
	})

	t.Run("falls back to environment when store has nothing for provider", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{AWS: storedAWS}, nil)
		r, _ := newTestResolver(store, &models.StoredCredentials{Azure: envAzure})

		creds, err := r.Resolve(ctx, models.ProviderAzure, "u1")
		require.NoError(t, err)
		assert.Equal(t, envAzure, creds)
	})

	t.Run("store not consulted without user", func(t *testing.T) {
		store := new(MockStore)
		r, _ := newTestResolver(store, &models.StoredCredentials{AWS: envAWS})

		creds, err := r.Resolve(ctx, models.ProviderAWS, "")
		require.NoError(t, err)
		assert.Equal(t, envAWS, creds)
		store.AssertNotCalled(t, "GetByUserID", mock.Anything, mock.Anything)
	})

	t.Run("absent when no source has a bundle", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{}, nil)
		r, metrics := newTestResolver(store, nil)

		creds, err := r.Resolve(ctx, models.ProviderGCP, "u1")
		require.NoError(t, err)
		assert.Nil(t, creds)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CredentialResolution.WithLabelValues("gcp", observability.SourceNone)))
	})

	t.Run("store failure is a request-level error", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetByUserID", mock.Anything, "u1").Return(nil, errors.New("connection refused"))
		r, metrics := newTestResolver(store, &models.StoredCredentials{AWS: envAWS})

		creds, err := r.Resolve(ctx, models.ProviderAWS, "u1")
		require.Error(t, err)
		assert.Nil(t, creds)
		assert.ErrorIs(t, err, services.ErrCredentialStore)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CredentialResolution.WithLabelValues("aws", observability.SourceError)))
	})

	t.Run("user without configured store uses environment", func(t *testing.T) {
		r, _ := newTestResolver(nil, &models.StoredCredentials{AWS: envAWS})

		creds, err := r.Resolve(ctx, models.ProviderAWS, "u1")
		require.NoError(t, err)
		assert.Equal(t, envAWS, creds)
	})

	t.Run("stored aws bundle without region gets the default", func(t *testing.T) {
		store := new(MockStore)
		noRegion := &models.AWSCredentials{AccessKeyID: "AKIA", SecretAccessKey: "s"}
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{AWS: noRegion}, nil)
		r, _ := newTestResolver(store, nil)

		creds, err := r.Resolve(ctx, models.ProviderAWS, "u1")
		require.NoError(t, err)
		aws, ok := creds.(*models.AWSCredentials)
		require.True(t, ok)
		assert.Equal(t, "us-east-1", aws.Region)
		assert.Empty(t, noRegion.Region, "stored value is not mutated")
	})

	t.Run("incomplete stored bundle falls back to environment", func(t *testing.T) {
		store := new(MockStore)
		partial := &models.AzureCredentials{TenantID: "t"}
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{Azure: partial}, nil)
		r, _ := newTestResolver(store, &models.StoredCredentials{Azure: envAzure})

		creds, err := r.Resolve(ctx, models.ProviderAzure, "u1")
		require.NoError(t, err)
		assert.Equal(t, envAzure, creds)
	})

	t.Run("store call is bounded by the lookup timeout", func(t *testing.T) {
		store := new(MockStore)
		store.On("GetByUserID", mock.Anything, "u1").Return(&models.StoredCredentials{}, nil).Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			_, ok := ctx.Deadline()
			assert.True(t, ok)
		})
		r, _ := newTestResolver(store, nil)

		_, err := r.Resolve(ctx, models.ProviderAWS, "u1")
		require.NoError(t, err)
	})
}
