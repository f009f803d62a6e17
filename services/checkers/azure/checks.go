// Package azure implements the Azure controls on the Azure SDK resource
// manager clients, with Microsoft Graph for Entra ID policies. Every check
// authenticates as the stored service principal.
package azure

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.uber.org/zap"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
	"github.com/upb/auditron/services/controls"
)

// Environment selects the Azure cloud the checks run against
type Environment struct {
	Cloud cloud.Configuration
	Graph string
}

// PublicCloud returns the Azure public cloud environment
func PublicCloud() Environment {
	return Environment{
		Cloud: cloud.AzurePublic,
		Graph: "https://graph.microsoft.com",
	}
}

// CredentialFunc builds the token credential for a service principal bundle
type CredentialFunc func(bundle *models.AzureCredentials, opts azcore.ClientOptions) (azcore.TokenCredential, error)

func clientSecretCredential(bundle *models.AzureCredentials, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	return azidentity.NewClientSecretCredential(bundle.TenantID, bundle.ClientID, bundle.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: opts})
}

// Checks holds the Azure checker set
type Checks struct {
	env        Environment
	base       *http.Client
	retry      policy.RetryOptions
	credential CredentialFunc
	logger     *zap.Logger
}

// NewChecks creates the Azure checker set
func NewChecks(env Environment, logger *zap.Logger) *Checks {
	return &Checks{env: env, credential: clientSecretCredential, logger: logger}
}

func (c *Checks) clientOptions() azcore.ClientOptions {
	opts := azcore.ClientOptions{Cloud: c.env.Cloud, Retry: c.retry}
	if c.base != nil {
		opts.Transport = c.base
	}
	return opts
}

type session struct {
	cred           azcore.TokenCredential
	arm            *arm.ClientOptions
	graph          *graphClient
	subscriptionID string
}

func (c *Checks) session(ctx context.Context, creds models.Credentials) (*session, error) {
	if creds == nil {
		return nil, controls.ErrNoCredentials
	}
	bundle, ok := creds.(*models.AzureCredentials)
	if !ok {
		return nil, checkers.WrongCredentials(models.ProviderAzure, creds)
	}

	cred, err := c.credential(bundle, c.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("azure: invalid service principal: %w", err)
	}
	armOpts, err := c.armOptions()
	if err != nil {
		return nil, err
	}
	graph, err := newGraphClient(ctx, c.env.Graph, cred, c.base)
	if err != nil {
		return nil, err
	}
	return &session{
		cred:           cred,
		arm:            armOpts,
		graph:          graph,
		subscriptionID: bundle.SubscriptionID,
	}, nil
}

func (s *session) subscriptionScope() string {
	return "subscriptions/" + s.subscriptionID
}

// Definitions returns the Azure controls in catalog order
func Definitions(c *Checks) []controls.Control {
	return []controls.Control{
		{ID: "AZURE-STORAGE-PUBLIC-V1", Description: "Checks for publicly accessible Azure Blob Storage containers.", Checker: controls.CheckerFunc(c.StoragePublic)},
		{ID: "AZURE-STORAGE-HTTPS-V1", Description: "Checks if Azure Storage Accounts enforce 'Secure transfer required' (HTTPS).", Checker: controls.CheckerFunc(c.StorageHTTPS)},
		{ID: "AZURE-SQL-TDE-V1", Description: "Checks if Azure SQL databases have Transparent Data Encryption (TDE) enabled.", Checker: controls.CheckerFunc(c.SQLTDE)},
		{ID: "AZURE-ENTRA-MFA-ADMIN-V1", Description: "Checks if users with administrative roles have MFA enabled (via Conditional Access).", Checker: controls.CheckerFunc(c.EntraAdminMFA)},
		{ID: "AZURE-NSG-RESTRICTED-RDP-V1", Description: "Checks for Network Security Groups allowing unrestricted RDP (3389) access.", Checker: controls.CheckerFunc(c.RestrictedRDP)},
		{ID: "AZURE-MONITOR-LOG-PROFILES-V1", Description: "Checks that Azure Monitor is configured to export Activity Logs for retention.", Checker: controls.CheckerFunc(c.ActivityLogExport)},
		{ID: "AZURE-DEFENDER-STANDARD-TIER-V1", Description: "Checks that the standard tier of Microsoft Defender for Cloud is enabled.", Checker: controls.CheckerFunc(c.DefenderStandardTier)},
	}
}
