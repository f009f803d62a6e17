// Package gcp implements the GCP controls on the Cloud Storage JSON API.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
	"github.com/upb/auditron/services/controls"
)

// iamPolicyVersion 3 returns conditional bindings as well
const iamPolicyVersion = 3

var publicMembers = map[string]bool{
	"allUsers":              true,
	"allAuthenticatedUsers": true,
}

// BucketAPI is the slice of Cloud Storage the checks need
type BucketAPI interface {
	ListBuckets(ctx context.Context, projectID string) ([]*storage.Bucket, error)
	BucketIAMPolicy(ctx context.Context, bucket string) (*storage.Policy, error)
}

// ClientFactory opens a BucketAPI for a bundle. A nil bundle selects
// Application Default Credentials.
type ClientFactory func(ctx context.Context, creds *models.GCPCredentials) (BucketAPI, error)

// StorageClients returns the factory backed by storage/v1. opts are
// appended to every client.
func StorageClients(opts ...option.ClientOption) ClientFactory {
	return func(ctx context.Context, creds *models.GCPCredentials) (BucketAPI, error) {
		clientOpts := []option.ClientOption{option.WithScopes(storage.DevstorageReadOnlyScope)}
		if creds != nil {
			clientOpts = append(clientOpts, option.WithCredentialsJSON(creds.ServiceAccountJSON))
		}
		svc, err := storage.NewService(ctx, append(clientOpts, opts...)...)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return &storageClient{svc: svc}, nil
	}
}

type storageClient struct {
	svc *storage.Service
}

func (c *storageClient) ListBuckets(ctx context.Context, projectID string) ([]*storage.Bucket, error) {
	var buckets []*storage.Bucket
	err := c.svc.Buckets.List(projectID).Pages(ctx, func(page *storage.Buckets) error {
		buckets = append(buckets, page.Items...)
		return nil
	})
	return buckets, err
}

func (c *storageClient) BucketIAMPolicy(ctx context.Context, bucket string) (*storage.Policy, error) {
	return c.svc.Buckets.GetIamPolicy(bucket).
		OptionsRequestedPolicyVersion(iamPolicyVersion).
		Context(ctx).
		Do()
}

// Checks holds the GCP checker set
type Checks struct {
	newClient      ClientFactory
	defaultProject string
	logger         *zap.Logger
}

// NewChecks creates the GCP checker set. defaultProject is audited when no
// bundle is supplied.
func NewChecks(newClient ClientFactory, defaultProject string, logger *zap.Logger) *Checks {
	return &Checks{newClient: newClient, defaultProject: defaultProject, logger: logger}
}

func (c *Checks) client(ctx context.Context, creds models.Credentials) (BucketAPI, string, error) {
	var bundle *models.GCPCredentials
	project := c.defaultProject
	if creds != nil {
		b, ok := creds.(*models.GCPCredentials)
		if !ok {
			return nil, "", checkers.WrongCredentials(models.ProviderGCP, creds)
		}
		bundle = b
		project = b.ProjectID
	}
	if project == "" {
		return nil, "", errors.New("no GCP project configured")
	}

	api, err := c.newClient(ctx, bundle)
	if err != nil {
		return nil, "", err
	}
	return api, project, nil
}

// StoragePublic flags buckets whose IAM policy grants any role to allUsers
// or allAuthenticatedUsers
func (c *Checks) StoragePublic(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	api, project, err := c.client(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	buckets, err := api.ListBuckets(ctx, project)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list buckets in %s: %w", project, err)
	}

	f := checkers.NewFindings("GCP Cloud Storage buckets", "buckets").
		WithEmptySummary("No GCP Cloud Storage buckets found in the project.")
	for _, b := range buckets {
		policy, err := api.BucketIAMPolicy(ctx, b.Name)
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusForbidden {
				f.NonCompliant(b.Name, "Permission denied to check IAM policy.")
				continue
			}
			return models.CheckResult{}, fmt.Errorf("get iam policy for %s: %w", b.Name, err)
		}

		if roles := publicRoles(policy); len(roles) > 0 {
			f.NonCompliant(b.Name, "Bucket is public with roles: "+strings.Join(roles, ", "))
			continue
		}
		f.Compliant(checkers.Record{"id": b.Name, "public": false})
	}
	return f.Result(), nil
}

func publicRoles(policy *storage.Policy) []string {
	if policy == nil {
		return nil
	}
	var roles []string
	for _, binding := range policy.Bindings {
		for _, m := range binding.Members {
			if publicMembers[m] {
				roles = append(roles, binding.Role)
				break
			}
		}
	}
	return roles
}

// Definitions returns the GCP controls in catalog order
func Definitions(c *Checks) []controls.Control {
	return []controls.Control{
		{ID: "GCP-STORAGE-PUBLIC-V1", Description: "Checks that all GCP Cloud Storage buckets are not publicly accessible.", Checker: controls.CheckerFunc(c.StoragePublic)},
	}
}
