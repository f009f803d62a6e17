package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIncompleteCredentials is returned when a bundle is missing a required field
var ErrIncompleteCredentials = errors.New("incomplete credential bundle")

// Credentials is a provider-specific credential bundle. It is implemented
// by *AWSCredentials, *AzureCredentials and *GCPCredentials only; a nil
// Credentials means no bundle was resolved.
type Credentials interface {
	Provider() Provider
	Validate() error
	isCredentials()
}

// AWSCredentials holds a static AWS access key pair and its region
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
}

func (*AWSCredentials) isCredentials() {}

// Provider returns ProviderAWS
func (*AWSCredentials) Provider() Provider { return ProviderAWS }

// Validate requires all three fields
func (c *AWSCredentials) Validate() error {
	switch {
	case c.AccessKeyID == "":
		return fmt.Errorf("%w: aws access_key_id is required", ErrIncompleteCredentials)
	case c.SecretAccessKey == "":
		return fmt.Errorf("%w: aws secret_access_key is required", ErrIncompleteCredentials)
	case c.Region == "":
		return fmt.Errorf("%w: aws region is required", ErrIncompleteCredentials)
	}
	return nil
}

// String never includes the secret
func (c *AWSCredentials) String() string {
	return fmt.Sprintf("aws(access_key_id=%s, region=%s)", maskKey(c.AccessKeyID), c.Region)
}

// AzureCredentials holds an Entra ID service principal and target subscription
type AzureCredentials struct {
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
}

func (*AzureCredentials) isCredentials() {}

// Provider returns ProviderAzure
func (*AzureCredentials) Provider() Provider { return ProviderAzure }

// Validate requires all four fields
func (c *AzureCredentials) Validate() error {
	switch {
	case c.TenantID == "":
		return fmt.Errorf("%w: azure tenant_id is required", ErrIncompleteCredentials)
	case c.ClientID == "":
		return fmt.Errorf("%w: azure client_id is required", ErrIncompleteCredentials)
	case c.ClientSecret == "":
		return fmt.Errorf("%w: azure client_secret is required", ErrIncompleteCredentials)
	case c.SubscriptionID == "":
		return fmt.Errorf("%w: azure subscription_id is required", ErrIncompleteCredentials)
	}
	return nil
}

// String never includes the client secret
func (c *AzureCredentials) String() string {
	return fmt.Sprintf("azure(tenant_id=%s, client_id=%s, subscription_id=%s)", c.TenantID, c.ClientID, c.SubscriptionID)
}

// GCPCredentials wraps a service-account credential document
type GCPCredentials struct {
	ServiceAccountJSON json.RawMessage
	ProjectID          string
}

func (*GCPCredentials) isCredentials() {}

// Provider returns ProviderGCP
func (*GCPCredentials) Provider() Provider { return ProviderGCP }

// Validate requires a non-empty document and a project
func (c *GCPCredentials) Validate() error {
	if len(c.ServiceAccountJSON) == 0 {
		return fmt.Errorf("%w: gcp service account document is required", ErrIncompleteCredentials)
	}
	if c.ProjectID == "" {
		return fmt.Errorf("%w: gcp project_id is required", ErrIncompleteCredentials)
	}
	return nil
}

// String never includes the private key
func (c *GCPCredentials) String() string {
	return fmt.Sprintf("gcp(project_id=%s)", c.ProjectID)
}

type serviceAccountDocument struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
}

// ParseGCPCredentials accepts either a service-account document or a wrapper
// of the form {"service_account_json": <document or JSON string>}.
func ParseGCPCredentials(raw []byte) (*GCPCredentials, error) {
	var wrapper struct {
		ServiceAccountJSON json.RawMessage `json:"service_account_json"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("gcp credentials are not a JSON object: %w", err)
	}

	doc := json.RawMessage(raw)
	if len(wrapper.ServiceAccountJSON) > 0 {
		doc = wrapper.ServiceAccountJSON
		var s string
		if err := json.Unmarshal(doc, &s); err == nil {
			doc = json.RawMessage(s)
		}
	}

	var sa serviceAccountDocument
	if err := json.Unmarshal(doc, &sa); err != nil {
		return nil, fmt.Errorf("gcp service account document is invalid JSON: %w", err)
	}
	if sa.Type == "" {
		return nil, fmt.Errorf("%w: gcp service account document has no type", ErrIncompleteCredentials)
	}

	creds := &GCPCredentials{ServiceAccountJSON: doc, ProjectID: sa.ProjectID}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// StoredCredentials is what the credential store holds for one user.
// Any field may be nil.
type StoredCredentials struct {
	AWS   *AWSCredentials
	Azure *AzureCredentials
	GCP   *GCPCredentials
}

// For returns the bundle for the given provider, or nil if none is stored
func (s *StoredCredentials) For(p Provider) Credentials {
	if s == nil {
		return nil
	}
	switch p {
	case ProviderAWS:
		if s.AWS != nil {
			return s.AWS
		}
	case ProviderAzure:
		if s.Azure != nil {
			return s.Azure
		}
	case ProviderGCP:
		if s.GCP != nil {
			return s.GCP
		}
	}
	return nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
