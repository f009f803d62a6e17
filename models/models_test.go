package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
		ok   bool
	}{
		{"aws", ProviderAWS, true},
		{"AWS", ProviderAWS, true},
		{" azure ", ProviderAzure, true},
		{"gcp", ProviderGCP, true},
		{"oci", Provider("oci"), false},
		{"", Provider(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseProvider(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProvider_Owns(t *testing.T) {
	assert.True(t, ProviderAWS.Owns("AWS-S3-PUBLIC-ACCESS-V1"))
	assert.True(t, ProviderAWS.Owns("aws-s3-public-access-v1"))
	assert.False(t, ProviderAWS.Owns("AZURE-SQL-TDE-V1"))
	assert.False(t, ProviderAWS.Owns("AWSX-S3-PUBLIC-ACCESS-V1"))
	assert.False(t, ProviderGCP.Owns(""))
	assert.True(t, ProviderAzure.Owns("AZURE"))
}

func TestControlProvider(t *testing.T) {
	assert.Equal(t, ProviderGCP, ControlProvider("GCP-STORAGE-PUBLIC-V1"))
	assert.Equal(t, Provider("unknown"), ControlProvider("UNKNOWN-THING-V1"))
}

func TestProvider_Label(t *testing.T) {
	assert.Equal(t, "AWS", ProviderAWS.Label())
	assert.Equal(t, "Azure", ProviderAzure.Label())
	assert.Equal(t, "GCP", ProviderGCP.Label())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusSuccess.Valid())
	assert.True(t, StatusFailure.Valid())
	assert.True(t, StatusError.Valid())
	assert.False(t, Status("").Valid())
	assert.False(t, Status("success").Valid())
}

func TestAuditResponse_AllSucceeded(t *testing.T) {
	resp := &AuditResponse{Provider: ProviderAWS, Results: []AuditResult{
		{ControlID: "AWS-A-B-V1", Status: StatusSuccess},
	}}
	assert.True(t, resp.AllSucceeded())

	resp.Results = append(resp.Results, AuditResult{ControlID: "AWS-C-D-V1", Status: StatusFailure})
	assert.False(t, resp.AllSucceeded())
}

func TestAuditResult_JSONShape(t *testing.T) {
	res := AuditResult{
		ControlID: "AWS-S3-PUBLIC-ACCESS-V1",
		Status:    StatusError,
		Summary:   "No summary provided",
		Evidence:  map[string]any{},
	}

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"control_id":"AWS-S3-PUBLIC-ACCESS-V1","status":"ERROR","summary":"No summary provided","evidence":{}}`, string(data))
}

func TestAWSCredentials_Validate(t *testing.T) {
	valid := AWSCredentials{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret", Region: "us-east-1"}
	assert.NoError(t, valid.Validate())

	missingRegion := valid
	missingRegion.Region = ""
	err := missingRegion.Validate()
	assert.ErrorIs(t, err, ErrIncompleteCredentials)
	assert.Contains(t, err.Error(), "region")

	missingSecret := valid
	missingSecret.SecretAccessKey = ""
	assert.ErrorIs(t, missingSecret.Validate(), ErrIncompleteCredentials)
}

func TestAWSCredentials_StringRedactsSecret(t *testing.T) {
	c := &AWSCredentials{AccessKeyID: "AKIAEXAMPLE1234", SecretAccessKey: "top-secret", Region: "eu-west-1"}
	s := c.String()
	assert.NotContains(t, s, "top-secret")
	assert.NotContains(t, s, "AKIAEXAMPLE1234")
	assert.Contains(t, s, "1234")
	assert.Contains(t, s, "eu-west-1")
}

func TestAzureCredentials_Validate(t *testing.T) {
	valid := AzureCredentials{TenantID: "t", ClientID: "c", ClientSecret: "s", SubscriptionID: "sub"}
	assert.NoError(t, valid.Validate())

	for _, mutate := range []func(*AzureCredentials){
		func(c *AzureCredentials) { c.TenantID = "" },
		func(c *AzureCredentials) { c.ClientID = "" },
		func(c *AzureCredentials) { c.ClientSecret = "" },
		func(c *AzureCredentials) { c.SubscriptionID = "" },
	} {
		c := valid
		mutate(&c)
		assert.ErrorIs(t, c.Validate(), ErrIncompleteCredentials)
	}

	assert.NotContains(t, (&valid).String(), "client_secret=s")
}

func TestParseGCPCredentials(t *testing.T) {
	doc := `{"type":"service_account","project_id":"demo-project","client_email":"sa@demo.iam.gserviceaccount.com","private_key":"-----BEGIN-----"}`

	t.Run("bare document", func(t *testing.T) {
		creds, err := ParseGCPCredentials([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "demo-project", creds.ProjectID)
		assert.JSONEq(t, doc, string(creds.ServiceAccountJSON))
	})

	t.Run("wrapped object", func(t *testing.T) {
		creds, err := ParseGCPCredentials([]byte(`{"service_account_json":` + doc + `}`))
		require.NoError(t, err)
		assert.Equal(t, "demo-project", creds.ProjectID)
	})

	t.Run("wrapped string", func(t *testing.T) {
		encoded, err := json.Marshal(doc)
		require.NoError(t, err)
		creds, err := ParseGCPCredentials([]byte(`{"service_account_json":` + string(encoded) + `}`))
		require.NoError(t, err)
		assert.Equal(t, "demo-project", creds.ProjectID)
		assert.JSONEq(t, doc, string(creds.ServiceAccountJSON))
	})

	t.Run("wrapped string with invalid JSON", func(t *testing.T) {
		_, err := ParseGCPCredentials([]byte(`{"service_account_json":"{not json"}`))
		assert.Error(t, err)
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := ParseGCPCredentials([]byte(`{"type":"service_account"}`))
		assert.ErrorIs(t, err, ErrIncompleteCredentials)
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := ParseGCPCredentials([]byte(`"just a string"`))
		assert.Error(t, err)
	})
}

func TestStoredCredentials_For(t *testing.T) {
	aws := &AWSCredentials{AccessKeyID: "a", SecretAccessKey: "b", Region: "c"}
	stored := &StoredCredentials{AWS: aws}

	assert.Equal(t, Credentials(aws), stored.For(ProviderAWS))
	// must be an untyped nil so callers can compare against nil
	assert.Nil(t, stored.For(ProviderAzure))
	assert.True(t, stored.For(ProviderGCP) == nil)

	var empty *StoredCredentials
	assert.True(t, empty.For(ProviderAWS) == nil)
}
