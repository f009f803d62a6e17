package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
	"go.uber.org/zap"
)

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IAMConsoleMFA requires an MFA device for every user with a console password
func (c *Checks) IAMConsoleMFA(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.IAM(cfg)

	f := checkers.NewFindings("IAM users", "users")
	p := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list users: %w", err)
		}
		for _, u := range page.Users {
			name := aws.ToString(u.UserName)

			_, err := client.GetLoginProfile(ctx, &iam.GetLoginProfileInput{UserName: u.UserName})
			if err != nil {
				var noSuch *iamtypes.NoSuchEntityException
				if errors.As(err, &noSuch) {
					f.Compliant(checkers.Record{"id": name, "mfa_enabled": "N/A (No Console Password)"})
					continue
				}
				return models.CheckResult{}, fmt.Errorf("get login profile for %s: %w", name, err)
			}

			devices, err := client.ListMFADevices(ctx, &iam.ListMFADevicesInput{UserName: u.UserName})
			if err != nil {
				return models.CheckResult{}, fmt.Errorf("list mfa devices for %s: %w", name, err)
			}
			if len(devices.MFADevices) == 0 {
				f.NonCompliant(name, "Console password is set but no MFA device is enabled.")
				continue
			}
			f.Compliant(checkers.Record{"id": name, "mfa_enabled": true})
		}
	}
	return f.Result(), nil
}

// IAMRootMFA reads the account summary for root MFA
func (c *Checks) IAMRootMFA(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	out, err := c.clients.IAM(cfg).GetAccountSummary(ctx, &iam.GetAccountSummaryInput{})
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("get account summary: %w", err)
	}

	enabled := out.SummaryMap[string(iamtypes.SummaryKeyTypeAccountMFAEnabled)] == 1
	evidence := map[string]any{"account_mfa_enabled": enabled}
	if id, err := c.clients.STS(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err == nil {
		evidence["account_id"] = aws.ToString(id.Account)
	} else {
		c.logger.Debug("caller identity unavailable", zap.Error(err))
	}

	if enabled {
		return checkers.Pass("Root user has MFA enabled.", evidence), nil
	}
	return checkers.Fail("Root user does not have MFA enabled.", evidence), nil
}

// KMSKeyRotation requires automatic rotation on customer-managed symmetric keys.
// AWS-managed keys, asymmetric keys and keys pending deletion are skipped.
func (c *Checks) KMSKeyRotation(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.KMS(cfg)

	f := checkers.NewFindings("customer-managed KMS keys", "keys")
	p := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list keys: %w", err)
		}
		for _, k := range page.Keys {
			id := aws.ToString(k.KeyId)
			desc, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: k.KeyId})
			if err != nil {
				return models.CheckResult{}, fmt.Errorf("describe key %s: %w", id, err)
			}
			meta := desc.KeyMetadata
			if meta == nil ||
				meta.KeyManager != kmstypes.KeyManagerTypeCustomer ||
				meta.KeySpec != kmstypes.KeySpecSymmetricDefault ||
				meta.KeyState == kmstypes.KeyStatePendingDeletion {
				continue
			}

			rot, err := client.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{KeyId: k.KeyId})
			if err != nil {
				return models.CheckResult{}, fmt.Errorf("get key rotation status for %s: %w", id, err)
			}
			if !rot.KeyRotationEnabled {
				f.NonCompliant(id, "Automatic key rotation is disabled.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "rotation_enabled": true})
		}
	}
	return f.Result(), nil
}

// SecretsRotation requires automatic rotation on every secret
func (c *Checks) SecretsRotation(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.SecretsManager(cfg)

	f := checkers.NewFindings("secrets", "secrets")
	p := secretsmanager.NewListSecretsPaginator(client, &secretsmanager.ListSecretsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list secrets: %w", err)
		}
		for _, s := range page.SecretList {
			id := aws.ToString(s.Name)
			if !aws.ToBool(s.RotationEnabled) {
				f.NonCompliant(id, "Automatic rotation is not enabled.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "rotation_enabled": true})
		}
	}
	return f.Result(), nil
}
