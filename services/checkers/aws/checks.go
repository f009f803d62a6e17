// Package aws implements the AWS control checkers on aws-sdk-go-v2.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
	"github.com/upb/auditron/services/controls"
	"go.uber.org/zap"
)

// ConfigLoader builds an aws.Config for one check. A nil bundle means the
// SDK default credential chain.
type ConfigLoader func(ctx context.Context, creds *models.AWSCredentials) (aws.Config, error)

// LoadConfig returns a ConfigLoader backed by config.LoadDefaultConfig.
// defaultRegion applies only when neither the bundle nor the environment
// names a region.
func LoadConfig(defaultRegion string) ConfigLoader {
	return func(ctx context.Context, creds *models.AWSCredentials) (aws.Config, error) {
		opts := []func(*config.LoadOptions) error{config.WithDefaultRegion(defaultRegion)}
		if creds != nil {
			opts = append(opts,
				config.WithRegion(creds.Region),
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					creds.AccessKeyID, creds.SecretAccessKey, "")),
			)
		}
		return config.LoadDefaultConfig(ctx, opts...)
	}
}

// Clients constructs service clients from a loaded config
type Clients struct {
	S3             func(aws.Config) S3API
	EC2            func(aws.Config) EC2API
	RDS            func(aws.Config) RDSAPI
	EFS            func(aws.Config) EFSAPI
	DynamoDB       func(aws.Config) DynamoDBAPI
	IAM            func(aws.Config) IAMAPI
	STS            func(aws.Config) STSAPI
	KMS            func(aws.Config) KMSAPI
	SecretsManager func(aws.Config) SecretsManagerAPI
	CloudTrail     func(aws.Config) CloudTrailAPI
	ConfigService  func(aws.Config) ConfigServiceAPI
	GuardDuty      func(aws.Config) GuardDutyAPI
}

// SDKClients returns the real service clients
func SDKClients() Clients {
	return Clients{
		S3:             func(c aws.Config) S3API { return s3.NewFromConfig(c) },
		EC2:            func(c aws.Config) EC2API { return ec2.NewFromConfig(c) },
		RDS:            func(c aws.Config) RDSAPI { return rds.NewFromConfig(c) },
		EFS:            func(c aws.Config) EFSAPI { return efs.NewFromConfig(c) },
		DynamoDB:       func(c aws.Config) DynamoDBAPI { return dynamodb.NewFromConfig(c) },
		IAM:            func(c aws.Config) IAMAPI { return iam.NewFromConfig(c) },
		STS:            func(c aws.Config) STSAPI { return sts.NewFromConfig(c) },
		KMS:            func(c aws.Config) KMSAPI { return kms.NewFromConfig(c) },
		SecretsManager: func(c aws.Config) SecretsManagerAPI { return secretsmanager.NewFromConfig(c) },
		CloudTrail:     func(c aws.Config) CloudTrailAPI { return cloudtrail.NewFromConfig(c) },
		ConfigService:  func(c aws.Config) ConfigServiceAPI { return configservice.NewFromConfig(c) },
		GuardDuty:      func(c aws.Config) GuardDutyAPI { return guardduty.NewFromConfig(c) },
	}
}

// Checks runs the AWS controls
type Checks struct {
	load    ConfigLoader
	clients Clients
	logger  *zap.Logger
}

// NewChecks creates the AWS checker set
func NewChecks(load ConfigLoader, clients Clients, logger *zap.Logger) *Checks {
	return &Checks{load: load, clients: clients, logger: logger}
}

func (c *Checks) config(ctx context.Context, creds models.Credentials) (aws.Config, error) {
	var bundle *models.AWSCredentials
	if creds != nil {
		b, ok := creds.(*models.AWSCredentials)
		if !ok {
			return aws.Config{}, checkers.WrongCredentials(models.ProviderAWS, creds)
		}
		bundle = b
	}
	return c.load(ctx, bundle)
}

// Definitions returns the AWS controls in catalog order
func Definitions(c *Checks) []controls.Control {
	return []controls.Control{
		{ID: "AWS-S3-PUBLIC-ACCESS-V1", Description: "Checks that all S3 buckets block public access.", Checker: controls.CheckerFunc(c.S3PublicAccess)},
		{ID: "AWS-EBS-ENCRYPTION-V1", Description: "Checks that all EBS volumes in the configured region have encryption enabled.", Checker: controls.CheckerFunc(c.EBSEncryption)},
		{ID: "AWS-EFS-ENCRYPTION-IN-TRANSIT-V1", Description: "Checks that all EFS file systems in the configured region enforce encryption in transit.", Checker: controls.CheckerFunc(c.EFSEncryptionInTransit)},
		{ID: "AWS-RDS-PUBLIC-ACCESS-V1", Description: "Checks if any RDS database instances are publicly accessible.", Checker: controls.CheckerFunc(c.RDSPublicAccess)},
		{ID: "AWS-RDS-STORAGE-ENCRYPTION-V1", Description: "Checks if all RDS database instances have storage encryption enabled.", Checker: controls.CheckerFunc(c.RDSStorageEncryption)},
		{ID: "AWS-EBS-SNAPSHOT-PUBLIC-V1", Description: "Checks if any EBS snapshots are publicly shared.", Checker: controls.CheckerFunc(c.EBSSnapshotPublic)},
		{ID: "AWS-DYNAMODB-PITR-V1", Description: "Checks if all DynamoDB tables have Point-in-Time Recovery (PITR) enabled.", Checker: controls.CheckerFunc(c.DynamoDBPITR)},
		{ID: "AWS-IAM-MFA-CONSOLE-V1", Description: "Checks if IAM users with console passwords have MFA enabled.", Checker: controls.CheckerFunc(c.IAMConsoleMFA)},
		{ID: "AWS-IAM-ROOT-MFA-V1", Description: "Checks if the account's root user has MFA enabled.", Checker: controls.CheckerFunc(c.IAMRootMFA)},
		{ID: "AWS-VPC-SG-RESTRICTED-SSH-V1", Description: "Checks for Security Groups allowing unrestricted SSH (0.0.0.0/0) access.", Checker: controls.CheckerFunc(c.RestrictedSSH)},
		{ID: "AWS-KMS-KEY-ROTATION-V1", Description: "Checks if customer-managed KMS keys have automatic key rotation enabled.", Checker: controls.CheckerFunc(c.KMSKeyRotation)},
		{ID: "AWS-CLOUDTRAIL-ENABLED-V1", Description: "Checks that a multi-region CloudTrail is enabled and logging.", Checker: controls.CheckerFunc(c.CloudTrailEnabled)},
		{ID: "AWS-CONFIG-ENABLED-V1", Description: "Checks that AWS Config is enabled to record all resource changes.", Checker: controls.CheckerFunc(c.ConfigEnabled)},
		{ID: "AWS-GUARDDUTY-ENABLED-V1", Description: "Checks that GuardDuty is enabled for threat detection.", Checker: controls.CheckerFunc(c.GuardDutyEnabled)},
		{ID: "AWS-SECRETSMANAGER-ROTATION-V1", Description: "Checks if secrets are configured for automatic rotation.", Checker: controls.CheckerFunc(c.SecretsRotation)},
	}
}
