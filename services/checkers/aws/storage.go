package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

// S3PublicAccess requires all four public access block flags on every bucket
func (c *Checks) S3PublicAccess(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.S3(cfg)

	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list buckets: %w", err)
	}

	f := checkers.NewFindings("S3 buckets", "buckets")
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		pab, err := client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: b.Name}, inBucketRegion(b.BucketRegion))
		if err != nil {
			if apiErrorCode(err) == "NoSuchPublicAccessBlockConfiguration" {
				f.NonCompliant(name, "No public access block is configured.")
				continue
			}
			return models.CheckResult{}, fmt.Errorf("get public access block for %s: %w", name, err)
		}
		if !publicAccessFullyBlocked(pab.PublicAccessBlockConfiguration) {
			f.NonCompliant(name, "Public access block is not fully enabled.")
			continue
		}
		f.Compliant(checkers.Record{"id": name, "public_access_blocked": true})
	}
	return f.Result(), nil
}

func publicAccessFullyBlocked(cfg *s3types.PublicAccessBlockConfiguration) bool {
	if cfg == nil {
		return false
	}
	return aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.RestrictPublicBuckets)
}

func inBucketRegion(region *string) func(*s3.Options) {
	return func(o *s3.Options) {
		if r := aws.ToString(region); r != "" {
			o.Region = r
		}
	}
}

// EBSEncryption requires encryption on every volume in the region
func (c *Checks) EBSEncryption(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.EC2(cfg)

	f := checkers.NewFindings("EBS volumes", "volumes").
		WithEmptySummary(fmt.Sprintf("No EBS volumes found in the region %s.", cfg.Region))

	p := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("describe volumes: %w", err)
		}
		for _, v := range page.Volumes {
			id := aws.ToString(v.VolumeId)
			if !aws.ToBool(v.Encrypted) {
				f.NonCompliant(id, "Volume is not encrypted.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "encrypted": true})
		}
	}
	return f.Result(), nil
}

// EBSSnapshotPublic flags snapshots owned by the account that anyone can restore
func (c *Checks) EBSSnapshotPublic(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.EC2(cfg)

	f := checkers.NewFindings("EBS snapshots", "snapshots")
	p := ec2.NewDescribeSnapshotsPaginator(client, &ec2.DescribeSnapshotsInput{OwnerIds: []string{"self"}})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("describe snapshots: %w", err)
		}
		for _, s := range page.Snapshots {
			id := aws.ToString(s.SnapshotId)
			attr, err := client.DescribeSnapshotAttribute(ctx, &ec2.DescribeSnapshotAttributeInput{
				Attribute:  ec2types.SnapshotAttributeNameCreateVolumePermission,
				SnapshotId: s.SnapshotId,
			})
			if err != nil {
				return models.CheckResult{}, fmt.Errorf("describe snapshot attribute for %s: %w", id, err)
			}
			if snapshotIsPublic(attr.CreateVolumePermissions) {
				f.NonCompliant(id, "Snapshot is publicly restorable.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "public": false})
		}
	}
	return f.Result(), nil
}

func snapshotIsPublic(perms []ec2types.CreateVolumePermission) bool {
	for _, perm := range perms {
		if perm.Group == ec2types.PermissionGroupAll {
			return true
		}
	}
	return false
}

// EFSEncryptionInTransit requires a file system policy that denies non-TLS access
func (c *Checks) EFSEncryptionInTransit(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.EFS(cfg)

	f := checkers.NewFindings("EFS file systems", "file_systems").
		WithEmptySummary(fmt.Sprintf("No EFS file systems found in the region %s.", cfg.Region))

	p := efs.NewDescribeFileSystemsPaginator(client, &efs.DescribeFileSystemsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("describe file systems: %w", err)
		}
		for _, fs := range page.FileSystems {
			id := aws.ToString(fs.FileSystemId)
			out, err := client.DescribeFileSystemPolicy(ctx, &efs.DescribeFileSystemPolicyInput{FileSystemId: fs.FileSystemId})
			if err != nil {
				var notFound *efstypes.PolicyNotFound
				if errors.As(err, &notFound) {
					f.NonCompliant(id, "No file system policy enforces encryption in transit.")
					continue
				}
				return models.CheckResult{}, fmt.Errorf("describe file system policy for %s: %w", id, err)
			}
			if !deniesInsecureTransport(aws.ToString(out.Policy)) {
				f.NonCompliant(id, "File system policy does not deny requests without TLS.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "encryption_in_transit": true})
		}
	}
	return f.Result(), nil
}

// deniesInsecureTransport looks for a Deny statement conditioned on
// aws:SecureTransport being false.
func deniesInsecureTransport(policy string) bool {
	var doc struct {
		Statement json.RawMessage `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		return false
	}

	type statement struct {
		Effect    string                    `json:"Effect"`
		Condition map[string]map[string]any `json:"Condition"`
	}
	var stmts []statement
	if err := json.Unmarshal(doc.Statement, &stmts); err != nil {
		var single statement
		if err := json.Unmarshal(doc.Statement, &single); err != nil {
			return false
		}
		stmts = []statement{single}
	}

	for _, s := range stmts {
		if s.Effect != "Deny" {
			continue
		}
		v, ok := s.Condition["Bool"]["aws:SecureTransport"]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case bool:
			if !val {
				return true
			}
		case string:
			if strings.EqualFold(val, "false") {
				return true
			}
		}
	}
	return false
}

func (c *Checks) dbInstances(ctx context.Context, creds models.Credentials) ([]rdstypes.DBInstance, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return nil, err
	}
	client := c.clients.RDS(cfg)

	var instances []rdstypes.DBInstance
	p := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		instances = append(instances, page.DBInstances...)
	}
	return instances, nil
}

// RDSPublicAccess flags instances reachable from the internet
func (c *Checks) RDSPublicAccess(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	instances, err := c.dbInstances(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	f := checkers.NewFindings("RDS instances", "instances")
	for _, db := range instances {
		id := aws.ToString(db.DBInstanceIdentifier)
		if aws.ToBool(db.PubliclyAccessible) {
			f.NonCompliant(id, "Instance is publicly accessible.")
			continue
		}
		f.Compliant(checkers.Record{"id": id, "publicly_accessible": false})
	}
	return f.Result(), nil
}

// RDSStorageEncryption requires storage encryption on every instance
func (c *Checks) RDSStorageEncryption(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	instances, err := c.dbInstances(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	f := checkers.NewFindings("RDS instances", "instances")
	for _, db := range instances {
		id := aws.ToString(db.DBInstanceIdentifier)
		if !aws.ToBool(db.StorageEncrypted) {
			f.NonCompliant(id, "Storage is not encrypted.")
			continue
		}
		f.Compliant(checkers.Record{"id": id, "storage_encrypted": true})
	}
	return f.Result(), nil
}

// DynamoDBPITR requires point-in-time recovery on every table
func (c *Checks) DynamoDBPITR(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.DynamoDB(cfg)

	f := checkers.NewFindings("DynamoDB tables", "tables")
	p := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list tables: %w", err)
		}
		for _, name := range page.TableNames {
			out, err := client.DescribeContinuousBackups(ctx, &dynamodb.DescribeContinuousBackupsInput{TableName: aws.String(name)})
			if err != nil {
				return models.CheckResult{}, fmt.Errorf("describe continuous backups for %s: %w", name, err)
			}
			if !pitrEnabled(out.ContinuousBackupsDescription) {
				f.NonCompliant(name, "Point-in-time recovery is not enabled.")
				continue
			}
			f.Compliant(checkers.Record{"id": name, "pitr_enabled": true})
		}
	}
	return f.Result(), nil
}

func pitrEnabled(d *dynamotypes.ContinuousBackupsDescription) bool {
	return d != nil &&
		d.PointInTimeRecoveryDescription != nil &&
		d.PointInTimeRecoveryDescription.PointInTimeRecoveryStatus == dynamotypes.PointInTimeRecoveryStatusEnabled
}
