package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	gdtypes "github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

// CloudTrailEnabled passes when at least one multi-region trail is logging
func (c *Checks) CloudTrailEnabled(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client := c.clients.CloudTrail(cfg)

	out, err := client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("describe trails: %w", err)
	}
	if len(out.TrailList) == 0 {
		return checkers.Fail("No CloudTrail trails are configured.", []checkers.Record{}), nil
	}

	trails := make([]checkers.Record, 0, len(out.TrailList))
	compliant := false
	for _, t := range out.TrailList {
		status, err := client.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: t.TrailARN})
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("get trail status for %s: %w", aws.ToString(t.Name), err)
		}
		multiRegion := aws.ToBool(t.IsMultiRegionTrail)
		logging := aws.ToBool(status.IsLogging)
		trails = append(trails, checkers.Record{
			"id":           aws.ToString(t.Name),
			"multi_region": multiRegion,
			"is_logging":   logging,
		})
		if multiRegion && logging {
			compliant = true
		}
	}

	if compliant {
		return checkers.Pass("A multi-region CloudTrail trail is enabled and logging.", trails), nil
	}
	return checkers.Fail("No multi-region CloudTrail trail is logging.", trails), nil
}

// ConfigEnabled passes when a recorder covers all supported resource types
func (c *Checks) ConfigEnabled(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	out, err := c.clients.ConfigService(cfg).DescribeConfigurationRecorders(ctx, &configservice.DescribeConfigurationRecordersInput{})
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("describe configuration recorders: %w", err)
	}
	if len(out.ConfigurationRecorders) == 0 {
		return checkers.Fail("AWS Config is not enabled: no configuration recorders found.", []checkers.Record{}), nil
	}

	recorders := make([]checkers.Record, 0, len(out.ConfigurationRecorders))
	allSupported := false
	for _, r := range out.ConfigurationRecorders {
		all := r.RecordingGroup != nil && r.RecordingGroup.AllSupported
		recorders = append(recorders, checkers.Record{
			"id":            aws.ToString(r.Name),
			"all_supported": all,
		})
		if all {
			allSupported = true
		}
	}

	if allSupported {
		return checkers.Pass("AWS Config is recording all supported resource types.", recorders), nil
	}
	return checkers.Fail("AWS Config recorders do not record all supported resource types.", recorders), nil
}

// GuardDutyEnabled passes when the region has a detector
func (c *Checks) GuardDutyEnabled(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	var ids []string
	p := guardduty.NewListDetectorsPaginator(c.clients.GuardDuty(cfg), &guardduty.ListDetectorsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			var badReq *gdtypes.BadRequestException
			if errors.As(err, &badReq) {
				return checkers.Fail("GuardDuty is not enabled in this region.", map[string]any{"error": badReq.ErrorMessage()}), nil
			}
			return models.CheckResult{}, fmt.Errorf("list detectors: %w", err)
		}
		ids = append(ids, page.DetectorIds...)
	}

	if len(ids) == 0 {
		return checkers.Fail("GuardDuty is not enabled: no detectors found.", map[string]any{"detector_ids": []string{}}), nil
	}
	return checkers.Pass("GuardDuty is enabled.", map[string]any{"detector_ids": ids}), nil
}
