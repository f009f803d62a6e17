package azure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/security/armsecurity"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

var requiredActivityLogCategories = []string{"Administrative", "Security", "Policy", "Alert"}

func exportsAll(ds *armmonitor.DiagnosticSettingsResource, categories []string) bool {
	if ds.Properties == nil {
		return false
	}
	enabled := make(map[string]bool, len(ds.Properties.Logs))
	for _, l := range ds.Properties.Logs {
		if l != nil && deref(l.Enabled) {
			enabled[strings.ToLower(deref(l.Category))] = true
		}
	}
	for _, c := range categories {
		if !enabled[strings.ToLower(c)] {
			return false
		}
	}
	return true
}

// ActivityLogExport requires a subscription diagnostic setting exporting the
// key activity log categories
func (c *Checks) ActivityLogExport(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client, err := armmonitor.NewDiagnosticSettingsClient(s.cred, s.arm)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("create diagnostic settings client: %w", err)
	}

	settings, err := collect(ctx, client.NewListPager(s.subscriptionScope(), nil),
		func(page armmonitor.DiagnosticSettingsClientListResponse) []*armmonitor.DiagnosticSettingsResource { return page.Value })
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list diagnostic settings: %w", err)
	}
	if len(settings) == 0 {
		return checkers.Fail("No subscription-level Diagnostic Settings found for exporting Activity Logs.", []checkers.Record{}), nil
	}

	for _, ds := range settings {
		if !exportsAll(ds, requiredActivityLogCategories) {
			continue
		}
		p := ds.Properties
		return checkers.Pass("A Diagnostic Setting is configured to export all key Activity Log categories.", []checkers.Record{{
			"name":          deref(ds.Name),
			"storage":       deref(p.StorageAccountID) != "",
			"log_analytics": deref(p.WorkspaceID) != "",
			"event_hub":     deref(p.EventHubAuthorizationRuleID) != "",
		}}), nil
	}
	return checkers.Fail("No Diagnostic Setting exports all required Activity Log categories.", []checkers.Record{{
		"settings_checked": len(settings),
		"note":             "Ensure a Diagnostic Setting on the subscription sends Administrative, Security, Policy, and Alert logs to a destination.",
	}}), nil
}

// DefenderStandardTier requires at least one Defender for Cloud plan on the
// Standard tier
func (c *Checks) DefenderStandardTier(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client, err := armsecurity.NewPricingsClient(s.cred, s.arm)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("create defender pricings client: %w", err)
	}

	resp, err := client.List(ctx, s.subscriptionScope(), nil)
	if err != nil {
		if subscriptionNotRegistered(err) {
			return checkers.Fail("Microsoft Defender for Cloud is not registered for this subscription.", []checkers.Record{{
				"note": "The 'Microsoft.Security' provider must be registered on the subscription to enable security monitoring.",
			}}), nil
		}
		return models.CheckResult{}, fmt.Errorf("list defender pricings: %w", err)
	}

	var standard []string
	for _, p := range resp.Value {
		if p == nil || p.Properties == nil {
			continue
		}
		if strings.EqualFold(string(deref(p.Properties.PricingTier)), string(armsecurity.PricingTierStandard)) {
			standard = append(standard, deref(p.Name))
		}
	}
	if len(standard) > 0 {
		return checkers.Pass("Microsoft Defender for Cloud is enabled at the Standard tier.", map[string]any{
			"pricing_tier_found": "Standard",
			"standard_plans":     standard,
		}), nil
	}
	return checkers.Fail("Microsoft Defender for Cloud is not enabled at the Standard tier.", []checkers.Record{{
		"note": "Enable the Standard tier in Microsoft Defender for Cloud for advanced threat protection.",
	}}), nil
}

func subscriptionNotRegistered(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return strings.EqualFold(respErr.ErrorCode, "SubscriptionNotRegistered") ||
		strings.Contains(respErr.Error(), "Subscription Not Registered")
}

type conditionalAccessPolicy struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Conditions  struct {
		Users struct {
			IncludeRoles []string `json:"includeRoles"`
		} `json:"users"`
	} `json:"conditions"`
	GrantControls *struct {
		BuiltInControls []string `json:"builtInControls"`
	} `json:"grantControls"`
}

func (p conditionalAccessPolicy) requiresMFAForRoles() bool {
	if p.State != "enabled" || len(p.Conditions.Users.IncludeRoles) == 0 || p.GrantControls == nil {
		return false
	}
	for _, ctl := range p.GrantControls.BuiltInControls {
		if strings.EqualFold(ctl, "mfa") {
			return true
		}
	}
	return false
}

// EntraAdminMFA requires an enabled Conditional Access policy that grants
// directory roles only with MFA
func (c *Checks) EntraAdminMFA(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	policies, err := graphList[conditionalAccessPolicy](ctx, s.graph, "/v1.0/identity/conditionalAccess/policies")
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list conditional access policies: %w", err)
	}

	var enforcing []checkers.Record
	for _, p := range policies {
		if p.requiresMFAForRoles() {
			enforcing = append(enforcing, checkers.Record{
				"id":    p.ID,
				"name":  p.DisplayName,
				"roles": len(p.Conditions.Users.IncludeRoles),
			})
		}
	}
	if len(enforcing) > 0 {
		return checkers.Pass("A Conditional Access policy enforces MFA for administrative roles.", enforcing), nil
	}
	return checkers.Fail("No enabled Conditional Access policy requires MFA for administrative roles.", map[string]any{
		"policies_checked": len(policies),
	}), nil
}
