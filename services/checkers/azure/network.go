package azure

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v6"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

const rdpPort = 3389

// RestrictedRDP flags network security groups admitting RDP from the internet
func (c *Checks) RestrictedRDP(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	client, err := armnetwork.NewSecurityGroupsClient(s.subscriptionID, s.cred, s.arm)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("create network security groups client: %w", err)
	}

	nsgs, err := collect(ctx, client.NewListAllPager(nil),
		func(page armnetwork.SecurityGroupsClientListAllResponse) []*armnetwork.SecurityGroup { return page.Value })
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list network security groups: %w", err)
	}

	f := checkers.NewFindings("network security groups", "network_security_groups")
	for _, nsg := range nsgs {
		name := deref(nsg.Name)
		var rules []*armnetwork.SecurityRule
		if nsg.Properties != nil {
			rules = nsg.Properties.SecurityRules
		}
		if rule, ok := openRule(rules, rdpPort); ok {
			f.NonCompliant(name, fmt.Sprintf("Rule '%s' allows unrestricted RDP access.", deref(rule.Name)))
			continue
		}
		rg, err := resourceGroup(deref(nsg.ID))
		if err != nil {
			return models.CheckResult{}, err
		}
		f.Compliant(checkers.Record{"id": name, "resource_group": rg})
	}
	return f.Result(), nil
}

func openRule(rules []*armnetwork.SecurityRule, port int) (*armnetwork.SecurityRule, bool) {
	for _, r := range rules {
		if r == nil || r.Properties == nil {
			continue
		}
		p := r.Properties
		if !strings.EqualFold(string(deref(p.Direction)), string(armnetwork.SecurityRuleDirectionInbound)) ||
			!strings.EqualFold(string(deref(p.Access)), string(armnetwork.SecurityRuleAccessAllow)) {
			continue
		}
		if proto := deref(p.Protocol); proto != armnetwork.SecurityRuleProtocolAsterisk &&
			!strings.EqualFold(string(proto), string(armnetwork.SecurityRuleProtocolTCP)) {
			continue
		}
		if !anyPortCovers(ruleValues(p.DestinationPortRange, p.DestinationPortRanges), port) {
			continue
		}
		if anyInternetSource(ruleValues(p.SourceAddressPrefix, p.SourceAddressPrefixes)) {
			return r, true
		}
	}
	return nil, false
}

func ruleValues(single *string, list []*string) []string {
	out := make([]string, 0, len(list)+1)
	if single != nil {
		out = append(out, *single)
	}
	for _, v := range list {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// anyPortCovers matches "*", a single port, or an inclusive "lo-hi" range
func anyPortCovers(ranges []string, port int) bool {
	for _, entry := range ranges {
		entry = strings.TrimSpace(entry)
		if entry == "*" {
			return true
		}
		lo, hi, isRange := strings.Cut(entry, "-")
		if !isRange {
			hi = lo
		}
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 == nil && err2 == nil && from <= port && port <= to {
			return true
		}
	}
	return false
}

func anyInternetSource(prefixes []string) bool {
	for _, src := range prefixes {
		switch strings.ToLower(strings.TrimSpace(src)) {
		case "*", "any", "internet", "0.0.0.0/0", "::/0":
			return true
		}
	}
	return false
}
