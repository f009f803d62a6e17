package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

const sshPort = 22

// RestrictedSSH flags security groups that admit SSH from anywhere
func (c *Checks) RestrictedSSH(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	cfg, err := c.config(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}

	f := checkers.NewFindings("security groups", "security_groups")
	p := ec2.NewDescribeSecurityGroupsPaginator(c.clients.EC2(cfg), &ec2.DescribeSecurityGroupsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("describe security groups: %w", err)
		}
		for _, sg := range page.SecurityGroups {
			id := aws.ToString(sg.GroupId)
			if allowsOpenPort(sg.IpPermissions, sshPort) {
				f.NonCompliant(id, "Allows SSH (port 22) from 0.0.0.0/0.")
				continue
			}
			f.Compliant(checkers.Record{"id": id, "name": aws.ToString(sg.GroupName)})
		}
	}
	return f.Result(), nil
}

func allowsOpenPort(perms []ec2types.IpPermission, port int32) bool {
	for _, perm := range perms {
		proto := aws.ToString(perm.IpProtocol)
		if proto != "tcp" && proto != "-1" {
			continue
		}
		if proto == "tcp" && (aws.ToInt32(perm.FromPort) > port || aws.ToInt32(perm.ToPort) < port) {
			continue
		}
		for _, r := range perm.IpRanges {
			if aws.ToString(r.CidrIp) == "0.0.0.0/0" {
				return true
			}
		}
		for _, r := range perm.Ipv6Ranges {
			if aws.ToString(r.CidrIpv6) == "::/0" {
				return true
			}
		}
	}
	return false
}
