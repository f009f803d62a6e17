package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

// armOptions configures the resource manager clients. Provider registration
// stays off since audits are read-only, and every request must stay on the
// configured endpoint host.
func (c *Checks) armOptions() (*arm.ClientOptions, error) {
	endpoint := cloud.AzurePublic.Services[cloud.ResourceManager].Endpoint
	if svc, ok := c.env.Cloud.Services[cloud.ResourceManager]; ok {
		endpoint = svc.Endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("azure: invalid resource manager endpoint %q", endpoint)
	}

	opts := &arm.ClientOptions{ClientOptions: c.clientOptions(), DisableRPRegistration: true}
	opts.PerCallPolicies = append(opts.PerCallPolicies, pinHost{host: u.Host})
	return opts, nil
}

// pinHost rejects requests, next links included, that leave the endpoint host
type pinHost struct {
	host string
}

func (p pinHost) Do(req *policy.Request) (*http.Response, error) {
	if host := req.Raw().URL.Host; !strings.EqualFold(host, p.host) {
		return nil, fmt.Errorf("azure: refusing request to %q outside %q", host, p.host)
	}
	return req.Next()
}

// collect drains a pager into one slice
func collect[T, R any](ctx context.Context, pager *runtime.Pager[R], values func(R) []*T) ([]*T, error) {
	var all []*T
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, values(page)...)
	}
	return all, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func resourceGroup(id string) (string, error) {
	rid, err := arm.ParseResourceID(id)
	if err != nil {
		return "", fmt.Errorf("parse resource id %q: %w", id, err)
	}
	return rid.ResourceGroupName, nil
}
