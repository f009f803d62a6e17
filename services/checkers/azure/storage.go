package azure

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

func (s *session) storageAccounts(ctx context.Context, factory *armstorage.ClientFactory) ([]*armstorage.Account, error) {
	accounts, err := collect(ctx, factory.NewAccountsClient().NewListPager(nil),
		func(page armstorage.AccountsClientListResponse) []*armstorage.Account { return page.Value })
	if err != nil {
		return nil, fmt.Errorf("list storage accounts: %w", err)
	}
	return accounts, nil
}

func (s *session) storageFactory() (*armstorage.ClientFactory, error) {
	factory, err := armstorage.NewClientFactory(s.subscriptionID, s.cred, s.arm)
	if err != nil {
		return nil, fmt.Errorf("create storage clients: %w", err)
	}
	return factory, nil
}

// StoragePublic flags storage accounts with any blob container open to
// anonymous reads
func (c *Checks) StoragePublic(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	factory, err := s.storageFactory()
	if err != nil {
		return models.CheckResult{}, err
	}
	accounts, err := s.storageAccounts(ctx, factory)
	if err != nil {
		return models.CheckResult{}, err
	}

	containersClient := factory.NewBlobContainersClient()
	f := checkers.NewFindings("Azure storage accounts", "storage_accounts")
	for _, a := range accounts {
		name := deref(a.Name)
		rg, err := resourceGroup(deref(a.ID))
		if err != nil {
			return models.CheckResult{}, err
		}
		containers, err := collect(ctx, containersClient.NewListPager(rg, name, nil),
			func(page armstorage.BlobContainersClientListResponse) []*armstorage.ListContainerItem { return page.Value })
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list containers for %s: %w", name, err)
		}

		var public []string
		for _, ct := range containers {
			var level armstorage.PublicAccess
			if ct.Properties != nil {
				level = deref(ct.Properties.PublicAccess)
			}
			if level != "" && !strings.EqualFold(string(level), string(armstorage.PublicAccessNone)) {
				public = append(public, fmt.Sprintf("%s (%s)", deref(ct.Name), level))
			}
		}
		if len(public) > 0 {
			sort.Strings(public)
			f.NonCompliant(name, "Public containers found: "+strings.Join(public, ", ")+".")
			continue
		}
		f.Compliant(checkers.Record{"id": name, "resource_group": rg, "public_containers": 0})
	}
	return f.Result(), nil
}

// StorageHTTPS requires secure transfer on every storage account. An account
// that does not report the setting counts as non-compliant.
func (c *Checks) StorageHTTPS(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	factory, err := s.storageFactory()
	if err != nil {
		return models.CheckResult{}, err
	}
	accounts, err := s.storageAccounts(ctx, factory)
	if err != nil {
		return models.CheckResult{}, err
	}

	f := checkers.NewFindings("Azure storage accounts", "storage_accounts")
	for _, a := range accounts {
		name := deref(a.Name)
		if a.Properties == nil || !deref(a.Properties.EnableHTTPSTrafficOnly) {
			f.NonCompliant(name, "'Secure transfer required' is disabled.")
			continue
		}
		f.Compliant(checkers.Record{"id": name, "https_only": true})
	}
	return f.Result(), nil
}
