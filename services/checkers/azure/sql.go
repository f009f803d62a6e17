package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/sql/armsql"
	"go.uber.org/zap"

	"github.com/upb/auditron/models"
	"github.com/upb/auditron/services/checkers"
)

// SQLTDE requires transparent data encryption on every user database
func (c *Checks) SQLTDE(ctx context.Context, creds models.Credentials) (models.CheckResult, error) {
	s, err := c.session(ctx, creds)
	if err != nil {
		return models.CheckResult{}, err
	}
	factory, err := armsql.NewClientFactory(s.subscriptionID, s.cred, s.arm)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("create sql clients: %w", err)
	}

	servers, err := collect(ctx, factory.NewServersClient().NewListPager(nil),
		func(page armsql.ServersClientListResponse) []*armsql.Server { return page.Value })
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("list sql servers: %w", err)
	}

	databases := factory.NewDatabasesClient()
	tde := factory.NewTransparentDataEncryptionsClient()
	f := checkers.NewFindings("Azure SQL databases", "databases")
	for _, srv := range servers {
		server := deref(srv.Name)
		rg, err := resourceGroup(deref(srv.ID))
		if err != nil {
			return models.CheckResult{}, err
		}
		dbs, err := collect(ctx, databases.NewListByServerPager(rg, server, nil),
			func(page armsql.DatabasesClientListByServerResponse) []*armsql.Database { return page.Value })
		if err != nil {
			return models.CheckResult{}, fmt.Errorf("list databases for %s: %w", server, err)
		}

		for _, db := range dbs {
			name := deref(db.Name)
			if strings.EqualFold(name, "master") {
				continue
			}
			id := server + "/" + name

			resp, err := tde.Get(ctx, rg, server, name, armsql.TransparentDataEncryptionNameCurrent, nil)
			if err != nil {
				c.logger.Warn("failed to read TDE state",
					zap.String("database", id),
					zap.Error(err),
				)
				f.NonCompliant(id, "Could not verify TDE status.")
				continue
			}
			var state armsql.TransparentDataEncryptionState
			if resp.Properties != nil {
				state = deref(resp.Properties.State)
			}
			if !strings.EqualFold(string(state), string(armsql.TransparentDataEncryptionStateEnabled)) {
				f.NonCompliant(id, fmt.Sprintf("TDE status is '%s'.", state))
				continue
			}
			f.Compliant(checkers.Record{"id": id, "server": server, "tde": "Enabled"})
		}
	}
	return f.Result(), nil
}
