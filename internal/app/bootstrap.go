package app

import (
	"context"
	"fmt"

	"appbee/internal/config"
	"appbee/internal/registry"
)

// BootstrapResult reports what Bootstrap created on this run.
type BootstrapResult struct {
	AdminCreated     bool
	CompaniesCreated []string
}

// Bootstrap seeds the platform admin and the configured companies. It is safe
// to run on every start: existing rows are left alone. The admin is only
// seeded when a password is supplied.
func Bootstrap(ctx context.Context, reg registry.Registry, cfg *config.Config, adminPassword string) (BootstrapResult, error) {
	var res BootstrapResult
	if cfg == nil {
		cfg = config.Default()
	}
	if adminPassword != "" && cfg.Bootstrap.Admin.Email != "" {
		_, created, err := reg.EnsureAdmin(ctx, cfg.Bootstrap.Admin.Email, cfg.Bootstrap.Admin.FullName, adminPassword)
		if err != nil {
			return res, fmt.Errorf("bootstrap admin: %w", err)
		}
		res.AdminCreated = created
	}
	for _, seed := range cfg.Bootstrap.Companies {
		c, created, err := reg.EnsureCompany(ctx, seed.Name, seed.Description)
		if err != nil {
			return res, fmt.Errorf("bootstrap company %s: %w", seed.Name, err)
		}
		if created {
			res.CompaniesCreated = append(res.CompaniesCreated, c.ID)
		}
	}
	return res, nil
}
