package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// planSeed is one entry of a plan catalog file. is_active defaults to true.
type planSeed struct {
	Name          string        `yaml:"name"`
	Description   string        `yaml:"description"`
	Industry      string        `yaml:"industry"`
	MaxUsers      int           `yaml:"max_users"`
	MaxBranches   int           `yaml:"max_branches"`
	PriceMinor    int64         `yaml:"price_minor"`
	BillingPeriod period.Period `yaml:"billing_period"`
	TierLevel     billing.Tier  `yaml:"tier_level"`
	IsActive      *bool         `yaml:"is_active"`
	Discontinued  bool          `yaml:"discontinued"`
}

type planCatalog struct {
	Plans []planSeed `yaml:"plans"`
}

func newSeedPlansCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "seed-plans",
		Description: "Create or update subscription plans from a YAML catalog",
		Flags:       flag.NewFlagSet("seed-plans", flag.ContinueOnError),
	}
	file := cmd.Flags.String("file", "plans.yaml", "Plan catalog file")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("failed to open plan catalog: %w", err)
		}
		defer f.Close()

		plans, err := parsePlanCatalog(f)
		if err != nil {
			return err
		}

		return env.with(ctx, func(rt *Runtime) error {
			n, err := rt.Subscriptions.SeedPlans(ctx, plans)
			if err != nil {
				return fmt.Errorf("failed to seed plans: %w", err)
			}
			env.log.WithField("plans", n).WithField("file", *file).Info("Plans seeded")
			return nil
		})
	}
	return cmd
}

// parsePlanCatalog reads a YAML document of the form
//
//	plans:
//	  - name: Basic
//	    industry: retail
//	    max_users: 5
//	    ...
func parsePlanCatalog(r io.Reader) ([]*billing.Plan, error) {
	var catalog planCatalog
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("plan catalog is empty")
		}
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	if len(catalog.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	plans := make([]*billing.Plan, 0, len(catalog.Plans))
	for _, seed := range catalog.Plans {
		active := true
		if seed.IsActive != nil {
			active = *seed.IsActive
		}
		plans = append(plans, &billing.Plan{
			Name:          seed.Name,
			Description:   seed.Description,
			Industry:      seed.Industry,
			MaxUsers:      seed.MaxUsers,
			MaxBranches:   seed.MaxBranches,
			PriceMinor:    seed.PriceMinor,
			BillingPeriod: seed.BillingPeriod,
			TierLevel:     seed.TierLevel,
			IsActive:      active,
			Discontinued:  seed.Discontinued,
		})
	}
	return plans, nil
}
