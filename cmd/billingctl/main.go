package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantbilling/pkg/app"
	"github.com/platinummonkey/tenantbilling/pkg/cli"
	"github.com/platinummonkey/tenantbilling/pkg/config"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	open := func(ctx context.Context) (*cli.Runtime, func() error, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		if lvl, err := logrus.ParseLevel(cfg.Observability.LogLevel.String()); err == nil {
			log.SetLevel(lvl)
		}
		a, err := app.New(ctx, cfg, observability.NewLogger(observability.WarnLevel, os.Stderr))
		if err != nil {
			return nil, nil, err
		}
		rt := &cli.Runtime{
			Subscriptions: a.Subscriptions,
			Renewals:      a.Renewals,
			Locker:        a.Redis,
			LockTTL:       cfg.Scheduler.LockTTL,
		}
		if a.Archiver != nil {
			rt.Archiver = a.Archiver
		}
		return rt, a.Close, nil
	}

	root := cli.NewRootCommand(open, log, os.Stdout)
	if err := root.Execute(ctx, os.Args[1:]); err != nil {
		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
