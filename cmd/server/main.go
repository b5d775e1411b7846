package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gobridgeledger/acl"
	"gobridgeledger/config"
	"gobridgeledger/custody"
	"gobridgeledger/ledger"
	"gobridgeledger/logging"
	"gobridgeledger/redis"
	"gobridgeledger/registry"
	"gobridgeledger/router"
	"gobridgeledger/types"
	"gobridgeledger/workers"
	"gobridgeledger/workers/handlers"
)

func main() {
	cfg := config.Init()

	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalf("Bridge stopped: %v", err)
	}
}

func run(cfg *config.Configuration, log *zap.SugaredLogger) error {
	log.Infow("Starting bridge ledger", "homeChain", cfg.Ledger.HomeChainID, "custody", cfg.Custody.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// without persistence do not continue
	store, err := redis.Open(ctx, cfg.Server.RedisHost, cfg.Server.RedisPort)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer store.Close()

	roles := acl.New()
	roles.Grant(acl.RoleAdmin, cfg.Roles.Admins...)
	roles.Grant(acl.RoleResolver, cfg.Roles.Resolvers...)
	roles.Grant(acl.RoleGateway, cfg.Roles.Gateways...)

	var exec custody.Executor
	switch cfg.Custody.Mode {
	case config.CustodyRPC:
		exec = custody.NewRPC(cfg.Custody.URL, nil)
	default:
		log.Warn("Using in-memory custody, balances are lost on restart")
		exec = custody.NewMemory()
	}

	minAmount, maxAmount, daily, single, err := cfg.Amounts()
	if err != nil {
		return err
	}
	defaults := &types.BridgeLimits{DailyLimit: daily, SingleOperationLimit: single}

	reg := registry.New(store, roles, cfg.Ledger.HomeChainID, cfg.AllowedChains(), defaults, log)
	rt := router.New(roles, log)
	led := ledger.New(ledger.Config{
		HomeChainID:      cfg.Ledger.HomeChainID,
		MinAmount:        minAmount,
		MaxAmount:        maxAmount,
		DefaultLimits:    defaults,
		OperationTimeout: cfg.Ledger.OperationTimeout,
		GasBudget:        cfg.Ledger.GasBudget,
		DispatchLease:    cfg.Ledger.DispatchLease,
	}, store, reg, rt, exec, roles, log)

	if err := registerServices(cfg, led, rt, store, roles, log); err != nil {
		return err
	}

	api := &handlers.API{
		Ledger:   led,
		Registry: reg,
		Router:   rt,
		Store:    store,
		Roles:    roles,
		Keys:     cfg.Server.APIKeys,
		Log:      log.Named("api"),

		SignatureWindow: cfg.Server.SignatureWindow,
	}

	// two workers: the API server and the dispatch outbox; either failing stops both
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workers.Worker_HTTP(gctx, cfg, api, log)
	})
	g.Go(func() error {
		return workers.Worker_redispatch(gctx, led, cfg.Ledger.RedispatchInterval, log)
	})
	return g.Wait()
}
