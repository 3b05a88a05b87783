package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"perkledger/config"
	"perkledger/core/events"
	"perkledger/core/state"
	"perkledger/core/types"
	"perkledger/native/amm"
	"perkledger/native/badges"
	"perkledger/native/bank"
	"perkledger/native/common"
	"perkledger/native/discount"
	"perkledger/native/farming"
	"perkledger/native/identity"
	"perkledger/native/settlement"
	"perkledger/observability"
	"perkledger/observability/logging"
	"perkledger/observability/otel"
	"perkledger/rpc"
	"perkledger/storage"
)

// ledgerEmitter appends typed events to the state manager's event log.
type ledgerEmitter struct {
	st *state.Manager
}

func (l ledgerEmitter) Emit(evt events.Event) {
	if conv, ok := evt.(interface{ Event() *types.Event }); ok {
		l.st.AppendEvent(conv.Event())
	}
}

func main() {
	configPath := flag.String("config", "./perkledger.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("perkd", "", "").Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("perkd", cfg.Node.Environment, cfg.Node.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName: "perkd",
		Environment: cfg.Node.Environment,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	db, err := storage.NewLevelDB(cfg.Node.DataDir)
	if err != nil {
		logger.Error("open database", "path", cfg.Node.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st := state.NewManager(db)
	emitter := observability.NewEmitter(ledgerEmitter{st: st}, logger)
	guard := common.NewCallGuard()

	identities := identity.NewRegistry(st)
	identities.SetEmitter(emitter)

	badgeEngine := badges.NewEngine(st, badges.DefaultCatalog(), identities)
	badgeEngine.SetEmitter(emitter)
	pools := discount.NewPoolRegistry(st, identities)
	pools.SetEmitter(emitter)
	affiliates := discount.NewAffiliateRegistry(st)
	affiliates.SetEmitter(emitter)

	assets := bank.NewLedger(st)
	market := amm.NewMarket(st, assets, amm.ModuleAccount)

	settlementParams, err := cfg.SettlementParams()
	if err != nil {
		logger.Error("settlement params", "error", err)
		os.Exit(1)
	}
	farmingParams, err := cfg.FarmingParams()
	if err != nil {
		logger.Error("farming params", "error", err)
		os.Exit(1)
	}

	agg, err := discount.NewAggregator(pools, affiliates, settlementParams.Aggregator)
	if err != nil {
		logger.Error("build aggregator", "error", err)
		os.Exit(1)
	}
	settleEngine, err := settlement.NewEngine(st, identities, badgeEngine, pools, affiliates, agg, assets, market, settlementParams)
	if err != nil {
		logger.Error("build settlement engine", "error", err)
		os.Exit(1)
	}
	settleEngine.SetEmitter(emitter)
	settleEngine.SetGuard(guard)

	farmEngine, err := farming.NewEngine(st, identities, assets, farmingParams)
	if err != nil {
		logger.Error("build farming engine", "error", err)
		os.Exit(1)
	}
	farmEngine.SetEmitter(emitter)
	farmEngine.SetGuard(guard)

	logger.Info("ledger initialised",
		"dataDir", cfg.Node.DataDir,
		"maxDiscountBps", settlementParams.MaxDiscountBps,
		"rewardAsset", farmingParams.RewardAsset,
	)

	server := rpc.NewServer(identities, pools, affiliates, farmEngine, settleEngine, logger)
	logger.Info("query api listening", "address", cfg.Node.ListenAddress)
	if err := server.Serve(ctx, cfg.Node.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
