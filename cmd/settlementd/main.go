package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"givepool/config"
	"givepool/native/settlement"
	"givepool/observability/logging"
	"givepool/rpc"
	statestore "givepool/state/settlement"
	"givepool/storage"
)

const authSecretEnv = "GIVEPOOL_AUTH_SECRET"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GIVEPOOL_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service:    "settlementd",
		Env:        env,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "settlement"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := statestore.NewStore(db)
	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Error("Failed to build settlement engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(store)

	if err := seedFundraisers(engine, store, cfg); err != nil {
		logger.Error("Failed to seed fundraisers", slog.Any("error", err))
		os.Exit(1)
	}
	if reserve := strings.TrimSpace(cfg.YieldReserveAddress); reserve != "" {
		reserveAddr, err := config.DecodeAddr(reserve)
		if err != nil {
			logger.Error("Invalid yield reserve address", slog.Any("error", err))
			os.Exit(1)
		}
		engine.SetYieldSource(settlement.NewReserveYieldSource(store, reserveAddr))
	} else {
		logger.Warn("No yield reserve configured; harvest requests will be rejected")
	}

	authSecret := cfg.AuthSecret
	if fromEnv := strings.TrimSpace(os.Getenv(authSecretEnv)); fromEnv != "" {
		authSecret = fromEnv
	}
	if authSecret == "" {
		logger.Warn("No auth secret configured; all authenticated RPC methods will be rejected")
	}

	server := rpc.NewServer(rpc.Config{
		Engine:             engine,
		Logger:             logger,
		AuthSecret:         authSecret,
		AuthIssuer:         cfg.AuthIssuer,
		AuthAudience:       cfg.AuthAudience,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", slog.Any("error", err))
	}
}

// buildEngine wires the settlement engine from configuration.
func buildEngine(cfg *config.Config) (*settlement.Engine, error) {
	moduleAddr, err := config.DecodeAddr(cfg.ModuleAddress)
	if err != nil {
		return nil, fmt.Errorf("module address: %w", err)
	}
	if moduleAddr == ([20]byte{}) {
		// Default module account when none configured.
		moduleAddr[0] = 0x67 // 'g'
		moduleAddr[1] = 0x70 // 'p'
	}
	treasuryAddr, err := config.DecodeAddr(cfg.TreasuryAddress)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	bridgeAddr, err := config.DecodeAddr(cfg.BridgeCaller)
	if err != nil {
		return nil, fmt.Errorf("bridge caller: %w", err)
	}

	split := settlement.YieldSplit{
		CauseBps:    cfg.DefaultSplit.CauseBps,
		StakerBps:   cfg.DefaultSplit.StakerBps,
		PlatformBps: cfg.DefaultSplit.PlatformBps,
	}
	engine := settlement.NewEngine(moduleAddr, treasuryAddr, split)
	engine.SetPoolID(cfg.PoolID)
	engine.SetBridgeCaller(bridgeAddr)
	engine.SetAllowLegacyDonations(cfg.AllowLegacyDonations)
	return engine, nil
}

// seedFundraisers registers configured fundraisers that are not yet on disk.
func seedFundraisers(engine *settlement.Engine, store *statestore.Store, cfg *config.Config) error {
	for _, seed := range cfg.Fundraisers {
		id := strings.TrimSpace(seed.ID)
		existing, err := store.GetFundraiser(id)
		if err != nil {
			return fmt.Errorf("fundraiser %s: %w", id, err)
		}
		if existing != nil {
			continue
		}
		beneficiary, err := config.DecodeAddr(seed.Beneficiary)
		if err != nil {
			return fmt.Errorf("fundraiser %s beneficiary: %w", id, err)
		}
		poolID := strings.TrimSpace(seed.PoolID)
		if poolID == "" {
			poolID = cfg.PoolID
		}
		if err := engine.RegisterFundraiser(id, beneficiary, poolID); err != nil {
			return fmt.Errorf("fundraiser %s: %w", id, err)
		}
	}
	return nil
}
