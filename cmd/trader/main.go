package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"os/signal"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autotrader/internal/broker"
	"autotrader/internal/config"
	cronrunner "autotrader/internal/cron"
	"autotrader/internal/db"
	"autotrader/internal/handler"
	"autotrader/internal/ledger"
	"autotrader/internal/logger"
	"autotrader/internal/models"
	"autotrader/internal/optimizer"
	"autotrader/internal/orchestrator"
	"autotrader/internal/params"
	"autotrader/internal/position"
	gormrepository "autotrader/internal/repository/gorm"
	"autotrader/internal/risk"
	"autotrader/internal/service"
	"autotrader/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("AT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if envOnlyRaw := os.Getenv("AT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker wiring. Simulated mode runs the whole loop against an in-process
	// gateway; everything it produces carries the simulated marker.
	var (
		gateway broker.OrderGateway
		feed    broker.AccountFeed
		quotes  broker.Quoter
		sim     *broker.Simulated
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Broker.Mode)) {
	case "live":
		apiKey := os.Getenv(cfg.Broker.APIKeyEnv)
		rest := broker.NewRESTClient(&http.Client{Timeout: cfg.Broker.Timeout}, cfg.Broker.BaseURL, apiKey)
		gateway = rest
		feed = rest
	default:
		sim = broker.NewSimulated(decimal.NewFromFloat(cfg.Broker.SimStartingCash))
		gateway = sim
		feed = sim
		quotes = sim
	}

	var stream *broker.QuoteStream
	if cfg.Broker.StreamURL != "" && settingsSvc.IsEnabled(ctx, service.FeatureQuoteStream, false) {
		symbols := append([]string{}, cfg.Modules.CryptoSymbols...)
		symbols = append(symbols, cfg.Modules.EquitySymbols...)
		symbols = append(symbols, cfg.Modules.FXSymbols...)
		stream = broker.NewQuoteStream(broker.QuoteStreamOptions{
			URL:     cfg.Broker.StreamURL,
			Symbols: symbols,
			Logger:  logger,
		})
		quotes = stream
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("quote stream stopped", zap.Error(err))
			}
		}()
	}
	if quotes == nil {
		logger.Warn("no quote source configured, modules will not trade")
	}

	paramStore := &params.Store{Repo: store, Logger: logger}
	riskEngine := &risk.Engine{Config: cfg.Risk, Params: paramStore, Logger: logger}
	exitPolicy := &position.Policy{Config: cfg.Exit, Risk: riskEngine, Params: paramStore, Logger: logger}
	tradeLedger := &ledger.Ledger{Repo: store, Logger: logger}

	modules := []strategy.Module{
		strategy.NewCryptoMomentum(quotes, paramStore, logger, cfg.Modules.CryptoSymbols),
		strategy.NewEquityTrend(quotes, paramStore, logger, cfg.Modules.EquitySymbols),
		strategy.NewFXRange(quotes, paramStore, logger, cfg.Modules.FXSymbols),
	}
	declareParams(ctx, logger, paramStore, cfg, modules)

	opt := &optimizer.Optimizer{
		Config: cfg.Optimizer,
		Ledger: tradeLedger,
		Params: paramStore,
		Logger: logger,
	}
	loop := &orchestrator.Orchestrator{
		Config:    cfg,
		Repo:      store,
		Gateway:   gateway,
		Feed:      feed,
		Quotes:    quotes,
		Risk:      riskEngine,
		Exits:     exitPolicy,
		Ledger:    tradeLedger,
		Params:    paramStore,
		Optimizer: opt,
		Modules:   modules,
		Settings:  settingsSvc,
		Logger:    logger,
	}
	go loop.Run(ctx)

	// In simulated mode the stream feeds the fill engine so simulated fills
	// track real prices.
	if sim != nil && stream != nil {
		go mirrorQuotes(ctx, sim, stream, cfg)
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.RequireBearerMiddleware(cfg.Server.APIToken))

	healthHandler := &handler.HealthHandler{
		DB:         dbConn.Gorm,
		Loop:       loop,
		StaleAfter: 3 * cfg.Cycle.Interval,
	}
	healthHandler.Register(engine)
	(&handler.CyclesHandler{Repo: store}).Register(engine)
	(&handler.TradesHandler{Repo: store}).Register(engine)
	(&handler.PositionsHandler{Repo: store}).Register(engine)
	(&handler.ParamsHandler{Repo: store}).Register(engine)
	(&handler.SystemSettingsHandler{Repo: store, Settings: settingsSvc}).Register(engine)

	dailyStats := &service.DailyStatsService{Repo: store, Logger: logger, Flags: settingsSvc}
	pruner := &service.SnapshotPruneService{Repo: store, Logger: logger}
	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		if _, err := cronRunner.Add("daily_stats", cfg.Cron.DailyStats, dailyStats.RunOnce); err != nil {
			logger.Warn("cron register daily stats failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("snapshot_prune", cfg.Cron.SnapshotPrune, pruner.RunOnce); err != nil {
			logger.Warn("cron register snapshot prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// declareParams registers every tunable before the first cycle. Persisted
// values from earlier runs win over the declared defaults.
func declareParams(ctx context.Context, logger *zap.Logger, store *params.Store, cfg config.Config, modules []strategy.Module) {
	decls := []models.ParameterRecord{
		{
			ModuleName: risk.RiskModule,
			Name:       risk.ParamRiskPerTrade,
			Value:      cfg.Risk.RiskPerTradePct,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.001,
			MaxBound:   0.05,
		},
		{
			ModuleName: position.ExitModule,
			Name:       position.ParamStopLoss,
			Value:      cfg.Exit.StopLossPct,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.02,
			MaxBound:   0.25,
		},
		{
			ModuleName: position.ExitModule,
			Name:       position.ParamFullTarget,
			Value:      cfg.Exit.FullTargetPct,
			ValueType:  models.ParamTypeContinuous,
			MinBound:   0.05,
			MaxBound:   0.60,
		},
	}
	for _, m := range modules {
		decls = append(decls, m.Declarations()...)
	}
	for _, d := range decls {
		if err := store.Declare(ctx, d); err != nil {
			logger.Warn("parameter declaration failed",
				zap.String("module", d.ModuleName),
				zap.String("name", d.Name),
				zap.Error(err),
			)
		}
	}
}

// mirrorQuotes copies stream prices into the simulated fill engine.
func mirrorQuotes(ctx context.Context, sim *broker.Simulated, stream *broker.QuoteStream, cfg config.Config) {
	classes := map[string][]string{
		"crypto": cfg.Modules.CryptoSymbols,
		"equity": cfg.Modules.EquitySymbols,
		"fx":     cfg.Modules.FXSymbols,
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for class, symbols := range classes {
				for _, sym := range symbols {
					if price, ok := stream.Quote(sym); ok {
						sim.SetQuote(sym, class, price)
					}
				}
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
