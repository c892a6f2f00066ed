package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	marginapp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/application"
	margindomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/domain"
	marginhttp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/margin/interfaces/http"
	optionsapp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/application"
	optionsdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/compliance"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/governance"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/messaging"
	optionsmysql "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/persistence/mysql"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/oracle"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/infrastructure/vault"
	optionshttp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/interfaces/http"
	orderbookapp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/application"
	orderbookdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/domain"
	orderbookredis "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/infrastructure/persistence/redis"
	orderbookhttp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/orderbook/interfaces/http"
	settlementapp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/application"
	settlementdomain "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/domain"
	settlementmysql "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/infrastructure/persistence/mysql"
	settlementhttp "github.com/lmckeown27/avila-protocol-testnet-sub003/internal/settlement/interfaces/http"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/cache"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/config"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/db"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/logger"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/metrics"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/middleware"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/mq"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/ratelimit"
)

var configPath = flag.String("config", "configs/optionsengine/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. 配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 日志
	log, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log = log.With("service", cfg.ServiceName)

	// 3. 指标
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			log.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// 4. 基础设施
	gormDB, err := db.Init(db.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close(gormDB)

	redisClient, err := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, log)
	if err != nil {
		log.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	producer := mq.NewProducer(mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	}, log)
	defer producer.Close()

	// 5. 协作者适配器
	gov, err := governance.NewStaticAdmin(cfg.Governance)
	if err != nil {
		log.Error("failed to init governance", "error", err)
		os.Exit(1)
	}
	gate := compliance.NewMemoryGate()
	memVault := vault.NewMemoryVault()
	priceOracle := oracle.NewRedisOracle(redisClient)
	auditSink := messaging.NewAuditPublisher(producer, log)

	// 6. 领域核心
	riskParams := margindomain.RiskParameters{
		InitialMarginRatio:     decimal.NewFromFloat(cfg.Risk.InitialMarginRatio),
		MaintenanceMarginRatio: decimal.NewFromFloat(cfg.Risk.MaintenanceMarginRatio),
		EarlyExerciseBuffer:    decimal.NewFromFloat(cfg.Risk.EarlyExerciseBuffer),
		OTMFloorRatio:          decimal.NewFromFloat(cfg.Risk.OTMFloorRatio),
	}
	modelKind := margindomain.ModelKind(strings.ToUpper(cfg.Risk.MarginModel))
	marginModel, err := margindomain.NewMarginModel(modelKind, riskParams)
	if err != nil {
		log.Error("failed to init margin model", "error", err)
		os.Exit(1)
	}
	marginEngine, err := margindomain.NewEngine(riskParams, marginModel)
	if err != nil {
		log.Error("failed to init margin engine", "error", err)
		os.Exit(1)
	}

	core := optionsdomain.NewCore(optionsdomain.Dependencies{
		Governance: gov,
		Compliance: gate,
		Vault:      memVault,
		Oracle:     priceOracle,
		Ledger:     memVault,
		Audit:      auditSink,
		Margin:     marginEngine,
	})

	settlementEngine := settlementdomain.NewEngine(settlementdomain.Dependencies{
		Source:     core,
		Oracle:     priceOracle,
		Vault:      memVault,
		Ledger:     memVault,
		Custody:    memVault,
		TWAPWindow: time.Duration(cfg.Settlement.TWAPWindowMinutes) * time.Minute,
	})

	registry := orderbookdomain.NewRegistry(orderbookdomain.DefaultLimits())

	// 7. 持久化
	repo := optionsmysql.NewRepository(gormDB)
	payouts := settlementmysql.NewRepository(gormDB)
	if cfg.Environment == "dev" {
		if err := repo.AutoMigrate(); err != nil {
			log.Error("failed to migrate database", "error", err)
		}
		if err := payouts.AutoMigrate(); err != nil {
			log.Error("failed to migrate database", "error", err)
		}
	}
	snapshots := orderbookredis.NewSnapshotRepository(redisClient)

	// 8. 应用服务
	settlementService := settlementapp.NewSettlementService(settlementEngine, payouts, log)
	optionsService := optionsapp.NewOptionsService(core, repo, nil, settlementService, m, log)
	orderbookService := orderbookapp.NewOrderBookService(registry, optionsService, snapshots, m, log)
	optionsService.SetBookOpener(orderbookService)
	marginService := marginapp.NewMarginService(marginEngine, log)

	// 9. HTTP 接口
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logging(log, m))
	r.Use(middleware.CORS())
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewRedisRateLimiter(redisClient)
		r.Use(middleware.RateLimit(limiter, cfg.RateLimit.QPS, cfg.RateLimit.Burst))
	}

	api := r.Group("/api/v1")
	optionshttp.NewHandler(optionsService).RegisterRoutes(api)
	orderbookhttp.NewHandler(orderbookService).RegisterRoutes(api)
	marginhttp.NewHandler(marginService).RegisterRoutes(api)
	settlementhttp.NewHandler(settlementService).RegisterRoutes(api)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// 10. 启动与优雅关闭
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		log.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutting down server...")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
	}
}
