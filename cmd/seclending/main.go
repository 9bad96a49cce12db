// seclending 主程序
// 功能：借券审批与订单额度校验决策服务
// 架构：DDD 分层 + Gin HTTP + gRPC 健康检查 + Kafka outbox
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wyfcoding/securitieslending/internal/decision"
	eventdomain "github.com/wyfcoding/securitieslending/internal/event/domain"
	"github.com/wyfcoding/securitieslending/internal/event/infrastructure/messaging"
	invapp "github.com/wyfcoding/securitieslending/internal/inventory/application"
	invinfra "github.com/wyfcoding/securitieslending/internal/inventory/infrastructure"
	invhttp "github.com/wyfcoding/securitieslending/internal/inventory/interfaces/http"
	limitapp "github.com/wyfcoding/securitieslending/internal/limit/application"
	limitdomain "github.com/wyfcoding/securitieslending/internal/limit/domain"
	limitinfra "github.com/wyfcoding/securitieslending/internal/limit/infrastructure"
	limithttp "github.com/wyfcoding/securitieslending/internal/limit/interfaces/http"
	locateapp "github.com/wyfcoding/securitieslending/internal/locate/application"
	locatedomain "github.com/wyfcoding/securitieslending/internal/locate/domain"
	locateinfra "github.com/wyfcoding/securitieslending/internal/locate/infrastructure"
	locatehttp "github.com/wyfcoding/securitieslending/internal/locate/interfaces/http"
	orderapp "github.com/wyfcoding/securitieslending/internal/ordervalidation/application"
	orderinfra "github.com/wyfcoding/securitieslending/internal/ordervalidation/infrastructure"
	orderhttp "github.com/wyfcoding/securitieslending/internal/ordervalidation/interfaces/http"
	refapp "github.com/wyfcoding/securitieslending/internal/referencedata/application"
	refdomain "github.com/wyfcoding/securitieslending/internal/referencedata/domain"
	refcache "github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/cache"
	refmysql "github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/mysql"
	refredis "github.com/wyfcoding/securitieslending/internal/referencedata/infrastructure/persistence/redis"
	refhttp "github.com/wyfcoding/securitieslending/internal/referencedata/interfaces/http"
	ruleapp "github.com/wyfcoding/securitieslending/internal/rule/application"
	ruleinfra "github.com/wyfcoding/securitieslending/internal/rule/infrastructure"
	rulehttp "github.com/wyfcoding/securitieslending/internal/rule/interfaces/http"
	"github.com/wyfcoding/securitieslending/pkg/cache"
	"github.com/wyfcoding/securitieslending/pkg/config"
	"github.com/wyfcoding/securitieslending/pkg/db"
	"github.com/wyfcoding/securitieslending/pkg/idgen"
	"github.com/wyfcoding/securitieslending/pkg/logger"
	"github.com/wyfcoding/securitieslending/pkg/metrics"
	"github.com/wyfcoding/securitieslending/pkg/middleware"
	"github.com/wyfcoding/securitieslending/pkg/mq"
	"github.com/wyfcoding/securitieslending/pkg/ratelimit"
)

const (
	limitKeyPrefix     = "seclending:limit:"
	inventoryKeyPrefix = "seclending:inventory:"
)

func main() {
	configPath := flag.String("config", "configs/seclending/config.toml", "config file path")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.Init(logger.Config{
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
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		logger.Error(context.Background(), "seclending exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(context.Background(), "seclending stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	logger.Info(ctx, "Starting seclending", "service", cfg.ServiceName, "environment", cfg.Environment)

	// 3. 数据库
	database, err := db.Init(ctx, db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	// 4. Redis（可选）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	// 5. 指标
	m := metrics.New("seclending", prometheus.DefaultRegisterer)

	// 6. 存储
	refRepoSQL := refmysql.NewReferenceRepository(database.DB)
	ruleRepo := ruleinfra.NewGormRuleRepository(database.DB)
	locateRepo := locateinfra.NewGormRepository(database.DB)
	orderRepo := orderinfra.NewGormRepository(database.DB)
	limitSQL := limitinfra.NewGormLimitStore(database.DB)
	ledgerSQL := invinfra.NewGormLedger(database.DB)
	outbox := messaging.NewOutboxEventPublisher(database.DB, cfg.Kafka.WorkflowTopic, cfg.Kafka.InventoryTopic)

	if cfg.Database.AutoMigrate {
		migrators := []interface{ AutoMigrate(context.Context) error }{
			refRepoSQL, ruleRepo, locateRepo, orderRepo, limitSQL, ledgerSQL, outbox,
		}
		for _, mg := range migrators {
			if err := mg.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
		}
	}

	var (
		limitStore limitapp.Store       = limitSQL
		ledger     invapp.Store         = ledgerSQL
		refRepo    refdomain.Repository = refRepoSQL
	)
	if redisClient != nil {
		limitStore = limitinfra.NewRedisLimitStore(redisClient, limitKeyPrefix)
		ledger = invinfra.NewRedisLedger(redisClient, inventoryKeyPrefix)
		refRepo = refredis.NewReferenceRedisRepository(redisClient, 0)
	}

	// 订单校验读写的额度：配置了外部额度服务时走 HTTP，否则走本地存储
	var orderLimits limitdomain.LimitStore = limitStore
	if cfg.LimitService.BaseURL != "" {
		orderLimits = limitinfra.NewLimitServiceClient(limitinfra.ClientConfig{
			BaseURL:         cfg.LimitService.BaseURL,
			Timeout:         time.Duration(cfg.LimitService.Timeout) * time.Millisecond,
			BreakerFailures: uint32(cfg.LimitService.BreakerFailures),
			BreakerOpen:     time.Duration(cfg.LimitService.BreakerOpenSeconds) * time.Second,
		})
		logger.Info(ctx, "order validation uses remote limit service", "base_url", cfg.LimitService.BaseURL)
	}

	// 7. 参考数据本地缓存
	local, err := cache.NewLocalCache(ctx, time.Duration(cfg.Engine.ReferenceCacheSeconds)*time.Second, 64)
	if err != nil {
		return err
	}
	defer local.Close()
	refLookup := refcache.NewCachedLookup(refRepo, local)

	// 8. 事件发布
	producer := mq.NewProducer(ctx, mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	})
	defer producer.Close()

	var sink eventdomain.Publisher
	if cfg.Outbox.Enabled {
		sink = outbox
	} else {
		sink = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.WorkflowTopic, cfg.Kafka.InventoryTopic)
	}
	publisher := messaging.NewRetryingPublisher(sink, 1024, 5, 50*time.Millisecond, m)

	// 9. 决策组件
	calendar, err := decision.NewCalendar(cfg.Engine.Timezone, cfg.Engine.Holidays)
	if err != nil {
		return err
	}
	policy, err := locatedomain.NewFractionPolicy(cfg.Engine.DecrementFractions)
	if err != nil {
		return err
	}
	borrowRate, err := decimal.NewFromString(cfg.Engine.DefaultBorrowRate)
	if err != nil {
		return fmt.Errorf("invalid engine.default_borrow_rate: %w", err)
	}
	retry := decision.RetryPolicy{
		MaxAttempts:    cfg.Engine.MaxAttempts,
		InitialBackoff: cfg.Engine.RetryBackoff(),
		MaxBackoff:     10 * cfg.Engine.RetryBackoff(),
	}

	evaluator := ruleapp.NewEvaluator(ruleRepo, log)
	if err := evaluator.Reload(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	locateEngine := locateapp.NewEngine(locateapp.Deps{
		Repo:      locateRepo,
		RefData:   refLookup,
		Ledger:    ledger,
		Rules:     evaluator,
		Policy:    policy,
		Publisher: publisher,
		Calendar:  calendar,
		IDs:       idgen.Default(),
		Metrics:   m,
	}, locateapp.EngineConfig{
		DefaultApprover:      cfg.Engine.DefaultApprover,
		DefaultTemperature:   cfg.Engine.DefaultTemperature,
		DefaultBorrowRate:    borrowRate,
		AutoApproveByDefault: cfg.Engine.AutoApproveByDefault,
		Retry:                retry,
	}, log)

	orderEngine := orderapp.NewEngine(orderapp.Deps{
		Repo:      orderRepo,
		Limits:    orderLimits,
		RefData:   refLookup,
		Rules:     evaluator,
		Publisher: publisher,
		Calendar:  calendar,
		IDs:       idgen.Default(),
		Metrics:   m,
	}, orderapp.EngineConfig{
		Budget: cfg.Engine.OrderBudget(),
		Retry:  retry,
	}, log)

	// 10. 管理服务
	limitService := limitapp.NewLimitApplicationService(limitStore, log)
	inventoryService := invapp.NewInventoryApplicationService(ledger, publisher, log)
	ruleService := ruleapp.NewRuleApplicationService(ruleRepo, evaluator, log)
	refService := refapp.NewReferenceDataService(refRepo, refLookup, refLookup, log)

	var limiter ratelimit.CallerLimiter
	if redisClient != nil && cfg.RateLimit.Enabled {
		rl, err := ratelimit.NewRedisLimiter(redisClient, cfg.ServiceName, ratelimit.Quota{
			PerSecond: cfg.RateLimit.QPS,
			Burst:     cfg.RateLimit.Burst,
		})
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		limiter = rl
	}

	httpServer := createHTTPServer(cfg, m, limiter,
		limithttp.NewLimitHandler(limitService),
		invhttp.NewInventoryHandler(inventoryService),
		rulehttp.NewRuleHandler(ruleService),
		refhttp.NewReferenceDataHandler(refService),
		locatehttp.NewLocateHandler(locateEngine),
		orderhttp.NewOrderValidationHandler(orderEngine),
	)
	grpcServer, healthServer := createGRPCServer()

	// 11. 启动
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return publisher.Run(gctx) })
	g.Go(func() error {
		return evaluator.Run(gctx, time.Duration(cfg.Engine.RuleRefreshSeconds)*time.Second)
	})
	g.Go(func() error {
		return locateEngine.RunExpirySweep(gctx, time.Duration(cfg.Engine.ExpirySweepSeconds)*time.Second)
	})
	if cfg.Outbox.Enabled {
		relay := messaging.NewRelay(database.DB, producer, messaging.RelayConfig{
			Interval:    time.Duration(cfg.Outbox.PollInterval) * time.Millisecond,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
			RetryBase:   time.Second,
		}, m)
		g.Go(func() error { return relay.Run(gctx) })
	}

	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		logger.Info(gctx, "Starting gRPC server", "addr", addr)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return grpcServer.Serve(lis)
	})

	// 12. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down seclending")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "HTTP server shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type routeRegistrar interface {
	RegisterRoutes(router gin.IRouter)
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, m *metrics.Metrics, limiter ratelimit.CallerLimiter, handlers ...routeRegistrar) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware(m))

	router.GET("/sys/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("")
	api.Use(middleware.RateLimitMiddleware(limiter))
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createGRPCServer gRPC 仅暴露健康检查
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.GRPCLoggingInterceptor(),
			middleware.GRPCRecoveryInterceptor(),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}
