package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/delivery/consumer"
	delivery "github.com/sylver911/qs-trader-logic-sub000/internal/trader/delivery/http"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/precondition"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/service"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/postgres"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/redis"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/telegram"
)

var configPath string

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *logger.Logger
	db        *postgres.DB
	redis     *redis.Client
	notifier  telegram.Notifier
	queue     repository.QueueRepository
	runtime   repository.RuntimeConfigRepository
	scheduler service.SchedulerService
	broker    repository.BrokerRepository
	trades    repository.TradeRepository
	signals   repository.SignalRepository
}

func newApp() *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	postgresCfg := postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		TimeZone:        cfg.Database.TimeZone,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	}
	db, err := postgres.NewDB(postgresCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}

	redisCfg := redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}
	redisClient, err := redis.NewClient(redisCfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize Redis", logger.ErrorField(err))
	}

	telegramNotifier, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if err != nil {
		appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
	}

	return &app{
		cfg:       cfg,
		logger:    appLogger,
		db:        db,
		redis:     redisClient,
		notifier:  telegramNotifier,
		queue:     repository.NewQueueRepository(redisClient.Client),
		runtime:   repository.NewRuntimeConfigRepository(redisClient.Client, cfg, appLogger),
		scheduler: service.NewSchedulerService(cfg, repository.NewScheduleRepository(redisClient.Client), appLogger),
		broker:    repository.NewIBKRBrokerRepository(cfg, appLogger),
		trades:    repository.NewTradeRepository(db.DB),
		signals:   repository.NewSignalRepository(db.DB),
	}
}

func (a *app) close() {
	if sqlDB, err := a.db.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.redis.Close()
	_ = a.logger.Sync()
}

// newReasoningEngine builds the engine for the configured provider.
func (a *app) newReasoningEngine(ctx context.Context) (repository.ReasoningEngineRepository, error) {
	switch a.cfg.AI.Provider {
	case common.AIProviderGemini:
		genAiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  a.cfg.Gemini.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		return repository.NewGeminiEngineRepository(a.cfg, a.logger, genAiClient), nil
	case common.AIProviderClaude:
		client := anthropic.NewClient(option.WithAPIKey(a.cfg.Claude.APIKey))
		return repository.NewClaudeEngineRepository(a.cfg, a.logger, client), nil
	}
	return nil, fmt.Errorf("%w: %q", dto.ErrUnknownProvider, a.cfg.AI.Provider)
}

// newRouter builds one strategy per configured policy, all sharing the
// decision engine and the default precondition chain.
func (a *app) newRouter(ctx context.Context) *strategy.Router {
	engine, err := a.newReasoningEngine(ctx)
	if err != nil {
		a.logger.Fatal("Failed to initialize reasoning engine", logger.ErrorField(err))
	}

	var news repository.NewsRepository
	if a.cfg.News.Enabled && a.cfg.News.FeedURL != "" {
		news = repository.NewNewsRepository(a.cfg.News.FeedURL)
	}
	volatility := repository.NewVolatilityRepository(a.cfg.Broker.VolatilitySymbol, time.Minute)
	decider := service.NewDecisionEngine(a.cfg, a.logger, engine, a.broker, news, a.trades, a.scheduler)

	strategies := make([]strategy.Strategy, 0, len(a.cfg.Strategies))
	for _, sc := range a.cfg.Strategies {
		s, err := strategy.NewSignalStrategy(sc, precondition.DefaultChain(), a.broker, volatility, decider, a.cfg.Trader.ContentThreshold, a.logger)
		if err != nil {
			a.logger.Fatal("Failed to build strategy", logger.StringField("strategy", sc.Name), logger.ErrorField(err))
		}
		strategies = append(strategies, s)
	}
	a.logger.Info("Strategies registered",
		logger.IntField("count", len(strategies)),
		logger.StringField("provider", engine.Provider()))
	return strategy.NewRouter(a.logger, nil, strategies...)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the signal consumer, reconciliation monitor and ops API",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp()
	defer a.close()
	a.logger.Info("Starting Trader Service", logger.Field("name", a.cfg.App.Name))

	processor := service.NewProcessorService(a.signals, a.runtime, a.newRouter(ctx), a.notifier, a.logger)
	redisConsumer := consumer.NewRedisConsumer(a.cfg, a.queue, a.scheduler, a.notifier, a.logger)
	redisConsumer.Start(ctx, processor.Process)

	var monitor *consumer.ReconciliationMonitor
	if a.cfg.Reconciliation.Enabled {
		reconciler := service.NewReconciliationService(a.cfg, a.trades, a.broker, a.notifier, a.logger)
		monitor = consumer.NewReconciliationMonitor(a.cfg, reconciler, a.logger)
		if err := monitor.Start(ctx); err != nil {
			a.logger.Fatal("Failed to start reconciliation monitor", logger.ErrorField(err))
		}
	}

	e := echo.New()
	e.HideBanner = true
	delivery.NewOpsHandler(a.queue, a.scheduler, a.runtime, a.logger).RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf("%s:%d", a.cfg.API.Host, a.cfg.API.Port)
		a.logger.Info("HTTP server starting", logger.Field("address", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed to start", logger.ErrorField(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("Shutting down trader service...")

	redisConsumer.Stop()
	if monitor != nil {
		monitor.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server forced to shutdown", logger.ErrorField(err))
	}

	a.logger.Info("Trader service exiting")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Runs a single order reconciliation cycle and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := newApp()
		defer a.close()

		reconciler := service.NewReconciliationService(a.cfg, a.trades, a.broker, a.notifier, a.logger)
		report, err := consumer.NewReconciliationMonitor(a.cfg, reconciler, a.logger).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("checked=%d closed=%d cancelled=%d errors=%d\n", report.Checked, report.Closed, report.Cancelled, report.Errors)
		return nil
	},
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "trader-service",
		Short: "Processes trading signals and reconciles bracket orders",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config-trader.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd, reconcileCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing trader-service CLI: %s\n", err)
		os.Exit(1)
	}
}
