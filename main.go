package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/cliffng14/accountably/internal/config"
	"github.com/cliffng14/accountably/internal/generator"
	"github.com/cliffng14/accountably/internal/handlers"
	"github.com/cliffng14/accountably/internal/httpapi"
	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/messenger"
	"github.com/cliffng14/accountably/internal/repository"
	"github.com/cliffng14/accountably/internal/scheduler"
	"github.com/cliffng14/accountably/internal/service"
	"github.com/cliffng14/accountably/internal/telemetry"
)

const serviceName = "accountably"

var (
	envFile    string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "accountably",
	Short:        "accountably - daily challenges for group goals",
	Long:         `A Telegram group bot that turns shared goals into daily challenges and has members verify each other.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the scheduler and the HTTP endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()
		a.log.Info("✅ Schema is up to date")
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run one batch job now",
	Long:  "Run one batch job now. Jobs: " + fmt.Sprint(jobNames()),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.wire(cmd.Context()); err != nil {
			return err
		}
		job, ok := a.jobs.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown job %q, expected one of %v", args[0], a.jobs.Names())
		}
		if err := job(cmd.Context()); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		a.log.Info("✅ Job finished", "job", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file loaded into the environment")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML/TOML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, runCmd)
}

func jobNames() []string {
	return []string{
		service.JobIssue, service.JobValidate, service.JobExpire, service.JobExpirePrizeFights,
		service.JobRemindMorning, service.JobRemindEvening, service.JobSweepPrompts,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what every command shares.
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	db   *gorm.DB
	repo *repository.Repository

	bot    *tgbotapi.BotAPI
	tg     *messenger.Telegram
	engine *service.Engine
	jobs   *scheduler.Registry

	shutdownTelemetry func(context.Context) error
}

// setup loads config, builds the logger and opens the migrated store.
func setup(ctx context.Context, serving bool) (*app, error) {
	cfg, envLoaded, err := config.Load(envFile, configFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	if !envLoaded {
		log.Warn("Warning: .env file not found, using system environment variables", "path", envFile)
	}
	if err := cfg.Validate(serving); err != nil {
		log.Error("❌ Invalid configuration", "error", err)
		return nil, err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{Enabled: cfg.OTelEnabled, Stdout: cfg.OTelStdout}, serviceName)
	if err != nil {
		return nil, err
	}

	db, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("❌ Database connection error", "error", err)
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("✅ Connected to database", "driver", cfg.DatabaseDriver)

	return &app{
		cfg:               cfg,
		log:               log,
		db:                db,
		repo:              repository.NewRepository(db),
		shutdownTelemetry: shutdown,
	}, nil
}

// wire builds the bot, the engine and the job registry.
func (a *app) wire(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(a.cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("bot initialization: %w", err)
	}
	bot.Debug = false
	a.log.Info("✅ Bot authorized", "username", bot.Self.UserName)
	a.bot = bot
	a.tg = messenger.NewTelegram(bot, a.log)

	gen, err := generator.New(ctx, a.cfg.Generator)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.Meter())
	if err != nil {
		return err
	}

	a.engine = service.NewEngine(a.repo, a.tg, gen, service.Options{
		AdminID:          a.cfg.AdminUserID,
		ChallengeTTL:     a.cfg.ChallengeTTL,
		PromptTTL:        a.cfg.PromptTTL,
		GenerateTimeout:  a.cfg.Generator.Timeout,
		IssueConcurrency: a.cfg.IssueConcurrency,
		IssueAt:          a.cfg.IssueAt.String(),
		ValidateAt:       a.cfg.ValidateAt.String(),
		Timezone:         a.cfg.Timezone.String(),
	}, a.log, metrics)

	a.jobs = scheduler.NewRegistry()
	return a.engine.RegisterJobs(a.jobs)
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := a.shutdownTelemetry(context.Background()); err != nil {
		a.log.Warn("Telemetry shutdown failed", "error", err)
	}
	a.log.Sync()
}

func serve(ctx context.Context) error {
	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.wire(ctx); err != nil {
		return err
	}

	sched := scheduler.New(a.jobs, a.cfg.Timezone, a.log)
	daily := []struct {
		job string
		at  scheduler.At
	}{
		{service.JobIssue, a.cfg.IssueAt},
		{service.JobValidate, a.cfg.ValidateAt},
		{service.JobExpire, a.cfg.ExpireAt},
		{service.JobExpirePrizeFights, a.cfg.ExpireAt},
		{service.JobRemindMorning, a.cfg.MorningAt},
		{service.JobRemindEvening, a.cfg.EveningAt},
		{service.JobSweepPrompts, a.cfg.ExpireAt},
	}
	for _, d := range daily {
		if err := sched.Daily(d.job, d.at); err != nil {
			return err
		}
	}

	handler := handlers.NewBotHandler(a.engine, a.tg, a.log)
	api := httpapi.New(a.jobs, a.cfg.CronKey, a.log)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}
	updates := a.bot.GetUpdatesChan(u)

	g, gctx := errgroup.WithContext(ctx)
	sched.Start(gctx)
	g.Go(func() error {
		sched.Wait()
		return nil
	})
	g.Go(func() error {
		return api.ListenAndServe(gctx, a.cfg.HTTPAddr)
	})
	g.Go(func() error {
		handler.Run(gctx, updates)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.bot.StopReceivingUpdates()
		return nil
	})

	a.log.Info("🚀 Bot is running...", "timezone", a.cfg.Timezone.String())
	err = g.Wait()
	a.log.Info("Bot stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
