package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reward-bot/internal/bot"
	"reward-bot/internal/config"
	"reward-bot/internal/logger"
	"reward-bot/internal/lookup"
	"reward-bot/internal/repository"
	"reward-bot/internal/service"
	"reward-bot/internal/webhook"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run:   runServe,
	}
	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Named("serve")

	store := repository.OpenOrUnavailable(ctx, storeOptions())
	defer store.Close()

	client := lookup.NewClient(cfg.LookupURL, cfg.LookupTimeout)
	warnStartup(log, cfg)

	var current atomic.Pointer[bot.Bot]
	factory := func(ctx context.Context) (webhook.Dispatcher, error) {
		api, err := bot.NewAPI(cfg.TelegramToken)
		if err != nil {
			return nil, err
		}
		b := bot.New(api, store, client, &cfg, logger.Named("bot"))
		current.Store(b)
		log.Info("authorized", zap.String("username", api.Self.UserName))

		if cfg.WebhookURL != "" {
			if err := setWebhook(api, cfg.WebhookURL, cfg.WebhookSecret, false); err != nil {
				log.Error("set webhook", zap.Error(err))
			} else {
				log.Info("webhook registered", zap.String("url", cfg.WebhookURL))
			}
		}
		return b, nil
	}

	scheduler := service.NewSchedulerService(time.Local, logger.Named("scheduler"))
	if cfg.HousekeepingInterval > 0 {
		if _, err := scheduler.ScheduleInterval("housekeeping", cfg.HousekeepingInterval, func() {
			if b := current.Load(); b != nil {
				b.Housekeeping()
			}
		}); err != nil {
			exitErr("schedule housekeeping", err)
		}
	}
	if cfg.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily("digest", cfg.DigestTime, func() {
			b := current.Load()
			if b == nil {
				return
			}
			jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := b.SendDigest(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("digest", zap.Error(err))
			}
		}); err != nil {
			exitErr("schedule digest", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := webhook.New(webhook.Options{
		Path:    cfg.WebhookPath,
		Secret:  cfg.WebhookSecret,
		Factory: factory,
		Logger:  logger.Named("webhook"),
	})
	if err := srv.Init(ctx); err != nil {
		log.Error("bot init failed; webhook will answer 503 until it succeeds", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr())
	}()

	log.Info("reward bot started", zap.String("addr", cfg.Addr()))
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// warnStartup logs settings that leave the server running but degraded.
func warnStartup(log *zap.Logger, c config.Config) {
	if c.LookupURL == "" {
		log.Warn("SHEET_API_URL is not set; lookups will fail")
	}
	if c.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET is not set; webhook requests are not authenticated",
			zap.String("path", c.WebhookPath))
	}
}
