package main

import (
	"context"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"telegram-mention-tracker/internal/config"
	"telegram-mention-tracker/internal/handlers"
	"telegram-mention-tracker/internal/logger"
	"telegram-mention-tracker/internal/messages"
	"telegram-mention-tracker/internal/scheduler"
	"telegram-mention-tracker/internal/storage"
	"telegram-mention-tracker/internal/telegram"
	"telegram-mention-tracker/internal/tracker"
	"telegram-mention-tracker/internal/utils"
)

func main() {
	cfg, cfgErr := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	utils.Must(log, cfgErr, "load config")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := telegram.NewBotAPI(cfg.TelegramToken, cfg.RequestTimeout)
	utils.Must(log, err, "connect to telegram")
	log.Info("authorized", zap.String("bot", bot.Self.UserName))

	store, err := storage.Open(cfg.StorageDriver, cfg.StoragePath(), log)
	utils.Must(log, err, "open storage")
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close storage", zap.Error(err))
		}
	}()

	clock := clockwork.NewRealClock()
	eng, err := tracker.New(store, cfg.DefaultTZ,
		tracker.WithLogger(log), tracker.WithClock(clock), tracker.WithSelfID(bot.Self.ID))
	utils.Must(log, err, "create tracker")
	utils.Must(log, eng.Load(ctx), "load state")

	// flush what we have before a crash takes the process down
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic, checkpointing state", zap.Any("panic", r))
			if err := eng.Checkpoint(context.Background()); err != nil {
				log.Error("checkpoint", zap.Error(err))
			}
			panic(r)
		}
	}()

	cat, err := messages.Load(cfg.DefaultLang)
	utils.Must(log, err, "load phrases")

	client := telegram.New(bot, log, telegram.Options{RatePerSec: cfg.SendRate, Retries: cfg.SendRetries, Clock: clock})
	h := handlers.New(client, eng, cat, log, handlers.Options{
		Commands:    cfg.Commands,
		MentionAll:  cfg.MentionAll,
		BotID:       bot.Self.ID,
		BotUsername: bot.Self.UserName,
	})

	jobs, err := scheduler.Start(ctx, clock, log, scheduler.JobsConfig{
		RosterRefresh:   cfg.RosterRefresh,
		CheckpointEvery: cfg.CompactEvery,
	}, h, eng)
	utils.Must(log, err, "start jobs")
	go scheduler.NewClock(clock, log, h.Deliver).Run(ctx)

	u := tgbotapi.NewUpdate(0)
	// the long poll has to end before the HTTP client gives up
	u.Timeout = int(cfg.RequestTimeout.Seconds()) / 2
	u.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}
	updates := bot.GetUpdatesChan(u)

	log.Info("bot started")
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			h.HandleUpdate(ctx, upd)
		}
	}

	log.Info("shutting down")
	bot.StopReceivingUpdates()
	if err := jobs.Shutdown(); err != nil {
		log.Error("stop jobs", zap.Error(err))
	}
	if err := eng.Checkpoint(context.Background()); err != nil {
		log.Error("checkpoint", zap.Error(err))
	}
}
