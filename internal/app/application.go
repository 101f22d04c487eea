package app

import (
	"context"
	"flag"
	"time"

	"talkops/internal/app/di"
	"talkops/internal/config"
	"talkops/internal/core"
	"talkops/internal/logger"
)

type Application struct {
	Logger logger.Logger
	cfg    *config.Config
	bot    *core.Bot
	di     *di.Container
	ctx    context.Context
	cancel context.CancelFunc
}

func New() (*Application, error) {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.Load()
	if err != nil {
		cancel()
		return nil, err
	}

	container, err := di.NewContainer(cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	container.Logger.Info("DI Container created")

	botInstance := core.NewBot(
		container.BotClient,
		cfg,
		container.Orchestrator,
		container.Confirmations,
		container.Store,
		container.DB,
		container.Localizer,
		container.Logger,
	)
	container.Logger.Info("Bot instance created")

	if err := cfg.Watch(func() {
		container.Logger.Info("Config reloaded")
	}); err != nil {
		container.Logger.WithError(err).Warn("Config watch unavailable")
	}

	return &Application{
		cfg:    cfg,
		bot:    botInstance,
		di:     container,
		Logger: container.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (a *Application) Start() error {
	a.Logger.Info("Starting application")
	a.startTurnCleaner()

	if a.di.HTTPServer != nil {
		go func() {
			if err := a.di.HTTPServer.Start(a.ctx); err != nil {
				a.Logger.WithError(err).Error("HTTP API stopped")
			}
		}()
	}
	if a.di.MQTTClient != nil {
		if err := a.di.MQTTClient.Start(a.ctx); err != nil {
			a.Logger.WithError(err).Error("MQTT transport failed to start")
		}
	}

	return a.bot.Start(a.ctx)
}

func (a *Application) WaitForShutdown() {
	<-a.ctx.Done()
	a.Logger.Info("Application stopped")
}

func (a *Application) startTurnCleaner() {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if err := a.di.DB.PurgeOldTurns(a.cfg.Global().TurnRetentionDays); err != nil {
					a.Logger.WithError(err).Error("Failed to purge old turns")
				}
			}
		}
	}()
}
