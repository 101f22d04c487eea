package di

import (
	"net/http"
	"time"

	"talkops/internal/ai"
	"talkops/internal/chat"
	"talkops/internal/config"
	"talkops/internal/database"
	"talkops/internal/logger"
	"talkops/internal/service"
	"talkops/internal/telegram"
	"talkops/internal/thread"
	"talkops/internal/tools"
	"talkops/internal/transport/httpapi"
	"talkops/internal/transport/mqttapi"
)

type Container struct {
	Logger        logger.Logger
	Cfg           *config.Config
	DB            database.Database
	HttpClient    *http.Client
	Localizer     *service.Localizer
	Provider      ai.Provider
	Store         *thread.Store
	History       *thread.History
	Registry      *tools.Registry
	Confirmations *chat.Confirmations
	Engine        *chat.Engine
	Orchestrator  *chat.Orchestrator
	BotClient     *telegram.Client
	HTTPServer    *httpapi.Server
	MQTTClient    *mqttapi.Client
}

func NewContainer(cfg *config.Config) (*Container, error) {
	logCfg := cfg.Log()
	l := logger.NewLogrusLogger(logger.Options{
		Level:       logCfg.Level(),
		WriteInFile: logCfg.WriteInFile,
		FilePath:    logCfg.FilePath,
	})

	aiCfg := cfg.AI()
	if aiCfg.BaseURL == "" {
		l.Fatal("ai.base_url is required")
	}

	db, err := database.NewSQLiteDB(cfg, l)
	if err != nil {
		return nil, err
	}

	localizer, err := service.NewLocalizer(cfg.Global().InterfaceLanguage)
	if err != nil {
		l.WithError(err).Fatal("Error create localizer")
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}

	provider := ai.NewOpenAICompatibleClient(
		"openai",
		aiCfg.BaseURL,
		aiCfg.ChatURL,
		aiCfg.APIKey,
		aiCfg.DefaultModel,
		l,
		httpClient,
	)

	store := thread.NewStore(l)
	history := thread.NewHistory(aiCfg.HistoryLimit, l)

	registry := tools.NewRegistry(l,
		tools.NewFetchURLTool(httpClient, l),
		tools.NewWeatherTool(httpClient, l),
		tools.NewSettingsTool(cfg, l),
		tools.NewRememberTool(l),
	)

	confirmations := chat.NewConfirmations(aiCfg.ConfirmationTTL, l)
	engine := chat.NewEngine(registry, confirmations, l)
	orchestrator := chat.NewOrchestrator(provider, store, history, registry, engine, cfg, db, l)

	botClient, err := telegram.NewClient(cfg.Telegram().Token, l)
	if err != nil {
		return nil, err
	}
	l.Info("Bot API initialized")

	container := &Container{
		Logger:        l,
		Cfg:           cfg,
		DB:            db,
		HttpClient:    httpClient,
		Localizer:     localizer,
		Provider:      provider,
		Store:         store,
		History:       history,
		Registry:      registry,
		Confirmations: confirmations,
		Engine:        engine,
		Orchestrator:  orchestrator,
		BotClient:     botClient,
	}

	if cfg.HTTPAPI().Enabled {
		container.HTTPServer = httpapi.NewServer(cfg, orchestrator, l)
	}
	if cfg.MQTT().Enabled {
		container.MQTTClient = mqttapi.NewClient(cfg, orchestrator, l)
	}

	return container, nil
}
