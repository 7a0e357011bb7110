package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"omnibot/internal/agent"
	"omnibot/internal/analytics"
	"omnibot/internal/channel"
	"omnibot/internal/config"
	"omnibot/internal/conversation"
	"omnibot/internal/provider"
	"omnibot/internal/realtime"
	"omnibot/internal/retrieval"
	"omnibot/internal/tool"
)

// stack bundles the wired core components shared by serve and chat.
type stack struct {
	cfg     *config.Config
	agents  *config.AgentCache
	store   *conversation.SQLiteStore
	manager *conversation.Manager
	tools   *tool.Registry
	runtime *agent.Runtime
}

func buildStack(cfg *config.Config) (*stack, error) {
	store, err := conversation.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, err
	}

	manager := conversation.NewManager(conversation.ManagerConfig{
		Store:        store,
		HistoryLimit: cfg.General.HistoryLimit,
		Logger:       logger,
	})

	agents := config.NewAgentCache(config.AgentCacheConfig{
		Dir:    cfg.General.AgentsDir,
		TTL:    time.Duration(cfg.General.AgentCacheTTL) * time.Second,
		Logger: logger,
	})

	registry := tool.NewRegistry(tool.RegistryConfig{Logger: logger})
	registerTools(registry)

	knowledgeStore, err := retrieval.NewSQLiteStore(retrieval.StoreConfig{DB: store.DB(), Logger: logger})
	if err != nil {
		return nil, err
	}
	engine := retrieval.NewEngine(retrieval.EngineConfig{
		Store:             knowledgeStore,
		MatchThreshold:    cfg.Retrieval.MatchThreshold,
		FallbackThreshold: cfg.Retrieval.FallbackThreshold,
		MatchCount:        cfg.Retrieval.MatchCount,
		Logger:            logger,
	})

	metrics := analytics.NewService(analytics.ServiceConfig{Sink: store, Logger: logger})

	runtime := agent.NewRuntime(agent.RuntimeConfig{
		Agents:        agents,
		Providers:     provider.NewFactory(cfg, logger),
		Conversations: manager,
		Tools:         registry,
		Retrieval:     engine,
		Analytics:     metrics,
		Logger:        logger,
		MaxIterations: cfg.General.MaxIterations,
		RateBurst:     cfg.General.RateBurst,
		RatePerMinute: cfg.General.RatePerMinute,
	})

	return &stack{
		cfg:     cfg,
		agents:  agents,
		store:   store,
		manager: manager,
		tools:   registry,
		runtime: runtime,
	}, nil
}

// registerTools wires the built-in tool set. Calendar tools share one
// in-process store; agents parameterize hours via their own config.
func registerTools(registry *tool.Registry) {
	registry.Register(tool.NewDatetimeTool())
	registry.Register(tool.NewCalculatorTool())
	registry.Register(tool.NewWebSearchTool())
	registry.Register(tool.NewWeatherTool())
	registry.Register(tool.NewFlightLookupTool(tool.FlightLookupConfig{
		APIKey: os.Getenv("AVIATIONSTACK_API_KEY"),
	}))
	for _, t := range tool.NewCalendarTools(nil, tool.NewMemoryCalendarStore()) {
		registry.Register(t)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the channel server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.store.Close()

	server := channel.NewServer(channel.ServerConfig{
		Channels:     cfg.Channels,
		Runtime:      st.runtime,
		DefaultAgent: cfg.General.DefaultAgent,
		Logger:       logger,
	})

	if cfg.Channels.Web.Enabled {
		web := channel.NewWebAdapter(channel.WebAdapterConfig{Path: cfg.Channels.Web.Path, Logger: logger})
		if err := server.Register(web); err != nil {
			return err
		}
	}
	if cfg.Channels.SMS.Enabled {
		sms := channel.NewSMSAdapter(channel.SMSAdapterConfig{Config: cfg.Channels.SMS, Logger: logger})
		if err := server.Register(sms); err != nil {
			return err
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsAppAdapter(channel.WhatsAppAdapterConfig{Config: cfg.Channels.WhatsApp, Logger: logger})
		if err := server.Register(wa); err != nil {
			return err
		}
	}
	if cfg.Channels.Telegram.Enabled {
		tg := channel.NewTelegramAdapter(channel.TelegramAdapterConfig{Token: cfg.Channels.Telegram.Token, Logger: logger})
		if err := server.Register(tg); err != nil {
			return err
		}
	}
	if cfg.Realtime.Enabled {
		voice := realtime.NewService(realtime.ServiceConfig{
			Realtime:      cfg.Realtime,
			Agents:        st.agents,
			DefaultAgent:  cfg.General.DefaultAgent,
			Tools:         st.tools,
			Conversations: st.manager,
			Logger:        logger,
		})
		server.Handle(cfg.Realtime.StreamPath, voice.Handler())
		logger.Info("voice bridge mounted", "path", cfg.Realtime.StreamPath)
	}

	return server.Start(ctx)
}
