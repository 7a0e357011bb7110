package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"omnibot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "omnibot",
		Short: "Omnibot: multi-channel conversational agent platform",
		Long:  "Omnibot runs configurable AI agents across web chat, SMS, WhatsApp, Telegram and voice calls.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.omnibot/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(agentsCmd())
	root.AddCommand(knowledgeCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg, nil
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("omnibot v%s\n\n", version)
			fmt.Printf("Agents dir:    %s (default agent: %s)\n", cfg.General.AgentsDir, cfg.General.DefaultAgent)
			fmt.Printf("Database:      %s\n", cfg.Storage.DBPath)
			fmt.Printf("Web:           enabled=%v %s:%d%s\n", cfg.Channels.Web.Enabled, cfg.Channels.Web.Host, cfg.Channels.Web.Port, cfg.Channels.Web.Path)
			fmt.Printf("SMS:           enabled=%v webhook=%s\n", cfg.Channels.SMS.Enabled, cfg.Channels.SMS.WebhookPath)
			fmt.Printf("WhatsApp:      enabled=%v webhook=%s\n", cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.WebhookPath)
			fmt.Printf("Telegram:      enabled=%v\n", cfg.Channels.Telegram.Enabled)
			fmt.Printf("Voice bridge:  enabled=%v path=%s voice=%s\n", cfg.Realtime.Enabled, cfg.Realtime.StreamPath, cfg.Realtime.Voice)
			return nil
		},
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache := config.NewAgentCache(config.AgentCacheConfig{
				Dir:    cfg.General.AgentsDir,
				Logger: logger,
			})
			ids, err := cache.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("no agents found in", cfg.General.AgentsDir)
				return nil
			}
			for _, id := range ids {
				agent, err := cache.Get(id)
				if err != nil {
					fmt.Printf("  %-20s (invalid: %v)\n", id, err)
					continue
				}
				marker := " "
				if id == cfg.General.DefaultAgent {
					marker = "*"
				}
				fmt.Printf("%s %-20s model=%s channels=%v tools=%d\n",
					marker, id, agent.Model, agent.EnabledChannels, len(agent.Tools))
			}
			return nil
		},
	}
}
