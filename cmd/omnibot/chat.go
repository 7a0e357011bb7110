package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"omnibot/internal/domain"
)

func chatCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to an agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(agentID)
		},
	}
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id (default: the configured default agent)")
	return cmd
}

func runChat(agentID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if agentID == "" {
		agentID = cfg.General.DefaultAgent
	}
	if agentID == "" {
		return fmt.Errorf("no agent specified and no default agent configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.store.Close()

	sessionID := "cli-" + uuid.NewString()[:8]
	chctx := &domain.ChannelContext{
		Channel:      domain.ChannelWeb,
		SessionID:    sessionID,
		UserID:       "cli",
		AgentID:      agentID,
		ThreadID:     string(domain.ChannelWeb) + ":" + sessionID,
		Capabilities: domain.CapabilitiesFor(domain.ChannelWeb),
		Metadata:     map[string]any{"transport": "cli"},
		OnToken:      func(token string) { fmt.Print(token) },
	}

	fmt.Printf("Chatting with %s. Ctrl-D or /quit to exit.\n\n", agentID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		msg := &domain.AgentMessage{
			ID:        uuid.NewString(),
			Role:      domain.RoleUser,
			Type:      domain.TypeText,
			Content:   line,
			Timestamp: time.Now(),
		}
		if _, err := st.runtime.ProcessMessage(ctx, msg, chctx); err != nil {
			logger.Debug("turn error", "err", err)
		}
		fmt.Print("\n\n")

		if ctx.Err() != nil {
			break
		}
	}

	st.runtime.EndConversation(context.Background(), chctx.SessionKey())
	fmt.Println("bye")
	return nil
}
