package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"omnibot/internal/conversation"
	"omnibot/internal/retrieval"
)

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage agent knowledge sources",
	}
	cmd.AddCommand(knowledgeAddCmd())
	return cmd
}

func knowledgeAddCmd() *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "add <source-id> <file>...",
		Short: "Chunk and index documents under a knowledge source",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := conversation.NewSQLiteStore(cfg.Storage.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			knowledge, err := retrieval.NewSQLiteStore(retrieval.StoreConfig{DB: store.DB(), Logger: logger})
			if err != nil {
				return err
			}

			sourceID := args[0]
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				chunks, err := knowledge.AddDocument(context.Background(), sourceID, name, contentType, string(data))
				if err != nil {
					return fmt.Errorf("index %s: %w", path, err)
				}
				fmt.Printf("indexed %s into %s (%d chunks)\n", path, sourceID, chunks)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&contentType, "type", "t", "text", "content type tag for the indexed documents")
	return cmd
}
