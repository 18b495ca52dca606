package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/memo/internal/config"
	"github.com/liliang-cn/memo/internal/output"
	"github.com/liliang-cn/memo/internal/provider"
	"github.com/liliang-cn/memo/internal/retrieval"
	"github.com/liliang-cn/memo/internal/store"
)

var (
	configPath string
	jsonOutput bool
	cfg        *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "memo",
	Short: "A personal semantic memory store",
	Long:  "memo embeds notes into a local vector index and retrieves them by natural-language query.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the memory database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := store.Open(ctx, cfg.DatabasePath, cfg.EmbeddingDimension)
		if err != nil {
			return fmt.Errorf("initialize store: %w", err)
		}
		defer s.Close()
		fmt.Printf("memory database initialized at %s with %d dimensions\n", cfg.DatabasePath, cfg.EmbeddingDimension)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Embed a note as a new memory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var text string
		if len(args) > 0 {
			text = args[0]
		}
		filePath, _ := cmd.Flags().GetString("file")
		tagsFlag, _ := cmd.Flags().GetString("tags")
		force, _ := cmd.Flags().GetBool("force")

		if filePath != "" {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			text = string(data)
		}
		if text == "" {
			return fmt.Errorf("provide the text to embed or --file")
		}

		var tags []string
		if tagsFlag != "" {
			tags = strings.Split(tagsFlag, ",")
		}

		ctx := context.Background()
		s, embed, err := openStoreAndEmbedder(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		vector, err := embed.Encode(ctx, text)
		if err != nil {
			return fmt.Errorf("embed text: %w", err)
		}

		if !force {
			threshold := cfg.DuplicateThreshold
			similar, err := s.SearchByVector(ctx, vector, 5, threshold, nil)
			if err != nil {
				return fmt.Errorf("duplicate check: %w", err)
			}
			if len(similar) > 0 {
				slog.Warn("similar memories found, skipping add; use --force to add anyway",
					slog.Int("count", len(similar)))
				fmt.Printf("found %d similar memories (threshold %.2f); use --force to add anyway\n", len(similar), threshold)
				return nil
			}
		}

		m := &retrieval.Memory{ID: uuid.NewString(), Content: text, Tags: tags, Vector: vector}
		if filePath != "" {
			m.SourceFile = filePath
		}
		if err := s.Insert(ctx, m); err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		fmt.Printf("embedded memory %s\n", m.ID)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories with the full retrieval pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, embed, err := openStoreAndEmbedder(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		rerank := provider.NewRerankClient(cfg.Rerank.Resolved())
		chat := provider.NewChatClient(cfg.Chat.Resolved())

		pipeline := retrieval.NewPipeline(s, embed, rerank, chat, cfg.Retrieval)
		result, err := pipeline.Query(ctx, args[0], nil)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if jsonOutput {
			return output.WriteJSON(os.Stdout, result)
		}
		output.WriteHuman(os.Stdout, result)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()
		s, err := store.Open(ctx, cfg.DatabasePath, cfg.EmbeddingDimension)
		if err != nil {
			return err
		}
		defer s.Close()

		memories, err := s.List(ctx, limit)
		if err != nil {
			return err
		}
		for _, m := range memories {
			fmt.Printf("%s  %s  %v\n", m.ID, firstLine(m.Content), m.Tags)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := store.Open(ctx, cfg.DatabasePath, cfg.EmbeddingDimension)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := store.Open(ctx, cfg.DatabasePath, cfg.EmbeddingDimension)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("cleared all memories")
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id> <text>",
	Short: "Replace a memory's content and re-embed it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, embed, err := openStoreAndEmbedder(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		existing, err := s.FindByID(ctx, args[0])
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("memory not found: %s", args[0])
		}

		vector, err := embed.Encode(ctx, args[1])
		if err != nil {
			return err
		}
		existing.Content = args[1]
		existing.Vector = vector
		return s.Update(ctx, existing)
	},
}

func openStoreAndEmbedder(ctx context.Context) (*store.SQLiteStore, *provider.EmbedClient, error) {
	s, err := store.Open(ctx, cfg.DatabasePath, cfg.EmbeddingDimension)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	embed := provider.NewEmbedClient(cfg.Embed.Resolved(), cfg.EmbeddingDimension)
	return s, embed, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	addCmd.Flags().String("file", "", "Embed the contents of this file instead of the argument")
	addCmd.Flags().String("tags", "", "Comma-separated tags")
	addCmd.Flags().Bool("force", false, "Skip duplicate detection")

	listCmd.Flags().Int("limit", 50, "Maximum memories to list")

	rootCmd.AddCommand(initCmd, addCmd, searchCmd, listCmd, updateCmd, deleteCmd, clearCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
