package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"autoreply/internal/config"
	"autoreply/internal/domain"
	"autoreply/internal/pipeline"
	"autoreply/internal/server"
	"autoreply/internal/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and admin HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		msgr := newMessenger(appCfg.Messenger)
		if !msgr.CanSend() {
			logger.Warn("page access token not set, replies will be drafted but not sent")
		}
		srv, err := server.New(server.Config{
			Addr:         appCfg.Server.Addr,
			Mode:         appCfg.Server.Mode,
			AppSecret:    config.Secret(appCfg.Messenger.AppSecretEnv),
			ReplyTimeout: 2 * time.Duration(appCfg.Generation.TimeoutSecs) * time.Second,
		}, server.Dependencies{
			Pipeline:  a.pipeline,
			Ingest:    a.ingest,
			Messenger: msgr,
			Metrics:   a.metrics,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest PATH...",
	Short: "Index .txt and .md files into the knowledge base",
	Long: `Index text files into the knowledge base. Arguments may be glob
patterns. Each file is chunked and stored under its base name as title.
With --title, the files are instead read from stdin as one document.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if ingestTitle != "" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			res, err := a.ingest.IngestText(ctx, ingestTitle, string(data), nil)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		}
		if len(args) == 0 {
			return fmt.Errorf("at least one path is required")
		}
		results, err := a.ingest.IngestPaths(ctx, args)
		if err != nil {
			return err
		}
		paths := make([]string, 0, len(results))
		for p := range results {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		out := cmd.OutOrStdout()
		for _, p := range paths {
			fmt.Fprintf(out, "%s: %d chunk(s)\n", p, len(results[p].IDs))
			if results[p].Summary != "" {
				fmt.Fprintf(out, "  %s\n", results[p].Summary)
			}
		}
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Show the knowledge snippets closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.store.Search(ctx, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "no results")
		}
		for i, r := range results {
			fmt.Fprintf(out, "%d. %s score=%.4f title=%v\n   %s\n", i+1, r.ID, r.Score, r.Metadata["title"], snippet(r.Text, 160))
		}
		return nil
	},
}

var draftCmd = &cobra.Command{
	Use:   "draft TEXT",
	Short: "Draft a reply without touching conversation state",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		draft, err := a.pipeline.DraftReply(ctx, strings.Join(args, " "), pipeline.NoConversation)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), draft)
	},
}

var consoleSender string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the pipeline as a simulated customer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		m := tui.New(ctx, consolePort{a.pipeline}, consoleSender, appCfg.Drafting.MaxContextSnippets)
		_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
		return err
	},
}

// consolePort exposes pipeline handling plus raw retrieval to the console.
type consolePort struct {
	*pipeline.Pipeline
}

func (p consolePort) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	return p.Store().Search(ctx, query, limit)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "read one document from stdin under this title")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	consoleCmd.Flags().StringVar(&consoleSender, "sender", "console", "sender id to chat as")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
