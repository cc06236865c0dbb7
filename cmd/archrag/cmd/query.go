package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archrag/archrag/internal/config"
	"github.com/archrag/archrag/internal/engine"
	"github.com/archrag/archrag/internal/query"
)

func newQueryCmd() *cobra.Command {
	var (
		topK       int
		noCache    bool
		embedder   string
		webSearch  bool
		webMode    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a single question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := engine.Open(cfg, logger())
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			req := &query.Request{
				Query:           strings.Join(args, " "),
				TopK:            topK,
				EmbedderType:    embedder,
				EnableWebSearch: webSearch,
				WebMode:         config.WebMode(webMode),
			}
			if noCache {
				useCache := false
				req.UseCache = &useCache
			}

			result, err := eng.Coordinator.Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of sources to retrieve (default from config)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the semantic answer cache")
	cmd.Flags().StringVar(&embedder, "embedder", "", "Premium embedder to use for this query")
	cmd.Flags().BoolVar(&webSearch, "web", false, "Allow the live web tier")
	cmd.Flags().StringVar(&webMode, "web-mode", "", "Web trigger policy: off, parallel, on_low_confidence")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the full response as JSON")

	return cmd
}

func printResult(cmd *cobra.Command, result *query.AnswerResult) {
	out := cmd.OutOrStdout()
	if result.Answer == "" {
		fmt.Fprintln(out, "No answer could be generated; sources follow.")
	} else {
		fmt.Fprintln(out, result.Answer)
	}
	if result.CacheHit {
		fmt.Fprintln(out, "\n(answer served from cache)")
	}
	if len(result.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, src := range result.Sources {
		loc := src.SourcePath
		if src.URL != "" {
			loc = src.URL
		}
		fmt.Fprintf(out, "  %d. [%s] %s (score %.3f)\n", i+1, src.SourceType, loc, src.Score)
	}
}
