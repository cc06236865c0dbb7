package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archrag/archrag/internal/engine"
	"github.com/archrag/archrag/internal/store"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <dir>",
		Short: "Ingest a directory of curated markdown documents",
		Long: `Walks the directory, chunks every markdown file along its heading
structure, and commits the chunks to the vector and text indexes.
Documents whose content is unchanged since the last run are skipped.`,
		Args: cobra.ExactArgs(1),
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

			n, err := eng.Ingestor.IngestDirectory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := eng.SaveIndexes(); err != nil {
				return err
			}

			counts, err := eng.Catalog.CountByTier(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents (%d curated chunks, %d web-kb chunks)\n",
				n, counts[store.TierCurated], counts[store.TierWebKB])
			return nil
		},
	}
}
