package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archrag/archrag/internal/embed"
	"github.com/archrag/archrag/internal/engine"
	"github.com/archrag/archrag/internal/ingest"
	"github.com/archrag/archrag/internal/ragerr"
)

const (
	// minCalibrationSamples is the floor below which the fitted matrix
	// would be badly underdetermined.
	minCalibrationSamples = 32

	// embedBatchSize bounds per-request batch size against provider limits.
	embedBatchSize = 64
)

func newCalibrateCmd() *cobra.Command {
	var maxSamples int

	cmd := &cobra.Command{
		Use:   "calibrate <embedder> <corpus-dir>",
		Short: "Fit a calibration matrix for a premium embedder",
		Long: `Embeds a sample of corpus chunks with both the named premium embedder
and the local embedder, fits the projection between the two spaces, and
writes the matrix to the embedder's configured path. Run this once per
premium embedder before serving queries with it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name, corpusDir := args[0], args[1]
			pc, ok := cfg.Embedders.Premium[name]
			if !ok {
				return ragerr.Newf(ragerr.ErrCodeConfigInvalid, "premium embedder %q is not configured", name)
			}

			texts, err := sampleCorpus(corpusDir, maxSamples)
			if err != nil {
				return err
			}
			if len(texts) < minCalibrationSamples {
				return ragerr.Newf(ragerr.ErrCodeBadOption,
					"corpus yielded %d chunks, calibration needs at least %d", len(texts), minCalibrationSamples)
			}

			premium, err := engine.NewPremiumEmbedder(pc)
			if err != nil {
				return err
			}
			local := embed.NewLocalEmbedder()

			ctx := cmd.Context()
			logger().Info("embedding calibration sample",
				slog.String("embedder", name),
				slog.Int("samples", len(texts)))
			premiumVecs, err := embedInBatches(ctx, premium, texts)
			if err != nil {
				return fmt.Errorf("premium embedding: %w", err)
			}
			localVecs, err := embedInBatches(ctx, local, texts)
			if err != nil {
				return fmt.Errorf("local embedding: %w", err)
			}

			matrix, err := embed.FitMatrix(name, premiumVecs, localVecs)
			if err != nil {
				return err
			}
			path := pc.MatrixPath
			if path == "" {
				path = filepath.Join(cfg.Paths.DataDir, embed.MatrixFileName(name))
			}
			if err := matrix.Save(path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Calibrated %s on %d samples (%dx%d), wrote %s\n",
				name, len(texts), premium.Dimensions(), local.Dimensions(), path)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxSamples, "max-samples", 512, "Maximum number of corpus chunks to sample")

	return cmd
}

// sampleCorpus chunks every markdown file under dir and returns up to
// maxSamples chunk texts, in walk order.
func sampleCorpus(dir string, maxSamples int) ([]string, error) {
	chunker := ingest.NewChunker(0)
	var texts []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, piece := range chunker.Chunk(string(data)) {
			texts = append(texts, piece.Text)
			if len(texts) >= maxSamples {
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return texts, nil
}

func embedInBatches(ctx context.Context, e embed.Embedder, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}
