package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/ingest"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
)

var (
	importFile      string
	importLocations string
	importGazetteer string
	importCharset   string
	importDelimiter string
	importSheet     string
	importAggregate bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a crime export (CSV or XLSX, local, zipped or by URL) into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts, err := importCSVOptions()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		workDir, err := os.MkdirTemp("", "crimesafe-import-*")
		if err != nil {
			return eris.Wrap(err, "create work dir")
		}
		defer os.RemoveAll(workDir) //nolint:errcheck

		fetcher := ingest.NewFetcher(ingest.FetchOptions{Retry: resilience.FromConfig(cfg.Retry)})
		path, err := fetcher.Resolve(ctx, importFile, workDir)
		if err != nil {
			return eris.Wrap(err, "resolve crime export")
		}

		batch, err := readCrimeExport(ctx, path, opts)
		if err != nil {
			return err
		}

		if importLocations != "" {
			overlay, err := readLocationsFile(ctx, importLocations, opts)
			if err != nil {
				return err
			}
			batch.Locations = ingest.MergeLocations(batch.Locations, overlay)
		}

		inserted, err := storeBatch(ctx, env.Store, batch)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("rows", batch.Rows),
			zap.Int("skipped", batch.Skipped),
			zap.Int("locations", len(batch.Locations)),
			zap.Int64("records", inserted),
		)

		if importAggregate {
			n, err := rebuildAggregates(ctx, env.Store)
			if err != nil {
				return err
			}
			zap.L().Info("aggregate complete", zap.Int64("aggregates", n))
		}
		return nil
	},
}

func importCSVOptions() (ingest.CSVOptions, error) {
	opts := ingest.CSVOptions{Charset: importCharset, LazyQuotes: true}
	if importDelimiter != "" {
		r, size := utf8.DecodeRuneInString(importDelimiter)
		if size != len(importDelimiter) {
			return opts, eris.Errorf("--delimiter must be a single character, got %q", importDelimiter)
		}
		opts.Delimiter = r
	}
	return opts, nil
}

// readCrimeExport picks the parser from the file extension.
func readCrimeExport(ctx context.Context, path string, opts ingest.CSVOptions) (*ingest.Batch, error) {
	g := ingest.DefaultGazetteer()
	if importGazetteer != "" {
		loaded, err := ingest.LoadGazetteer(importGazetteer)
		if err != nil {
			return nil, eris.Wrap(err, "load gazetteer")
		}
		g = loaded
	}
	reader := ingest.NewReader(g)

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		batch, err := reader.ReadCrimesXLSX(ctx, path, ingest.XLSXOptions{SheetName: importSheet})
		return batch, eris.Wrapf(err, "read %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open crime export")
	}
	defer f.Close() //nolint:errcheck

	batch, err := reader.ReadCrimesCSV(ctx, f, opts)
	return batch, eris.Wrapf(err, "read %s", path)
}

func readLocationsFile(ctx context.Context, path string, opts ingest.CSVOptions) ([]model.LocationStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open locations file")
	}
	defer f.Close() //nolint:errcheck

	locs, err := ingest.ReadLocationsCSV(ctx, f, opts)
	return locs, eris.Wrapf(err, "read %s", path)
}

// storeBatch writes locations before records so every record has a parent,
// then recounts location totals.
func storeBatch(ctx context.Context, st store.Store, batch *ingest.Batch) (int64, error) {
	retry := resilience.FromConfig(cfg.Retry)

	if _, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		return st.UpsertLocations(ctx, batch.Locations)
	}); err != nil {
		return 0, eris.Wrap(err, "upsert locations")
	}

	inserted, err := st.InsertCrimeRecords(ctx, batch.Records)
	if err != nil {
		return 0, eris.Wrap(err, "insert crime records")
	}

	if err := resilience.Do(ctx, retry, st.RefreshLocationTotals); err != nil {
		return inserted, eris.Wrap(err, "refresh location totals")
	}
	return inserted, nil
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "crime export path or http(s) URL: .csv, .xlsx or a .zip holding one (required)")
	importCmd.Flags().StringVar(&importLocations, "locations", "", "optional locations reference CSV overlaid on derived locations")
	importCmd.Flags().StringVar(&importGazetteer, "gazetteer", "", "optional YAML file of city coordinates")
	importCmd.Flags().StringVar(&importCharset, "charset", "", "source encoding of CSV input, e.g. windows-1252 (default UTF-8)")
	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", "CSV field delimiter (default ',')")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().BoolVar(&importAggregate, "aggregate", false, "rebuild monthly aggregates after importing")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
