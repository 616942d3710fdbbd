// Package main is the casefind CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/cli"
	"github.com/hyperjump/casefind/internal/config"
	"github.com/hyperjump/casefind/internal/ingest"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/observability"
	"github.com/hyperjump/casefind/internal/server"
	"github.com/hyperjump/casefind/internal/storage"
	"github.com/hyperjump/casefind/internal/watcher"
	"github.com/hyperjump/casefind/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/casefind/config.yaml"

var (
	configPath   string
	debugFlag    bool
	outputFormat string
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w (create one with \"casefind init --config %s\")", err, path)
		}
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads the config and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, nil
}

func format() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(outputFormat)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "casefind",
		Short:         "Visual and text search over missing-person case records",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(),
		newIngestCmd(),
		newSearchCmd(),
		newRebuildCmd(),
		newStatusCmd(),
		newImportLegacyCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) func() {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}
}

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP search server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()
			defer initTracing(ctx, cfg, logger)()

			components, err := initializeComponents(cfg, logger, componentOptions{image: true, text: true})
			if err != nil {
				return err
			}
			defer components.Close()

			engine := components.Engine
			if cfg.Index.RebuildOnStartOrDefault() {
				if err := engine.Rebuild(ctx); err != nil {
					logger.Warn("Some indexes are not loaded", zap.Error(err))
				}
			}

			if cfg.Index.AutoRebuild {
				dirs := make(map[string]models.Modality, len(models.Modalities))
				for _, m := range models.Modalities {
					dirs[components.Vectors.Dir(m)] = m
				}
				w := watcher.NewWatcher(dirs, func(m models.Modality) {
					_ = engine.RebuildModality(context.Background(), m)
				}, watcher.WithLogger(logger), watcher.WithDebounce(cfg.Index.Debounce()))
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer w.Stop()
			}

			srv := server.NewServer(engine, &cfg.Server, logger)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		records, assets, embed bool
		ids                    []int64
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch new records and images and embed what is missing",
		Long: `Runs the ingestion stages in order: records, assets, embed_records, embed_assets.
With no stage flags every stage runs. Already stored artifacts are skipped, so the
command can be repeated at any time; interrupting it leaves no partial files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := format()
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signalContext()
			defer stop()
			defer initTracing(ctx, cfg, logger)()

			stages := selectStages(records || len(ids) > 0, assets, embed)
			needModels := slices.Contains(stages, ingest.StageEmbedRecords)
			components, err := initializeComponents(cfg, logger, componentOptions{image: needModels, text: needModels})
			if err != nil {
				return err
			}
			defer components.Close()
			p := components.Pipeline

			var reports []*ingest.Report
			if len(ids) > 0 {
				rep, err := p.FetchRecords(ctx, ids)
				if err != nil {
					return err
				}
				reports = append(reports, rep)
				stages = stages[1:]
			}
			var runErr error
			if len(stages) > 0 {
				var more []*ingest.Report
				more, runErr = p.Run(ctx, stages...)
				reports = append(reports, more...)
			}
			if err := cli.WriteReports(cmd.OutOrStdout(), reports, outFmt); err != nil {
				return err
			}
			if errors.Is(runErr, context.Canceled) {
				logger.Info("Ingestion interrupted; rerun to continue")
				return nil
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&records, "records", false, "run the catalog walk for new records")
	cmd.Flags().BoolVar(&assets, "assets", false, "fetch images of stored records")
	cmd.Flags().BoolVar(&embed, "embed", false, "embed stored records and images")
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "fetch these record ids instead of walking the catalog window")
	return cmd
}

// selectStages maps the ingest flags to stage names; no flags selects every stage.
// The records stage is always first when selected.
func selectStages(records, assets, embed bool) []string {
	if !records && !assets && !embed {
		return ingest.Stages
	}
	var stages []string
	if records {
		stages = append(stages, ingest.StageRecords)
	}
	if assets {
		stages = append(stages, ingest.StageAssets)
	}
	if embed {
		stages = append(stages, ingest.StageEmbedRecords, ingest.StageEmbedAssets)
	}
	return stages
}

func newSearchCmd() *cobra.Command {
	var (
		k         int
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query the indexes",
	}
	cmd.PersistentFlags().IntVarP(&k, "k", "k", 0, "number of results (default from config)")
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "query a running server at this URL instead of loading the indexes")

	cmd.AddCommand(&cobra.Command{
		Use:   "text <query...>",
		Short: "Find images matching a description (CLIP text encoder)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, serverURL, func(ctx context.Context, s server.Searcher) (any, error) {
				return s.SearchByText(ctx, buildSearchQuery(args), k)
			}, "text", buildSearchQuery(args), k)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "image <file>",
		Short: "Find records whose images resemble the given image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			return runSearch(cmd, serverURL, func(ctx context.Context, s server.Searcher) (any, error) {
				return s.SearchByImage(ctx, data, k)
			}, "image", args[0], k)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "alt <query...>",
		Short: "Find records whose documents match the query (alternate text model)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, serverURL, func(ctx context.Context, s server.Searcher) (any, error) {
				return s.SearchByTextAlternateModel(ctx, buildSearchQuery(args), k)
			}, "text-alt", buildSearchQuery(args), k)
		},
	})
	return cmd
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// runSearch runs query against a remote server or a locally loaded engine and prints
// the hits. method names the HTTP route; input is the query text or image path.
func runSearch(cmd *cobra.Command, serverURL string, query func(context.Context, server.Searcher) (any, error), method, input string, k int) error {
	outFmt, err := format()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	var searcher server.Searcher
	if serverURL != "" {
		searcher = newHTTPSearcher(serverURL)
	} else {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{
			image: method != "text-alt",
			text:  method == "text-alt",
		})
		if err != nil {
			return err
		}
		defer components.Close()
		modality := models.ModalityImage
		if method == "text-alt" {
			modality = models.ModalityText
		}
		if err := components.Engine.RebuildModality(ctx, modality); err != nil {
			if errors.Is(err, models.ErrEmptyCollection) {
				return fmt.Errorf("no %s vectors stored yet; run \"casefind ingest\" first", modality)
			}
			return err
		}
		searcher = components.Engine
	}

	start := time.Now()
	hits, err := query(ctx, searcher)
	if err != nil {
		return err
	}
	elapsed := time.Since(start).Milliseconds()

	out := cmd.OutOrStdout()
	switch h := hits.(type) {
	case []models.ImageHit:
		return cli.WriteImageHits(out, &models.SearchResponse[models.ImageHit]{
			Query: input, Results: h, Total: len(h), QueryTime: elapsed,
		}, outFmt)
	case []models.RecordHit:
		return cli.WriteRecordHits(out, &models.SearchResponse[models.RecordHit]{
			Query: input, Results: h, Total: len(h), QueryTime: elapsed,
		}, outFmt)
	default:
		return fmt.Errorf("unexpected result type %T", hits)
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Load every stored vector and report the resulting indexes",
		Long: `Builds each modality's index from the embedding store, as the server does at
startup, and reports vector counts and dimensionality. A failure here (for example a
vector of the wrong dimensionality) would keep the server from loading that index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := format()
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx, stop := signalContext()
			defer stop()

			components, err := initializeComponents(cfg, logger, componentOptions{})
			if err != nil {
				return err
			}
			defer components.Close()

			rebuildErr := components.Engine.Rebuild(ctx)
			st := &cli.Status{DataDir: cfg.Storage.DataDir, Indexes: components.Engine.Stats(), GeneratedAt: time.Now()}
			if outFmt == cli.OutputJSON {
				if err := cli.WriteStatus(cmd.OutOrStdout(), st, outFmt); err != nil {
					return err
				}
			} else {
				for _, idx := range st.Indexes {
					if idx.Loaded {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %d vectors, %d dimensions\n", idx.Modality, idx.Vectors, idx.Dimensions)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: not loaded\n", idx.Modality)
					}
				}
			}
			return rebuildErr
		},
	}
}

func newStatusCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored records, images, vectors, disk usage and recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := format()
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			components, err := initializeComponents(cfg, logger, componentOptions{})
			if err != nil {
				return err
			}
			defer components.Close()

			st, err := collectStatus(cmd.Context(), cfg, components, runs)
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), st, outFmt)
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 8, "number of recent ingestion runs to show")
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config, c *Components, runs int) (*cli.Status, error) {
	st := &cli.Status{
		DataDir:     cfg.Storage.DataDir,
		Vectors:     make(map[models.Modality]int, len(models.Modalities)),
		GeneratedAt: time.Now(),
	}
	ids, err := c.Docs.RecordIDs()
	if err != nil {
		return nil, err
	}
	st.Records = len(ids)
	assets, err := c.Docs.Assets()
	if err != nil {
		return nil, err
	}
	st.Assets = len(assets)
	for _, m := range models.Modalities {
		n, err := c.Vectors.Count(m)
		if err != nil {
			return nil, err
		}
		st.Vectors[m] = n
	}
	if st.Catalogued, err = c.Catalog.CountRecords(ctx); err != nil {
		return nil, err
	}
	if st.RecentRuns, err = c.Catalog.RecentRuns(ctx, runs); err != nil {
		return nil, err
	}
	if st.DiskUsage, err = storage.DataDirUsage(cfg.Storage.DataDir, cfg.Storage.CatalogPath); err != nil {
		return nil, err
	}
	return st, nil
}

func newImportLegacyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-legacy <dir> <text|image>",
		Short: "Import JSON-array vector files written by the earlier scraper",
		Long: `Reads {id}.json and {id}_{image}.json files holding one JSON array of floats each
and stores them as vectors of the given modality. Existing vectors are kept.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := models.ParseModality(args[1])
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			vectors, err := storage.NewEmbeddingStore(cfg.Storage.EmbeddingsDir(), storage.WithLogger(logger))
			if err != nil {
				return err
			}
			res, err := storage.ImportLegacy(args[0], m, vectors, storage.WithLogger(logger))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", configPath)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := config.Save(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "casefind version %s\n", version)
		},
	}
}
