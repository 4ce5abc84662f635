package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"contractrag/config"
	"contractrag/extract"
	"contractrag/loader/service"
	"contractrag/model"
	"contractrag/rag"
	"contractrag/store"
	"contractrag/types"
)

func init() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal("Error loading .env file: ", err)
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loader",
		Short:        "Feed authoritative legal texts into the contract knowledge base",
		SilenceUsage: true,
	}
	root.AddCommand(watchCmd(), ingestCmd(), statsCmd())
	return root
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch LOADER_SOURCE_DIR and ingest files once they settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, backend, closeFn, err := build(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			slog.Info("loader started", "index", backend.Name)
			svc.Run(ctx)
			return nil
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest the given files once and print a report per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, closeFn, err := build(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			var failed int
			for _, path := range args {
				report, err := svc.IngestFile(ctx, path)
				if err != nil {
					failed++
					slog.Error("ingest failed", "path", path, "error", err)
					continue
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print vector index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend, err := store.Open(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer backend.Close()

			stats, err := backend.Index.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}

// build wires the ingestion pipeline from config. The returned func releases
// the index and model clients.
func build(ctx context.Context) (*service.Service, *store.Backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := slog.Default()

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	provider, err := model.NewProvider(ctx, cfg)
	if err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		provider.Close()
		backend.Close()
	}

	tok, err := rag.NewTokenizer(cfg.Tokenizer)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	chunker, err := rag.NewChunker(tok, rag.ChunkerConfig{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}

	var embedder rag.Embedder = provider.Embedder
	if cfg.EmbedCacheSize > 0 {
		cache, err := rag.NewEmbeddingCache(cfg.EmbedCacheSize)
		if err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		embedder = rag.NewCachedEmbedder(embedder, cache)
	}

	var extractor extract.Extractor = extract.NewLocal()
	if cfg.DoclingURL != "" {
		extractor = extract.NewChain(logger,
			extract.NewDocling(cfg.DoclingURL, cfg.DoclingCropTop, cfg.DoclingCropBottom),
			extract.NewLocal(),
		)
	}

	ingestor := rag.NewIngestor(chunker, rag.NewDeduplicator(backend.Index), embedder, backend.Index, logger)
	svc, err := service.New(types.Config{
		MonitoringTime:  cfg.LoaderMonitoringTime,
		SourceDir:       cfg.LoaderSourceDir,
		ArchiveDir:      cfg.LoaderArchiveDir,
		BadDir:          cfg.LoaderBadDir,
		SourceAuthority: cfg.LoaderSourceAuthority,
		ContractType:    cfg.LoaderContractType,
		Jurisdiction:    cfg.LoaderJurisdiction,
	}, ingestor, extractor, backend.Documents, logger)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return svc, backend, closeFn, nil
}
