package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"contractrag/app/agent"
	"contractrag/app/api"
	"contractrag/app/middleware"
	"contractrag/config"
	"contractrag/extract"
	"contractrag/model"
	"contractrag/notify"
	"contractrag/rag"
	"contractrag/store"
)

// Deps are the collaborators the HTTP routes are built from.
type Deps struct {
	Analyzer  *agent.Analyzer
	Ingestor  *rag.Ingestor
	Extractor extract.Extractor
	Index     rag.VectorIndex
	Analyses  store.AnalysisStore
	Documents store.DocumentStore
	Archive   store.FileArchive
	Notifier  notify.Notifier
	Status    api.StatusInfo
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	// mu guards everything below; Run and Stop come from different goroutines.
	mu      sync.Mutex
	stopped bool
	app     *fiber.App
	ln      net.Listener
	closers []func() error
}

func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// Stop shuts the listener down and releases what Run built. It is safe to
// call before, during or after Run, and more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true

	if s.app != nil {
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			s.logger.Error("error to shutdown server", "error", err)
		}
	}
	// Shutdown only closes listeners fiber is already serving on.
	if s.ln != nil {
		s.ln.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("error to release resource", "error", err)
		}
	}
	s.closers = nil
	s.logger.Info("server stopped")
}

// Run builds every collaborator from config and serves until Stop is called.
func (s *Server) Run(ctx context.Context) error {
	app, ln, err := s.start(ctx)
	if err != nil || app == nil {
		return err
	}
	if err := app.Listener(ln); err != nil && !s.isStopped() {
		return fmt.Errorf("error to start server: %w", err)
	}
	return nil
}

// start builds the app and binds its listener under the lock, so a
// concurrent Stop either prevents the start or sees both.
func (s *Server) start(ctx context.Context) (*fiber.App, net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil, nil
	}

	deps, err := s.build(ctx)
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", s.cfg.ServerAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("error to start server: %w", err)
	}
	s.app = NewApp(s.cfg, deps, s.logger)
	s.ln = ln

	s.logger.Info("starting server",
		"addr", ln.Addr().String(),
		"provider", deps.Status.Provider,
		"index", s.cfg.IndexBackend,
	)
	return s.app, s.ln, nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Addr is the bound listen address, or nil before Run has started serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) build(ctx context.Context) (Deps, error) {
	cfg := s.cfg

	backend, err := store.Open(ctx, cfg, s.logger)
	if err != nil {
		return Deps{}, err
	}
	s.closers = append(s.closers, backend.Close)

	provider, err := model.NewProvider(ctx, cfg)
	if err != nil {
		return Deps{}, fmt.Errorf("init model provider: %w", err)
	}
	s.closers = append(s.closers, provider.Close)

	tok, err := rag.NewTokenizer(cfg.Tokenizer)
	if err != nil {
		return Deps{}, err
	}

	var embedder rag.Embedder = provider.Embedder
	if cfg.EmbedCacheSize > 0 {
		cache, err := rag.NewEmbeddingCache(cfg.EmbedCacheSize)
		if err != nil {
			return Deps{}, err
		}
		embedder = rag.NewCachedEmbedder(embedder, cache)
	}

	chunker, err := rag.NewChunker(tok, rag.ChunkerConfig{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	if err != nil {
		return Deps{}, err
	}
	ingestor := rag.NewIngestor(chunker, rag.NewDeduplicator(backend.Index), embedder, backend.Index, s.logger)
	retriever := rag.NewRetriever(embedder, backend.Index,
		rag.WithDefaultTopK(cfg.TopK),
		rag.WithRetrieverLogger(s.logger),
	)

	opts := []agent.Option{
		agent.WithConfig(AnalyzerConfig(cfg)),
		agent.WithLogger(s.logger),
	}
	if backend.Analyses != nil {
		opts = append(opts, agent.WithResultSaver(backend.Analyses))
	}
	analyzer := agent.NewAnalyzer(retriever, provider.Completer, tok, opts...)

	archive, err := store.NewArchive(ctx, store.ArchiveConfig{
		Type:         store.ArchiveType(cfg.StorageType),
		LocalPath:    cfg.StorageLocalPath,
		S3Bucket:     cfg.S3Bucket,
		S3Region:     cfg.S3Region,
		AWSAccessKey: cfg.AWSAccessKey,
		AWSSecretKey: cfg.AWSSecretKey,
	})
	if err != nil {
		return Deps{}, fmt.Errorf("init file archive: %w", err)
	}

	chatModel := cfg.ChatModel
	if cfg.LLMProvider == config.ProviderOllama {
		chatModel = cfg.OllamaModel
	}

	return Deps{
		Analyzer:  analyzer,
		Ingestor:  ingestor,
		Extractor: NewExtractor(cfg, s.logger),
		Index:     backend.Index,
		Analyses:  backend.Analyses,
		Documents: backend.Documents,
		Archive:   archive,
		Notifier:  notify.New(cfg.WebhookURL, cfg.NotifyTimeout),
		Status: api.StatusInfo{
			Provider:       provider.Name,
			ChatModel:      chatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Tokenizer:      cfg.Tokenizer,
			ChunkSize:      cfg.ChunkSize,
			ChunkOverlap:   cfg.ChunkOverlap,
			TopK:           cfg.TopK,
		},
	}, nil
}

// NewExtractor prefers a configured Docling service and falls back to the
// in-process extractor.
func NewExtractor(cfg *config.Config, logger *slog.Logger) extract.Extractor {
	if cfg.DoclingURL == "" {
		return extract.NewLocal()
	}
	return extract.NewChain(logger,
		extract.NewDocling(cfg.DoclingURL, cfg.DoclingCropTop, cfg.DoclingCropBottom),
		extract.NewLocal(),
	)
}

func AnalyzerConfig(cfg *config.Config) agent.Config {
	ac := agent.DefaultConfig()
	ac.TopK = cfg.TopK
	ac.SynopsisTokens = cfg.SynopsisTokens
	ac.DocumentTokenBudget = cfg.DocumentTokenBudget
	ac.Temperature = float32(cfg.Temperature)
	ac.RetrievalTimeout = cfg.RetrievalTimeout
	ac.LLMTimeout = cfg.LLMTimeout
	ac.StoreTimeout = cfg.StoreTimeout
	ac.ChunkOverlap = cfg.ChunkOverlap
	return ac
}

// NewApp registers middleware and routes on a fresh fiber app.
func NewApp(cfg *config.Config, d Deps, log *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
		BodyLimit:    int(cfg.MaxUploadBytes()) + 1024*1024,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())
	app.Use(compress.New())

	uploads := api.UploadOptions{
		MaxBytes:      cfg.MaxUploadBytes(),
		BaseURL:       cfg.BaseURL,
		NotifyTimeout: cfg.NotifyTimeout,
	}

	var (
		checkHandler    = api.NewCheckHandler(d.Index)
		statusHandler   = api.NewStatusHandler(d.Index, d.Status)
		requestHandler  = api.NewRequestHandler(d.Analyzer)
		contractHandler = api.NewContractHandler(d.Ingestor, d.Extractor, d.Documents, uploads.MaxBytes, log)
		analyzeHandler  = api.NewAnalyzeHandler(d.Analyzer, d.Extractor, d.Archive, d.Analyses, d.Notifier, uploads, log)
		check           = app.Group("/check")
		apiv1           = app.Group("/api/v1", middleware.Timeout(cfg.RequestTimeout))
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	check.Get("/ready", checkHandler.HandleReady)

	apiv1.Post("/analyze", analyzeHandler.HandleAnalyze)
	apiv1.Get("/analyses/:id", analyzeHandler.HandleGetAnalysis)
	apiv1.Get("/analyses/:id/file", analyzeHandler.HandleDownload)
	apiv1.Delete("/analyses/:id", analyzeHandler.HandleDeleteAnalysis)
	apiv1.Post("/contracts", contractHandler.HandleUpload)
	apiv1.Post("/ask", requestHandler.HandleRequest)
	apiv1.Get("/rag/status", statusHandler.HandleStatus)

	return app
}
