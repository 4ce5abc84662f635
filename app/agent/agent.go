// Package agent assembles grounded prompts for contract analysis and questions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"contractrag/model"
	"contractrag/rag"
	"contractrag/types"
)

type Retriever interface {
	Retrieve(ctx context.Context, q types.RetrievalQuery) ([]types.ScoredChunk, error)
}

// ResultSaver persists finished analyses and returns the stored id.
type ResultSaver interface {
	SaveAnalysis(ctx context.Context, rec types.AnalysisRecord) (string, error)
}

type Config struct {
	TopK                int
	SynopsisTokens      int
	DocumentTokenBudget int
	Temperature         float32
	MaxTokens           int
	RetrievalTimeout    time.Duration
	LLMTimeout          time.Duration
	StoreTimeout        time.Duration
	ChunkOverlap        int
}

func DefaultConfig() Config {
	return Config{
		TopK:                5,
		SynopsisTokens:      256,
		DocumentTokenBudget: 12000,
		Temperature:         0.2,
		MaxTokens:           4000,
		RetrievalTimeout:    10 * time.Second,
		LLMTimeout:          2 * time.Minute,
		StoreTimeout:        5 * time.Second,
		ChunkOverlap:        rag.DefaultChunkOverlap,
	}
}

type Analyzer struct {
	retriever Retriever
	completer model.Completer
	tok       rag.Tokenizer
	saver     ResultSaver
	cfg       Config
	logger    *slog.Logger
}

type Option func(*Analyzer)

func WithConfig(cfg Config) Option {
	return func(a *Analyzer) {
		a.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

func WithResultSaver(s ResultSaver) Option {
	return func(a *Analyzer) {
		a.saver = s
	}
}

func NewAnalyzer(retriever Retriever, completer model.Completer, tok rag.Tokenizer, opts ...Option) *Analyzer {
	a := &Analyzer{
		retriever: retriever,
		completer: completer,
		tok:       tok,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs one contract through retrieval, prompting and validation.
// Retrieval failures only degrade the context; a model timeout or a second
// invalid response fails the analysis.
func (a *Analyzer) Analyze(ctx context.Context, req types.AnalysisRequest) (*types.AnalysisResult, error) {
	res, _, err := a.analyze(ctx, req)
	return res, err
}

func (a *Analyzer) analyze(ctx context.Context, req types.AnalysisRequest) (*types.AnalysisResult, []State, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil, fmt.Errorf("%w: contract text is empty", types.ErrValidation)
	}

	start := time.Now()
	r := newRun()

	var (
		chunks   []types.ScoredChunk
		degraded bool
		prompt   string
		raw      string
		result   *types.AnalysisResult
		lastErr  error
	)

	for !r.state.Terminal() {
		var next State

		switch r.state {
		case StatePending:
			next = StateRetrieving

		case StateRetrieving:
			chunks, degraded, lastErr = a.retrieve(ctx, req)
			next = StatePrompting
			if lastErr != nil {
				next = StateFailed
			}

		case StatePrompting:
			document := truncateMiddle(a.tok, req.Text, a.cfg.DocumentTokenBudget)
			prompt = buildAnalysisPrompt(req, document, chunks)
			raw, lastErr = a.complete(ctx, prompt)
			next = StateValidating
			if lastErr != nil {
				next = StateFailed
			}

		case StateValidating:
			var perr error
			result, perr = parseAnalysis(raw)
			switch {
			case perr == nil:
				next = StateDone
			case !r.retried:
				a.logger.Warn("model response rejected, retrying",
					"filename", req.Filename,
					"error", perr,
				)
				lastErr = perr
				next = StateRetryPrompting
			default:
				lastErr = fmt.Errorf("%w: %w: %v", types.ErrModel, types.ErrSchemaValidation, perr)
				next = StateFailed
			}

		case StateRetryPrompting:
			raw, lastErr = a.complete(ctx, prompt+model.RepairInstruction(raw, lastErr))
			next = StateValidating
			if lastErr != nil {
				next = StateFailed
			}
		}

		if err := r.to(next); err != nil {
			return nil, r.history, err
		}
	}

	if r.state == StateFailed {
		a.logger.Error("contract analysis failed",
			"filename", req.Filename,
			"states", r.history,
			"error", lastErr,
		)
		return nil, r.history, lastErr
	}

	result.DocumentID = uuid.NewString()
	result.Sources = types.SourcesFromChunks(chunks)
	result.ContextDegraded = degraded

	a.logger.Info("contract analyzed",
		"filename", req.Filename,
		"document_id", result.DocumentID,
		"risk_score", result.RiskScore,
		"sources", len(chunks),
		"retried", r.retried,
		"took", time.Since(start),
	)
	return result, r.history, nil
}

// retrieve looks up reference chunks for the contract synopsis. It only
// returns an error when the caller's context is done.
func (a *Analyzer) retrieve(ctx context.Context, req types.AnalysisRequest) ([]types.ScoredChunk, bool, error) {
	q := types.RetrievalQuery{
		Text: synopsis(a.tok, req.Text, a.cfg.SynopsisTokens),
		TopK: a.cfg.TopK,
		Filters: types.Filters{
			ContractType: req.ContractType,
			Jurisdiction: req.Jurisdiction,
		},
	}
	if a.retriever == nil || q.Text == "" {
		return nil, false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout)
	defer cancel()

	chunks, err := a.retriever.Retrieve(rctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		a.logger.Warn("retrieval degraded, analyzing without context",
			"filename", req.Filename,
			"error", fmt.Errorf("%w: %w", types.ErrRetrievalDegraded, err),
		)
		return nil, true, nil
	}
	return chunks, false, nil
}

func (a *Analyzer) complete(ctx context.Context, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	raw, err := a.completer.Complete(cctx, model.CompletionRequest{
		System:      analysisSystemPrompt,
		Prompt:      prompt,
		Schema:      analysisSchema,
		SchemaName:  "contract_analysis",
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", fmt.Errorf("analysis completion: %w", err)
	}
	return raw, nil
}

// Record stores a finished analysis. The result is already computed, so a
// failure here is logged and returned but never discards the analysis.
func (a *Analyzer) Record(ctx context.Context, rec types.AnalysisRecord) error {
	if a.saver == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	if rec.ID == "" {
		rec.ID = rec.Result.DocumentID
	}
	id, err := a.saver.SaveAnalysis(sctx, rec)
	if err != nil {
		if !errors.Is(err, types.ErrPersistence) {
			err = fmt.Errorf("%w: %w", types.ErrPersistence, err)
		}
		a.logger.Error("failed to save analysis",
			"document_id", rec.ID,
			"filename", rec.Filename,
			"error", err,
		)
		return err
	}
	a.logger.Debug("analysis saved", "document_id", id)
	return nil
}
