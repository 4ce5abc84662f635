package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/model"
	"contractrag/rag"
	"contractrag/types"
)

// scriptedCompleter replays canned answers in order and records every request.
type scriptedCompleter struct {
	mu       sync.Mutex
	answers  []string
	requests []model.CompletionRequest
}

func (c *scriptedCompleter) Complete(_ context.Context, req model.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.answers) == 0 {
		return "", fmt.Errorf("%w: script exhausted", types.ErrModel)
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

// hangingCompleter blocks until its context ends.
type hangingCompleter struct{}

func (hangingCompleter) Complete(ctx context.Context, _ model.CompletionRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// hangingRetriever blocks until its context ends, like a stalled index.
type hangingRetriever struct{}

func (hangingRetriever) Retrieve(ctx context.Context, _ types.RetrievalQuery) ([]types.ScoredChunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingRetriever struct{ err error }

func (r failingRetriever) Retrieve(context.Context, types.RetrievalQuery) ([]types.ScoredChunk, error) {
	return nil, r.err
}

// constEmbedder maps every text onto the same direction, so every stored
// chunk scores 1.0 and ties keep index order.
type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func analysisJSON(score int, missing ...string) string {
	var prot []string
	for _, m := range missing {
		prot = append(prot, fmt.Sprintf(`{"protection_type":%q,"description":"absent","importance":"caps exposure","suggested_clause":"Neither party shall be liable beyond fees paid."}`, m))
	}
	return fmt.Sprintf(`{"risk_score":%d,"summary":"One-sided NDA.","risky_clauses":[{"clause_type":"Term","description":"Perpetual confidentiality","recommendation":"Limit to 3 years","risk_level":"High"}],"missing_protections":[%s],"detailed_analysis":"See clauses."}`,
		score, strings.Join(prot, ","))
}

func seededRetriever(t *testing.T, texts ...string) *rag.Retriever {
	t.Helper()
	idx := rag.NewMemoryIndex(3)
	for i, text := range texts {
		err := idx.Upsert(context.Background(), types.VectorRecord{
			ID:        rag.SourceHash(text),
			Embedding: []float32{1, 0, 0},
			Text:      text,
			Metadata: types.ChunkMetadata{
				DocID:           "guide",
				Position:        i,
				Filename:        "liability-guide.txt",
				ContractType:    "NDA",
				SourceAuthority: "best_practices",
			},
		})
		require.NoError(t, err)
	}
	return rag.NewRetriever(constEmbedder{}, idx)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetrievalTimeout = time.Second
	cfg.LLMTimeout = time.Second
	return cfg
}

func newTestAnalyzer(r Retriever, c model.Completer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	}
	return NewAnalyzer(r, c, rag.WordTokenizer{}, WithConfig(testConfig()), WithLogger(logger))
}

const ndaText = `MUTUAL NON-DISCLOSURE AGREEMENT. The Receiving Party shall hold Confidential Information in strict confidence forever.
The Receiving Party shall indemnify the Disclosing Party for any and all losses without limit.`

func TestAnalyze_NDAWithoutLiabilityCap(t *testing.T) {
	completer := &scriptedCompleter{answers: []string{analysisJSON(7, "Limitation of Liability")}}
	retriever := seededRetriever(t, "A well drafted NDA caps liability at the fees paid in the prior twelve months.")
	a := newTestAnalyzer(retriever, completer, nil)

	res, err := a.Analyze(context.Background(), types.AnalysisRequest{
		Text:         ndaText,
		Filename:     "nda.pdf",
		ContractType: "NDA",
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.RiskScore, 4)
	require.Len(t, res.MissingProtections, 1)
	assert.Equal(t, "Limitation of Liability", res.MissingProtections[0].ProtectionType)
	assert.Equal(t, "high", res.RiskyClauses[0].RiskLevel)
	assert.NotEmpty(t, res.DocumentID)
	assert.False(t, res.ContextDegraded)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "liability-guide.txt", res.Sources[0].Filename)

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Contains(t, req.Prompt, "[Source 1 | liability-guide.txt | best_practices | NDA | unspecified]")
	assert.Contains(t, req.Prompt, "indemnify the Disclosing Party")
	assert.Contains(t, req.Prompt, "CONTRACT TYPE: NDA")
	assert.NotNil(t, req.Schema)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
}

func TestAnalyze_ClampsRiskScore(t *testing.T) {
	tests := []struct {
		raw  int
		want int
	}{
		{15, 10},
		{-2, 0},
		{5, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.raw), func(t *testing.T) {
			completer := &scriptedCompleter{answers: []string{analysisJSON(tt.raw)}}
			a := newTestAnalyzer(nil, completer, nil)

			res, err := a.Analyze(context.Background(), types.AnalysisRequest{Text: ndaText})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.RiskScore)
		})
	}
}

func TestAnalyze_RetriesOnceWithRepairInstruction(t *testing.T) {
	completer := &scriptedCompleter{answers: []string{
		"Sure! Here is my analysis: the contract looks risky.",
		"```json\n" + analysisJSON(6) + "\n```",
	}}
	a := newTestAnalyzer(nil, completer, nil)

	res, states, err := a.analyze(context.Background(), types.AnalysisRequest{Text: ndaText})
	require.NoError(t, err)
	assert.Equal(t, 6, res.RiskScore)

	require.Len(t, completer.requests, 2)
	assert.Contains(t, completer.requests[1].Prompt, "PREVIOUS OUTPUT")
	assert.Contains(t, completer.requests[1].Prompt, "the contract looks risky")
	assert.Equal(t, []State{
		StatePending, StateRetrieving, StatePrompting, StateValidating,
		StateRetryPrompting, StateValidating, StateDone,
	}, states)
}

func TestAnalyze_SecondInvalidResponseFails(t *testing.T) {
	completer := &scriptedCompleter{answers: []string{
		`{"summary":"no score"}`,
		`{"summary":"still no score"}`,
		analysisJSON(3),
	}}
	a := newTestAnalyzer(nil, completer, nil)

	res, states, err := a.analyze(context.Background(), types.AnalysisRequest{Text: ndaText})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, types.ErrModel)
	assert.ErrorIs(t, err, types.ErrSchemaValidation)
	assert.Contains(t, err.Error(), "risk_score")

	require.Len(t, completer.requests, 2, "exactly one repair attempt")
	assert.Contains(t, completer.requests[1].Prompt, "PREVIOUS OUTPUT")
	assert.Contains(t, completer.requests[1].Prompt, `{"summary":"no score"}`)
	assert.Contains(t, completer.requests[1].Prompt, "risk_score")
	assert.Equal(t, []State{
		StatePending, StateRetrieving, StatePrompting, StateValidating,
		StateRetryPrompting, StateValidating, StateFailed,
	}, states)
}

func TestAnalyze_UnreachableIndexDegrades(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	completer := &scriptedCompleter{answers: []string{analysisJSON(5)}}
	retriever := failingRetriever{err: fmt.Errorf("%w: dial tcp: connection refused", types.ErrIndexUnavailable)}
	a := newTestAnalyzer(retriever, completer, logger)

	res, err := a.Analyze(context.Background(), types.AnalysisRequest{Text: ndaText, Filename: "nda.pdf"})
	require.NoError(t, err)
	assert.True(t, res.ContextDegraded)
	assert.Empty(t, res.Sources)
	assert.NotContains(t, completer.requests[0].Prompt, "[Source 1")
	assert.Contains(t, logs.String(), "retrieval degraded")
	assert.Contains(t, logs.String(), "connection refused")
}

func TestAnalyze_RetrievalTimeoutDegrades(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	cfg := testConfig()
	cfg.RetrievalTimeout = 20 * time.Millisecond
	completer := &scriptedCompleter{answers: []string{analysisJSON(4)}}
	a := NewAnalyzer(hangingRetriever{}, completer, rag.WordTokenizer{}, WithConfig(cfg), WithLogger(logger))

	start := time.Now()
	res, states, err := a.analyze(context.Background(), types.AnalysisRequest{Text: ndaText, ContractType: "NDA"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 4, res.RiskScore)
	assert.True(t, res.ContextDegraded)
	assert.Empty(t, res.Sources)
	require.Len(t, completer.requests, 1)
	assert.NotContains(t, completer.requests[0].Prompt, "[Source 1")
	assert.Contains(t, logs.String(), "retrieval degraded")
	assert.Contains(t, logs.String(), "deadline exceeded")
	assert.Equal(t, StateDone, states[len(states)-1])
}

func TestAnalyze_LLMTimeoutIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.LLMTimeout = 20 * time.Millisecond
	a := NewAnalyzer(nil, hangingCompleter{}, rag.WordTokenizer{}, WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	_, err := a.Analyze(context.Background(), types.AnalysisRequest{Text: ndaText})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestAnalyze_CanceledDuringRetrievalFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	completer := &scriptedCompleter{answers: []string{analysisJSON(5)}}
	a := newTestAnalyzer(failingRetriever{err: context.Canceled}, completer, nil)

	_, err := a.Analyze(ctx, types.AnalysisRequest{Text: ndaText})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, completer.requests)
}

func TestAnalyze_EmptyText(t *testing.T) {
	a := newTestAnalyzer(nil, &scriptedCompleter{}, nil)
	_, err := a.Analyze(context.Background(), types.AnalysisRequest{Text: "  \n"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestAnalyze_TruncatesLongDocuments(t *testing.T) {
	cfg := testConfig()
	cfg.DocumentTokenBudget = 10
	completer := &scriptedCompleter{answers: []string{analysisJSON(2)}}
	a := NewAnalyzer(nil, completer, rag.WordTokenizer{}, WithConfig(cfg),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	var words []string
	for i := range 30 {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	_, err := a.Analyze(context.Background(), types.AnalysisRequest{Text: strings.Join(words, " ")})
	require.NoError(t, err)

	prompt := completer.requests[0].Prompt
	assert.Contains(t, prompt, "w0 w1 w2 w3 w4")
	assert.Contains(t, prompt, "[... 20 tokens omitted ...]")
	assert.Contains(t, prompt, "w25 w26 w27 w28 w29")
	assert.NotContains(t, prompt, "w12 ")
}

type memSaver struct {
	recs []types.AnalysisRecord
	err  error
}

func (s *memSaver) SaveAnalysis(_ context.Context, rec types.AnalysisRecord) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.recs = append(s.recs, rec)
	return rec.ID, nil
}

func TestRecord(t *testing.T) {
	saver := &memSaver{}
	a := NewAnalyzer(nil, &scriptedCompleter{}, rag.WordTokenizer{}, WithResultSaver(saver),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	res := types.AnalysisResult{DocumentID: "c4d6b8a2-0f0e-4a43-9a2e-8b6f3d6f0c11", RiskScore: 4}
	require.NoError(t, a.Record(context.Background(), types.AnalysisRecord{Filename: "nda.pdf", Result: res}))
	require.Len(t, saver.recs, 1)
	assert.Equal(t, res.DocumentID, saver.recs[0].ID)

	saver.err = errors.New("connection reset")
	err := a.Record(context.Background(), types.AnalysisRecord{Result: res})
	assert.ErrorIs(t, err, types.ErrPersistence)
}

func TestRecord_WithoutSaver(t *testing.T) {
	a := newTestAnalyzer(nil, &scriptedCompleter{}, nil)
	assert.NoError(t, a.Record(context.Background(), types.AnalysisRecord{}))
}
