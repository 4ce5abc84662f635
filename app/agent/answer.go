package agent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"contractrag/model"
	"contractrag/rag"
	"contractrag/types"
)

const noInformation = "No information for this request."

// Ask answers a free-form question from the indexed reference material.
// Retrieved chunks of the same document are put back in order and their
// overlaps removed before they reach the prompt.
func (a *Analyzer) Ask(ctx context.Context, params types.AskParams) (*types.SearchResponse, error) {
	question := strings.TrimSpace(params.Prompt)
	if question == "" {
		return nil, fmt.Errorf("%w: prompt is empty", types.ErrValidation)
	}
	topK := params.TopK
	if topK <= 0 {
		topK = a.cfg.TopK
	}

	resp := &types.SearchResponse{Timestamp: time.Now()}

	var chunks []types.ScoredChunk
	if a.retriever != nil {
		rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout)
		found, err := a.retriever.Retrieve(rctx, types.RetrievalQuery{
			Text:    question,
			TopK:    topK,
			Filters: types.Filters{ContractType: params.ContractType, Jurisdiction: params.Jurisdiction},
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("retrieval degraded, answering without context",
				"error", fmt.Errorf("%w: %w", types.ErrRetrievalDegraded, err),
			)
			resp.Degraded = true
		}
		chunks = found
	}

	if len(chunks) == 0 {
		resp.Answer = noInformation
		resp.Sources = []types.Source{}
		return resp, nil
	}

	resp.Confidence = chunks[0].Score
	resp.Sources = types.SourcesFromChunks(chunks)

	cctx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()

	answer, err := a.completer.Complete(cctx, model.CompletionRequest{
		System:      askSystemPrompt,
		Prompt:      buildAskPrompt(question, a.buildContext(chunks), params),
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("ask completion: %w", err)
	}
	resp.Answer = strings.TrimSpace(answer)
	return resp, nil
}

// buildContext groups chunks by document in order of each document's best
// score, then joins every group's chunks in position order.
func (a *Analyzer) buildContext(chunks []types.ScoredChunk) string {
	var order []string
	grouped := make(map[string][]types.Chunk)
	for _, sc := range chunks {
		id := sc.Chunk.Metadata.DocID
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], sc.Chunk)
	}

	var sb strings.Builder
	for n, id := range order {
		group := grouped[id]
		slices.SortStableFunc(group, func(x, y types.Chunk) int {
			return cmp.Compare(x.Metadata.Position, y.Metadata.Position)
		})
		group = rag.Dedupe(a.tok, group, a.cfg.ChunkOverlap)

		sb.WriteString(sourceTag(n+1, group[0].Metadata))
		sb.WriteString("\n")
		sb.WriteString(rag.JoinChunks(a.tok, group))
		sb.WriteString("\n\n")
	}
	return sb.String()
}
