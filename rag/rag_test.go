package rag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"

	"contractrag/types"
)

const testDim = 32

// bagEmbedder hashes each lower-cased word into one of testDim buckets.
type bagEmbedder struct {
	calls atomic.Int64
	err   error
}

func (e *bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%testDim]++
	}
	return vec, nil
}

// brokenIndex fails every call, like an index behind a dead network.
type brokenIndex struct{}

var errUnreachable = errors.New("dial tcp: connection refused")

func (brokenIndex) Upsert(context.Context, types.VectorRecord) error { return errUnreachable }
func (brokenIndex) Query(context.Context, []float32, int, types.Filters) ([]types.ScoredChunk, error) {
	return nil, errUnreachable
}
func (brokenIndex) Exists(context.Context, string) (bool, error) { return false, errUnreachable }
func (brokenIndex) Dimension() int                               { return testDim }
func (brokenIndex) Stats(context.Context) (types.IndexStats, error) {
	return types.IndexStats{}, errUnreachable
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}
