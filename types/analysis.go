package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	MinRiskScore = 0
	MaxRiskScore = 10
)

type RiskyClause struct {
	ClauseType     string `json:"clause_type"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	RiskLevel      string `json:"risk_level,omitempty"`
}

type MissingProtection struct {
	ProtectionType  string `json:"protection_type"`
	Description     string `json:"description"`
	Importance      string `json:"importance"`
	SuggestedClause string `json:"suggested_clause,omitempty"`
}

// DetailedAnalysis is free text. Models sometimes answer with an object keyed by
// topic instead of a string; both forms decode, the object is flattened in key order.
type DetailedAnalysis string

func (d *DetailedAnalysis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = DetailedAnalysis(s)
		return nil
	case '{':
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sb strings.Builder
		for i, k := range keys {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s: %v", k, m[k])
		}
		*d = DetailedAnalysis(sb.String())
		return nil
	}
	return fmt.Errorf("detailed_analysis must be a string or an object")
}

type Source struct {
	DocID           string  `json:"doc_id"`
	Filename        string  `json:"filename"`
	SourceAuthority string  `json:"source_authority"`
	ChunkText       string  `json:"chunk_text"`
	Index           int     `json:"index"`
	Score           float64 `json:"score"`
}

type AnalysisResult struct {
	RiskScore          int                 `json:"risk_score"`
	Summary            string              `json:"summary"`
	RiskyClauses       []RiskyClause       `json:"risky_clauses"`
	MissingProtections []MissingProtection `json:"missing_protections"`
	DetailedAnalysis   DetailedAnalysis    `json:"detailed_analysis"`
	DocumentID         string              `json:"document_id"`
	Sources            []Source            `json:"sources"`
	ContextDegraded    bool                `json:"context_degraded"`
}

type AnalysisRequest struct {
	Text         string
	Filename     string
	ContractType string
	Jurisdiction string
}

// AnalysisRecord is what the document store persists per analysis.
type AnalysisRecord struct {
	ID           string
	Filename     string
	Email        string
	ContractType string
	Jurisdiction string

	// ArchivePath locates the original upload in the file archive; empty
	// when archiving is off or failed.
	ArchivePath string
	Result      AnalysisResult
	CreatedAt   time.Time
}

// ClampRiskScore forces a score into [MinRiskScore, MaxRiskScore].
func ClampRiskScore(score int) int {
	return min(max(score, MinRiskScore), MaxRiskScore)
}

func SourcesFromChunks(chunks []ScoredChunk) []Source {
	sources := make([]Source, len(chunks))
	for i, sc := range chunks {
		sources[i] = Source{
			DocID:           sc.Chunk.Metadata.DocID,
			Filename:        sc.Chunk.Metadata.Filename,
			SourceAuthority: sc.Chunk.Metadata.SourceAuthority,
			ChunkText:       sc.Chunk.Text,
			Index:           sc.Chunk.Metadata.Position,
			Score:           sc.Score,
		}
	}
	return sources
}
