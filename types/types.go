package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AuthorityUserUpload = "user_upload"
	Unspecified         = "unspecified"
)

// ChunkMetadata travels with a chunk into the vector index and back out on retrieval.
type ChunkMetadata struct {
	DocID           string    `json:"doc_id"`
	Position        int       `json:"chunk_index"`
	Filename        string    `json:"filename"`
	ContractType    string    `json:"contract_type"`
	Jurisdiction    string    `json:"jurisdiction"`
	UploadDate      time.Time `json:"upload_date"`
	UploadedBy      string    `json:"uploaded_by"`
	SourceAuthority string    `json:"source_authority"`

	// OverlapBytes is the length of the text prefix shared with the chunk at
	// Position-1.
	OverlapBytes int `json:"overlap_bytes,omitempty"`
}

// Chunk is a bounded segment of source text. SourceHash is its identity.
type Chunk struct {
	Text       string        `json:"text"`
	TokenCount int           `json:"token_count"`
	SourceHash string        `json:"source_hash"`
	Metadata   ChunkMetadata `json:"metadata"`
}

// VectorRecord is what the index stores. ID is the chunk SourceHash.
type VectorRecord struct {
	ID         string
	Embedding  []float32
	Text       string
	TokenCount int
	Metadata   ChunkMetadata
}

func (r VectorRecord) Chunk() Chunk {
	return Chunk{
		Text:       r.Text,
		TokenCount: r.TokenCount,
		SourceHash: r.ID,
		Metadata:   r.Metadata,
	}
}

// ScoredChunk is a retrieved chunk with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

type Filters struct {
	ContractType string `json:"contract_type,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// Match compares case-insensitively. Chunks stored without a contract type
// or jurisdiction (empty or "unspecified") apply to every request.
func (f Filters) Match(m ChunkMetadata) bool {
	return matchField(f.ContractType, m.ContractType) && matchField(f.Jurisdiction, m.Jurisdiction)
}

func matchField(want, stored string) bool {
	if want == "" || stored == "" || strings.EqualFold(stored, Unspecified) {
		return true
	}
	return strings.EqualFold(want, stored)
}

type RetrievalQuery struct {
	Text    string
	TopK    int
	Filters Filters
}

type IndexStats struct {
	Backend   string `json:"backend"`
	Vectors   int64  `json:"total_vectors"`
	Documents int64  `json:"documents"`
	Dimension int    `json:"dimension"`
}

type IngestReport struct {
	DocID         string `json:"doc_id"`
	Filename      string `json:"filename"`
	ChunksTotal   int    `json:"chunks_total"`
	ChunksCreated int    `json:"chunks_created"`
	ChunksSkipped int    `json:"chunks_skipped"`
	TotalTokens   int    `json:"total_tokens"`
}

type Document struct {
	ID              uuid.UUID
	Title           string
	Source          string
	SourcePath      string
	ContractType    string
	Jurisdiction    string
	SourceAuthority string
	CreatedAt       time.Time
}

// Config drives the folder loader.
type Config struct {
	MonitoringTime  time.Duration
	SourceDir       string
	ArchiveDir      string
	BadDir          string
	SourceAuthority string
	ContractType    string
	Jurisdiction    string
}

// DocumentID derives a stable document id from a name and its content hash,
// so re-uploading the same file maps onto the same document.
func DocumentID(name, contentHash string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name+"#"+contentHash))
}

func OrUnspecified(s string) string {
	if s == "" {
		return Unspecified
	}
	return s
}
