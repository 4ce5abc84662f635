package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"contractrag/extract"
	"contractrag/rag"
	"contractrag/types"
)

// DocumentSaver records ingested source documents.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, doc types.Document) error
}

// ContractHandler feeds uploaded contracts into the vector index so later
// analyses can retrieve them.
type ContractHandler struct {
	ingestor  *rag.Ingestor
	extractor extract.Extractor
	documents DocumentSaver
	maxBytes  int64
	logger    *slog.Logger
}

func NewContractHandler(ingestor *rag.Ingestor, extractor extract.Extractor, documents DocumentSaver, maxBytes int64, logger *slog.Logger) *ContractHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContractHandler{
		ingestor:  ingestor,
		extractor: extractor,
		documents: documents,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

func (h *ContractHandler) HandleUpload(c *fiber.Ctx) error {
	up, err := readUpload(c, h.maxBytes)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	text, err := h.extractor.ExtractText(ctx, up.Data, up.Kind)
	if err != nil {
		return err
	}

	docID := types.DocumentID(up.Filename, up.Hash)
	now := time.Now().UTC()
	meta := types.ChunkMetadata{
		DocID:           docID.String(),
		Filename:        up.Filename,
		ContractType:    types.OrUnspecified(up.Form.ContractType),
		Jurisdiction:    types.OrUnspecified(up.Form.Jurisdiction),
		UploadDate:      now,
		UploadedBy:      up.Form.Email,
		SourceAuthority: types.AuthorityUserUpload,
	}

	if h.documents != nil {
		err := h.documents.SaveDocument(ctx, types.Document{
			ID:              docID,
			Title:           up.Filename,
			Source:          "upload",
			SourcePath:      up.Filename,
			ContractType:    meta.ContractType,
			Jurisdiction:    meta.Jurisdiction,
			SourceAuthority: meta.SourceAuthority,
			CreatedAt:       now,
		})
		if err != nil {
			h.logger.Warn("failed to save document", "doc_id", meta.DocID, "error", err)
		}
	}

	report, err := h.ingestor.Ingest(ctx, text, meta)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(report)
}
