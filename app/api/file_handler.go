package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"contractrag/app/agent"
	"contractrag/extract"
	"contractrag/notify"
	"contractrag/store"
	"contractrag/types"
)

// upload is a validated multipart contract upload.
type upload struct {
	Filename string
	Kind     extract.FileKind
	Data     []byte
	Hash     string
	Form     types.UploadForm
}

// readUpload validates the multipart request before anything external is
// called: extension, size and the optional form fields.
func readUpload(c *fiber.Ctx, maxBytes int64) (*upload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, ErrMissingFile()
	}

	kind, err := extract.KindFromFilename(fileHeader.Filename)
	if err != nil {
		return nil, NewError(fiber.StatusBadRequest,
			fmt.Sprintf("unsupported file type, allowed: %s", strings.Join(extract.AllowedExtensions(), ", ")))
	}
	if fileHeader.Size <= 0 {
		return nil, NewError(fiber.StatusBadRequest, "uploaded file is empty")
	}
	if fileHeader.Size > maxBytes {
		return nil, NewError(fiber.StatusBadRequest,
			fmt.Sprintf("file too large, maximum is %d MB", maxBytes/(1024*1024)))
	}

	var form types.UploadForm
	if err := c.BodyParser(&form); err != nil {
		return nil, ErrBadRequest()
	}
	form.Email = strings.TrimSpace(form.Email)
	form.ContractType = strings.TrimSpace(form.ContractType)
	form.Jurisdiction = strings.TrimSpace(form.Jurisdiction)
	if fieldErrs := types.Validate(&form); len(fieldErrs) > 0 {
		verr := types.NewValidationError(fieldErrs)
		verr.Status = fiber.StatusBadRequest
		return nil, verr
	}

	data, err := readAll(fileHeader)
	if err != nil {
		return nil, err
	}

	return &upload{
		Filename: fileHeader.Filename,
		Kind:     kind,
		Data:     data,
		Hash:     contentHash(data),
		Form:     form,
	}, nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// AnalysisRecords loads and removes stored analyses by id.
type AnalysisRecords interface {
	GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error)
	DeleteAnalysis(ctx context.Context, id string) error
}

type AnalyzeHandler struct {
	analyzer  *agent.Analyzer
	extractor extract.Extractor
	archive   store.FileArchive
	analyses  AnalysisRecords
	notifier  notify.Notifier
	opts      UploadOptions
	logger    *slog.Logger
}

type UploadOptions struct {
	MaxBytes      int64
	BaseURL       string
	NotifyTimeout time.Duration
}

func NewAnalyzeHandler(
	analyzer *agent.Analyzer,
	extractor extract.Extractor,
	archive store.FileArchive,
	analyses AnalysisRecords,
	notifier notify.Notifier,
	opts UploadOptions,
	logger *slog.Logger,
) *AnalyzeHandler {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeHandler{
		analyzer:  analyzer,
		extractor: extractor,
		archive:   archive,
		analyses:  analyses,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	up, err := readUpload(c, h.opts.MaxBytes)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	text, err := h.extractor.ExtractText(ctx, up.Data, up.Kind)
	if err != nil {
		h.notifyError(up, err)
		return err
	}

	result, err := h.analyzer.Analyze(ctx, types.AnalysisRequest{
		Text:         text,
		Filename:     up.Filename,
		ContractType: up.Form.ContractType,
		Jurisdiction: up.Form.Jurisdiction,
	})
	if err != nil {
		h.notifyError(up, err)
		return err
	}

	archivePath := h.archiveUpload(ctx, result.DocumentID, up)

	// Persistence failures leave the computed result intact.
	err = h.analyzer.Record(ctx, types.AnalysisRecord{
		ID:           result.DocumentID,
		Filename:     up.Filename,
		Email:        up.Form.Email,
		ContractType: up.Form.ContractType,
		Jurisdiction: up.Form.Jurisdiction,
		ArchivePath:  archivePath,
		Result:       *result,
	})
	if err != nil && archivePath != "" {
		h.removeArchived(ctx, archivePath)
	}

	if up.Form.Email != "" {
		notify.Dispatch(h.notifier,
			notify.AnalysisComplete(h.opts.BaseURL, up.Form.Email, up.Filename, result),
			h.opts.NotifyTimeout, h.logger)
	}

	return c.JSON(result)
}

func (h *AnalyzeHandler) HandleGetAnalysis(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"id":            rec.ID,
		"filename":      rec.Filename,
		"contract_type": types.OrUnspecified(rec.ContractType),
		"jurisdiction":  types.OrUnspecified(rec.Jurisdiction),
		"created_at":    rec.CreatedAt,
		"has_file":      rec.ArchivePath != "" && h.archive != nil,
		"analysis":      rec.Result,
	})
}

// HandleDownload streams the archived original of an analyzed contract.
func (h *AnalyzeHandler) HandleDownload(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if err != nil {
		return err
	}
	if rec.ArchivePath == "" || h.archive == nil {
		return ErrNotFound(rec.ID, "archived file")
	}

	rc, err := h.archive.Download(c.UserContext(), rec.ArchivePath)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(rec.ID, "archived file")
		}
		return err
	}
	defer rc.Close()

	// Read before returning: the body may be bound to the request context,
	// which ends with the handler. Archived files are capped at upload size.
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read archived file: %w", err)
	}
	c.Attachment(rec.Filename)
	return c.Send(data)
}

// HandleDeleteAnalysis removes a stored analysis together with its
// archived original.
func (h *AnalyzeHandler) HandleDeleteAnalysis(c *fiber.Ctx) error {
	rec, err := h.lookup(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	if err := h.analyses.DeleteAnalysis(ctx, rec.ID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(rec.ID, "analysis")
		}
		return err
	}
	if rec.ArchivePath != "" {
		h.removeArchived(ctx, rec.ArchivePath)
	}
	h.logger.Info("analysis deleted", "document_id", rec.ID, "filename", rec.Filename)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AnalyzeHandler) lookup(c *fiber.Ctx) (*types.AnalysisRecord, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrInvalidID()
	}
	if h.analyses == nil {
		return nil, ErrNotFound(id, "analysis")
	}

	rec, err := h.analyses.GetAnalysis(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrNotFound(id, "analysis")
		}
		return nil, err
	}
	return rec, nil
}

// archiveUpload keeps the original file under the analysis id and returns
// its archive path, or "" when nothing was stored.
func (h *AnalyzeHandler) archiveUpload(ctx context.Context, analysisID string, up *upload) string {
	if h.archive == nil {
		return ""
	}
	fileID, err := uuid.Parse(analysisID)
	if err != nil {
		fileID = types.DocumentID(up.Filename, up.Hash)
	}
	path, err := h.archive.Upload(ctx, fileID, up.Filename, bytes.NewReader(up.Data))
	if err != nil {
		h.logger.Warn("failed to archive upload", "filename", up.Filename, "error", err)
		return ""
	}
	h.logger.Debug("upload archived", "filename", up.Filename, "path", path)
	return path
}

func (h *AnalyzeHandler) removeArchived(ctx context.Context, path string) {
	if h.archive == nil {
		return
	}
	if err := h.archive.Delete(ctx, path); err != nil {
		h.logger.Warn("failed to remove archived file", "path", path, "error", err)
	}
}

func (h *AnalyzeHandler) notifyError(up *upload, err error) {
	if up.Form.Email == "" {
		return
	}
	_, detail := classify(err)
	notify.Dispatch(h.notifier,
		notify.AnalysisError(h.opts.BaseURL, up.Form.Email, up.Filename, detail),
		h.opts.NotifyTimeout, h.logger)
}
