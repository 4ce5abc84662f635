// Package extract turns uploaded contract files into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"contractrag/types"
)

type FileKind string

const (
	KindPDF  FileKind = "pdf"
	KindDOCX FileKind = "docx"
	KindText FileKind = "txt"
)

var allowedExtensions = map[string]FileKind{
	".pdf":  KindPDF,
	".docx": KindDOCX,
	".txt":  KindText,
}

// KindFromFilename maps an upload's extension onto a FileKind.
func KindFromFilename(name string) (FileKind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if kind, ok := allowedExtensions[ext]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, ext)
}

// AllowedExtensions lists accepted upload extensions for error messages.
func AllowedExtensions() []string {
	return []string{".pdf", ".docx", ".txt"}
}

type Extractor interface {
	ExtractText(ctx context.Context, data []byte, kind FileKind) (string, error)
}

// Local extracts text in process, without any external service.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) ExtractText(ctx context.Context, data []byte, kind FileKind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = PDFText(data)
	case KindDOCX:
		text, err = DOCXText(data)
	case KindText:
		text, err = plainText(data)
	default:
		return "", extractionError(types.ErrUnsupportedFormat, "kind %q", kind)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no extractable text in %s", types.ErrExtraction, kind)
	}
	return text, nil
}

func plainText(data []byte) (string, error) {
	data = trimBOM(data)
	if !utf8.Valid(data) {
		return "", extractionError(types.ErrCorruptFile, "text file is not valid UTF-8")
	}
	return string(data), nil
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// extractionError wraps cause under ErrExtraction so both match errors.Is.
func extractionError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", types.ErrExtraction, cause, fmt.Sprintf(format, args...))
}

// Chain tries each extractor in turn and returns the first non-empty text.
// The last error is returned when all fail.
type Chain struct {
	extractors []Extractor
	logger     *slog.Logger
}

func NewChain(logger *slog.Logger, extractors ...Extractor) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{extractors: extractors, logger: logger}
}

func (c *Chain) ExtractText(ctx context.Context, data []byte, kind FileKind) (string, error) {
	lastErr := fmt.Errorf("%w: no extractor configured", types.ErrExtraction)
	for i, ex := range c.extractors {
		text, err := ex.ExtractText(ctx, data, kind)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, types.ErrUnsupportedFormat) && i < len(c.extractors)-1 {
			continue
		}
		c.logger.Warn("extractor failed", "kind", kind, "step", i, "error", err)
		lastErr = err
	}
	return "", lastErr
}
