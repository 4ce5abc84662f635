package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"contractrag/types"
)

func pdfConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PDFText validates the document with pdfcpu, then decodes every page's
// shown text through its font encoding or ToUnicode map. Glyphs that map to
// no character are dropped rather than passed through as raw codes.
func PDFText(data []byte) (string, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), pdfConfiguration())
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "read pdf: %v", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return "", extractionError(types.ErrCorruptFile, "validate pdf: %v", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "open pdf: %v", err)
	}
	pages, err := pageTexts(r, ctx.PageCount)
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "decode pdf text: %v", err)
	}
	return strings.Join(pages, "\n\n"), nil
}

// pageTexts decodes pages 1..count, skipping pages without text. The
// decoder panics on some malformed page trees; that surfaces as an error.
func pageTexts(r *pdf.Reader, count int) (pages []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()

	for i := 1; i <= count; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		// nil fonts: resource names like /F1 are only unique per page.
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if text = cleanText(text); text != "" {
			pages = append(pages, text)
		}
	}
	return pages, nil
}

// cleanText keeps valid UTF-8 only and drops control characters and the
// replacement rune the decoder emits for unmapped codes.
func cleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r == unicode.ReplacementChar, unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
