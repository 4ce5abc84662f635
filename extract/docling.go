package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"contractrag/types"
)

type DoclingResponse struct {
	Document struct {
		MdContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
}

// Docling converts documents through a docling-serve instance.
type Docling struct {
	baseURL    string
	cropTop    float64
	cropBottom float64
	client     *http.Client
}

func NewDocling(baseURL string, cropTop, cropBottom float64) *Docling {
	return &Docling{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cropTop:    cropTop,
		cropBottom: cropBottom,
		client:     &http.Client{},
	}
}

func (d *Docling) ExtractText(ctx context.Context, data []byte, kind FileKind) (string, error) {
	filename := "contract." + string(kind)
	switch kind {
	case KindPDF:
		cropped, err := CropHeaderFooter(data, d.cropTop, d.cropBottom)
		if err != nil {
			return "", extractionError(types.ErrCorruptFile, "%v", err)
		}
		data = cropped
	case KindDOCX:
	default:
		return "", extractionError(types.ErrUnsupportedFormat, "docling does not take %q", kind)
	}

	md, err := d.convert(ctx, filename, data)
	if err != nil {
		return "", err
	}
	text := FlattenMarkdown(md)
	if text == "" {
		return "", fmt.Errorf("%w: docling returned no text", types.ErrExtraction)
	}
	return text, nil
}

func (d *Docling) convert(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/v1/convert/file", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: docling: %v", types.ErrExtraction, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: docling: %v", types.ErrExtraction, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: docling status %d: %s", types.ErrExtraction, resp.StatusCode, truncate(body, 200))
	}

	var dr DoclingResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return "", fmt.Errorf("%w: docling response: %v", types.ErrExtraction, err)
	}
	return dr.Document.MdContent, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
