package extract

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// CropHeaderFooter trims top and bottom margins from every page so running
// headers and page numbers stay out of the text. Margins are in points.
func CropHeaderFooter(data []byte, top, bottom float64) ([]byte, error) {
	if top <= 0 && bottom <= 0 {
		return data, nil
	}

	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse crop box: %w", err)
	}

	var out bytes.Buffer
	if err := api.Crop(bytes.NewReader(data), &out, []string{"1-"}, box, pdfConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to crop PDF: %w", err)
	}
	return out.Bytes(), nil
}
