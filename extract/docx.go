package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"contractrag/types"
)

const docxBody = "word/document.xml"

// DOCXText reads the main document part of a .docx archive. Paragraphs become
// lines; tabs and breaks are kept.
func DOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "open docx: %v", err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return "", extractionError(types.ErrCorruptFile, "docx has no %s", docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "open %s: %v", docxBody, err)
	}
	defer rc.Close()

	text, err := wordprocessingText(rc)
	if err != nil {
		return "", extractionError(types.ErrCorruptFile, "parse %s: %v", docxBody, err)
	}
	return text, nil
}

func wordprocessingText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}
