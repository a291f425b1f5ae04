package document

import (
	"bytes"
	"strings"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// PDFExtractor PDF文本提取器，每页至少产出一个Segment以保留页码引用
type PDFExtractor struct{}

func (p *PDFExtractor) Supports(format Format) bool {
	return format == FormatPDF
}

func (p *PDFExtractor) Extract(doc *Document) ([]Segment, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(doc.Bytes))
	if err != nil {
		return nil, apperrors.NewExtractionError("failed to open pdf", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, apperrors.NewExtractionError("failed to read pdf page count", err)
	}

	var segments []Segment
	offset := 0
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:   text,
			Page:   i,
			Offset: offset,
		})
		offset += len([]rune(text)) + 1
	}

	if len(segments) == 0 {
		return nil, apperrors.NewExtractionError("pdf contains no extractable text", nil)
	}
	return segments, nil
}
