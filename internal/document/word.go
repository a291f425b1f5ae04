package document

import (
	"bytes"
	"strings"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/unidoc/unioffice/document"
)

// WordExtractor Word文档提取器（仅支持.docx容器）
type WordExtractor struct{}

func (w *WordExtractor) Supports(format Format) bool {
	return format == FormatWord
}

func (w *WordExtractor) Extract(doc *Document) ([]Segment, error) {
	readerAt := bytes.NewReader(doc.Bytes)
	wordDoc, err := document.Read(readerAt, int64(len(doc.Bytes)))
	if err != nil {
		return nil, apperrors.NewExtractionError("failed to parse word document", err)
	}
	defer wordDoc.Close()

	// Word无页码信息，统一记为第1页，按段落切分并记录偏移
	var segments []Segment
	offset := 0
	for _, para := range wordDoc.Paragraphs() {
		var builder strings.Builder
		for _, run := range para.Runs() {
			builder.WriteString(run.Text())
		}
		text := strings.TrimSpace(builder.String())
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:   text,
			Page:   1,
			Offset: offset,
		})
		offset += len([]rune(text)) + 1
	}

	if len(segments) == 0 {
		return nil, apperrors.NewExtractionError("word document contains no text", nil)
	}
	return segments, nil
}
