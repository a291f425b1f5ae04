package document

import (
	"fmt"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
)

// Extractor 按格式提取文本片段的能力接口
type Extractor interface {
	Extract(doc *Document) ([]Segment, error)
	Supports(format Format) bool
}

// ExtractorManager 文本提取器管理器
type ExtractorManager struct {
	extractors []Extractor
}

// NewExtractorManager 创建提取器管理器
func NewExtractorManager() *ExtractorManager {
	return &ExtractorManager{
		extractors: []Extractor{
			&PDFExtractor{},
			&WordExtractor{},
			&EmailExtractor{},
		},
	}
}

// Extract 分发到匹配格式的提取器
func (m *ExtractorManager) Extract(doc *Document) ([]Segment, error) {
	if doc == nil || len(doc.Bytes) == 0 {
		return nil, apperrors.NewExtractionError("document is empty", nil)
	}
	for _, ex := range m.extractors {
		if ex.Supports(doc.Format) {
			segments, err := ex.Extract(doc)
			if err != nil {
				return nil, err
			}
			if len(segments) == 0 {
				return nil, apperrors.NewExtractionError("document produced no text", nil)
			}
			return segments, nil
		}
	}
	return nil, apperrors.NewUnsupportedFormatError(fmt.Sprintf("no extractor for format %q", doc.Format))
}
