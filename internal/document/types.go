package document

import "time"

// Format 文档格式标签
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatWord  Format = "word"
	FormatEmail Format = "email"
)

// Document 已下载的原始文档，提取完成后即丢弃
type Document struct {
	URL       string
	Bytes     []byte
	Format    Format
	FetchedAt time.Time
}

// Segment 提取出的文本片段，带页码和字符偏移
type Segment struct {
	Text   string
	Page   int
	Offset int
}
