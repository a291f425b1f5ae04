package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/aihub/policyqa-go/internal/document"
)

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index       int
	Text        string
	Fingerprint string
	StartPage   int
	EndPage     int
}

// Chunker 文本分块器：滑动窗口 + 句边界贪心回退
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	tolerance    int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	tolerance := chunkSize / 5
	if tolerance < 1 {
		tolerance = 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		tolerance:    tolerance,
	}
}

type pageBoundary struct {
	start int // 拼接后文本中的起始rune偏移
	page  int
}

// Split 将片段序列切分为多个chunk，同一输入永远产出相同结果
func (c *Chunker) Split(segments []document.Segment) []Chunk {
	runes, boundaries := flattenSegments(segments)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.snapToSentence(runes, start, end)
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				Text:        text,
				Fingerprint: Fingerprint(text),
				StartPage:   pageAt(boundaries, start),
				EndPage:     pageAt(boundaries, end-1),
			})
		}

		if end == len(runes) {
			break
		}
		next := end - c.chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// snapToSentence 在 (end-tolerance, end] 内寻找最后一个句边界，找不到则硬切
func (c *Chunker) snapToSentence(runes []rune, start, end int) int {
	low := end - c.tolerance
	if low < start+1 {
		low = start + 1
	}
	for i := end - 1; i >= low; i-- {
		if isSentenceEnd(runes[i]) {
			// 边界字符归入当前chunk
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', ';', '；':
		return true
	}
	return false
}

// flattenSegments 拼接片段文本并记录页码边界
func flattenSegments(segments []document.Segment) ([]rune, []pageBoundary) {
	var runes []rune
	var boundaries []pageBoundary
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if len(runes) > 0 {
			runes = append(runes, '\n')
		}
		boundaries = append(boundaries, pageBoundary{start: len(runes), page: seg.Page})
		runes = append(runes, []rune(text)...)
	}
	return runes, boundaries
}

// pageAt 查找指定偏移所属的页码
func pageAt(boundaries []pageBoundary, offset int) int {
	if len(boundaries) == 0 {
		return 1
	}
	idx := sort.Search(len(boundaries), func(i int) bool {
		return boundaries[i].start > offset
	})
	if idx == 0 {
		return boundaries[0].page
	}
	return boundaries[idx-1].page
}

// NormalizeText 大小写与空白归一化，用于指纹和向量化前的稳定键
func NormalizeText(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	var prevSpace bool
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			builder.WriteRune(' ')
			prevSpace = true
			continue
		}
		builder.WriteRune(unicode.ToLower(r))
		prevSpace = false
	}

	return strings.TrimSpace(builder.String())
}

// Fingerprint 归一化文本的sha256指纹，作为缓存键与索引主键
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}
