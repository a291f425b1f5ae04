package document

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
)

// EmailExtractor 邮件提取器：头部作为首个片段，正文与文本附件依次追加
type EmailExtractor struct{}

func (e *EmailExtractor) Supports(format Format) bool {
	return format == FormatEmail
}

func (e *EmailExtractor) Extract(doc *Document) ([]Segment, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(doc.Bytes))
	if err != nil {
		return nil, apperrors.NewExtractionError("failed to parse email", err)
	}

	var segments []Segment
	offset := 0
	appendSegment := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		segments = append(segments, Segment{Text: text, Page: 1, Offset: offset})
		offset += len([]rune(text)) + 1
	}

	appendSegment(headerSummary(msg))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		parts, err := collectTextParts(msg.Body, params["boundary"])
		if err != nil {
			return nil, apperrors.NewExtractionError("failed to walk email parts", err)
		}
		for _, part := range parts {
			appendSegment(part)
		}
	} else {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return nil, apperrors.NewExtractionError("failed to read email body", err)
		}
		appendSegment(string(body))
	}

	if len(segments) == 0 {
		return nil, apperrors.NewExtractionError("email contains no text", nil)
	}
	return segments, nil
}

// headerSummary 保留常用头部作为可检索文本
func headerSummary(msg *mail.Message) string {
	var builder strings.Builder
	for _, key := range []string{"Subject", "From", "To", "Date"} {
		if value := msg.Header.Get(key); value != "" {
			builder.WriteString(fmt.Sprintf("%s: %s\n", key, value))
		}
	}
	return builder.String()
}

// collectTextParts 遍历multipart，收集文本正文与内嵌文本附件
func collectTextParts(body io.Reader, boundary string) ([]string, error) {
	if boundary == "" {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return []string{string(data)}, nil
	}

	var texts []string
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, parseErr := mime.ParseMediaType(contentType)
		if parseErr != nil {
			mediaType = "text/plain"
		}

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			nested, err := collectTextParts(part, params["boundary"])
			if err != nil {
				return nil, err
			}
			texts = append(texts, nested...)
		case strings.HasPrefix(mediaType, "text/"):
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, err
			}
			texts = append(texts, string(data))
		}
	}
	return texts, nil
}
