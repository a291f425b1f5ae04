package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/aihub/policyqa-go/internal/logger"
	"go.uber.org/zap"
)

// Fetcher 按URL下载文档并识别格式
type Fetcher struct {
	client *http.Client
}

// NewFetcher 创建文档下载器
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch 下载文档并返回带格式标签的Document
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperrors.NewInvalidInputError("document", "url is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewFetchError(rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.NewFetchError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.NewFetchError(rawURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewFetchError(rawURL, err)
	}

	format, err := SniffFormat(data, rawURL)
	if err != nil {
		return nil, err
	}

	logger.Debug("document fetched",
		zap.String("url", rawURL),
		zap.String("format", string(format)),
		zap.Int("bytes", len(data)))

	return &Document{
		URL:       rawURL,
		Bytes:     data,
		Format:    format,
		FetchedAt: time.Now(),
	}, nil
}

// SniffFormat 通过字节签名识别文档格式，扩展名仅作兜底
func SniffFormat(data []byte, rawURL string) (Format, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF, nil
	}
	// docx是zip容器，签名为PK
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return FormatWord, nil
	}
	if looksLikeEmail(data) {
		return FormatEmail, nil
	}

	switch urlExtension(rawURL) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx", ".doc":
		return FormatWord, nil
	case ".eml", ".msg":
		return FormatEmail, nil
	}

	return "", apperrors.NewUnsupportedFormatError(fmt.Sprintf("no known signature (url=%s)", rawURL))
}

// looksLikeEmail 检查内容是否以RFC822头部开始
func looksLikeEmail(data []byte) bool {
	head := data
	if len(head) > 2048 {
		head = head[:2048]
	}
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			return false
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "from:") ||
			strings.HasPrefix(lower, "subject:") ||
			strings.HasPrefix(lower, "received:") ||
			strings.HasPrefix(lower, "return-path:") {
			return true
		}
	}
	return false
}

func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(path.Ext(rawURL))
	}
	return strings.ToLower(path.Ext(parsed.Path))
}
