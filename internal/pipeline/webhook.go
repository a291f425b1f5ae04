package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aihub/policyqa-go/internal/logger"
	"go.uber.org/zap"
)

// WebhookNotifier 结果回调通知器，发后即忘，不影响管道正确性
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier 创建回调通知器，url为空时禁用
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Timestamp string   `json:"timestamp"`
	Document  string   `json:"document"`
	Answers   []string `json:"answers"`
}

// Notify 异步投递答案批次，失败只记日志
func (w *WebhookNotifier) Notify(documentURL string, answers []string) {
	if w == nil || w.url == "" {
		return
	}

	payload := webhookPayload{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Document:  documentURL,
		Answers:   answers,
	}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("webhook payload marshal failed", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			logger.Warn("webhook request build failed", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			logger.Warn("webhook submission failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			logger.Warn("webhook submission rejected", zap.Int("status", resp.StatusCode))
			return
		}
		logger.Debug("webhook submission successful", zap.String("url", w.url))
	}()
}
